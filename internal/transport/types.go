package transport

import (
	"context"
	"errors"
)

// ErrNotRelayable is the specific failure class "source message no longer
// relayable by reference". Publishers fall back to a content copy on it;
// any other error is terminal for the attempt.
var ErrNotRelayable = errors.New("transport: message not relayable")

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateCallback   UpdateKind = "callback"
	UpdateChatMember UpdateKind = "chat_member"
)

type Update struct {
	Kind       UpdateKind
	Message    *Message
	Callback   *Callback
	ChatMember *ChatMember
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string // text or media caption

	// Forward source; zero when the message is not a channel forward.
	ForwardChatID    int64
	ForwardMessageID int

	// Attachments are platform file references (photo file ids), ordered.
	Attachments []string
}

// Forwarded reports whether the message carries a forward-source reference.
func (m *Message) Forwarded() bool {
	return m.ForwardChatID != 0 && m.ForwardMessageID != 0
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// ChatMember reports the bot's own membership change in a chat.
type ChatMember struct {
	ChatID int64
	Title  string
	// Joined is true for administrator/creator roles, false when the bot
	// left or was removed.
	Joined bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Adapter is the chat-platform boundary the core talks through.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// Relay forwards src to the destination preserving the origin reference.
	// Returns ErrNotRelayable for the "cannot forward this item" class.
	Relay(ctx context.Context, to ChatTarget, src MessageRef) error
	// CopyContent recreates src at the destination without reference semantics.
	CopyContent(ctx context.Context, to ChatTarget, src MessageRef) error

	// Download fetches the binary behind a file reference.
	Download(ctx context.Context, fileID string) ([]byte, error)

	// ProbeMember reports whether the bot can post into the chat.
	// Used as the cheap relay-feasibility check at destination selection.
	ProbeMember(ctx context.Context, chatID int64) error
}
