package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: not found")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Platform tags a delivery destination. The set is closed; publishers
// dispatch exhaustively over it.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformVK       Platform = "vk"
)

// UserStatus tracks the approval workflow.
type UserStatus string

const (
	StatusPending  UserStatus = "pending"
	StatusApproved UserStatus = "approved"
	StatusRejected UserStatus = "rejected"
)

type User struct {
	ID         int64
	Username   string
	Superadmin bool
	Status     UserStatus
	// TZOffset is a signed "HH:MM" string; empty means the process default.
	TZOffset string
}

// Channel is a Telegram chat the bot administers (destination catalog).
type Channel struct {
	ChatID int64
	Title  string
}

// VKGroup is a VK community the token can post to (destination catalog).
type VKGroup struct {
	ID   int64
	Name string
}

// Schedule is one planned or completed delivery.
//
// Invariants:
//   - SentAt is non-nil if and only if Sent is true.
//   - PublishAt is stored in UTC and is immutable once Sent.
type Schedule struct {
	ID          int64
	Platform    Platform
	FromChatID  int64 // source chat; 0 when the entry carries literal content only
	MessageID   int   // source message id
	TargetID    int64 // channel chat id (telegram) or group id (vk)
	Text        string
	Attachments []string // telegram file ids, ordered
	PublishAt   time.Time
	Sent        bool
	SentAt      *time.Time
}

// Due reports whether the entry should be published at now.
func (s Schedule) Due(now time.Time) bool {
	return !s.Sent && !s.PublishAt.After(now)
}
