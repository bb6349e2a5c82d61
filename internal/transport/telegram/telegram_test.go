package telegram

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

func TestClassifyRelayErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		err          error
		notRelayable bool
	}{
		{name: "nil", err: nil},
		{
			name:         "forward restricted",
			err:          tele.NewError(400, "Bad Request: the message can't be forwarded"),
			notRelayable: true,
		},
		{
			name:         "source deleted",
			err:          tele.NewError(400, "Bad Request: message to forward not found"),
			notRelayable: true,
		},
		{
			name:         "invalid message id",
			err:          tele.NewError(400, "Bad Request: MESSAGE_ID_INVALID"),
			notRelayable: true,
		},
		{name: "rate limited", err: tele.NewError(429, "Too Many Requests: retry after 5")},
		{name: "plain network error", err: errors.New("dial tcp: i/o timeout")},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classifyRelayErr(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			if tt.notRelayable {
				assert.ErrorIs(t, got, kit.ErrNotRelayable)
			} else {
				assert.NotErrorIs(t, got, kit.ErrNotRelayable)
				assert.Error(t, got)
			}
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	m := &tele.Message{
		ID:      5,
		Chat:    &tele.Chat{ID: 77},
		Sender:  &tele.User{ID: 42, Username: "op"},
		Caption: "caption text",
		Photo:   &tele.Photo{File: tele.File{FileID: "photo-1"}},

		OriginalChat:      &tele.Chat{ID: -100500},
		OriginalMessageID: 33,
	}

	out := decodeMessage(m)
	require.NotNil(t, out)
	assert.Equal(t, int64(42), out.FromID)
	assert.Equal(t, "caption text", out.Text, "caption stands in for empty text")
	assert.Equal(t, []string{"photo-1"}, out.Attachments)
	assert.True(t, out.Forwarded())
	assert.Equal(t, int64(-100500), out.ForwardChatID)
	assert.Equal(t, 33, out.ForwardMessageID)
}

func TestDecodeMessagePlainText(t *testing.T) {
	t.Parallel()

	out := decodeMessage(&tele.Message{
		ID:     6,
		Chat:   &tele.Chat{ID: 77},
		Sender: &tele.User{ID: 42},
		Text:   "/start",
	})
	assert.Equal(t, "/start", out.Text)
	assert.False(t, out.Forwarded())
	assert.Empty(t, out.Attachments)
}

func TestStoredMessage(t *testing.T) {
	t.Parallel()

	sm := storedMessage(kit.MessageRef{ChatID: -100500, MessageID: 33})
	assert.Equal(t, int64(-100500), sm.ChatID)
	assert.Equal(t, "33", sm.MessageID)
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Token: ""}, logx.Nop())
	require.Error(t, err)
}
