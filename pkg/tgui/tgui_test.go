package tgui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataAndSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		data    string
		action  string
		payload string
	}{
		{data: "svc:tg", action: "svc", payload: "tg"},
		{data: "tgch:-1001234", action: "tgch", payload: "-1001234"},
		{data: "sendnow", action: "sendnow", payload: ""},
		{data: "\fcancel:17", action: "cancel", payload: "17"},
		{data: "x:a:b:c", action: "x", payload: "a:b:c"},
		{data: "  svc:vk  ", action: "svc", payload: "vk"},
		{data: "", action: "", payload: ""},
	}
	for _, tt := range tests {
		action, payload := Split(tt.data)
		assert.Equal(t, tt.action, action, "data %q", tt.data)
		assert.Equal(t, tt.payload, payload, "data %q", tt.data)
	}

	assert.Equal(t, "svc:tg", Data("svc", "tg"))
	assert.Equal(t, "sendnow", Data("sendnow", ""))
	assert.Equal(t, "resched:17", Data(" resched ", "17"))
}

func TestInlineBuilder(t *testing.T) {
	t.Parallel()

	kb := NewInline().
		Row(Btn("Telegram", "svc:tg"), Btn("VK", "svc:vk")).
		Row(Btn("Cancel", "dismiss"))

	rm := kb.Markup()
	require.NotNil(t, rm)
	require.Len(t, rm.InlineKeyboard, 2)
	require.Len(t, rm.InlineKeyboard[0], 2)

	assert.Equal(t, "Telegram", rm.InlineKeyboard[0][0].Text)
	assert.Equal(t, "svc:tg", rm.InlineKeyboard[0][0].Data)
	assert.Equal(t, "dismiss", rm.InlineKeyboard[1][0].Data)
}
