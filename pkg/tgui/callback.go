package tgui

import (
	"strings"
)

// Data formats inline callback data as "action:payload".
// Payload is kept as-is (no escaping).
func Data(action, payload string) string {
	action = strings.TrimSpace(action)
	if payload == "" {
		return action
	}
	return action + ":" + payload
}

// Split parses "action:payload" callback data. Payload may itself contain
// colons; only the first separator is consumed.
func Split(data string) (action, payload string) {
	data = strings.TrimSpace(data)
	// Telegram may prepend "\f" to callback data set via telebot buttons.
	data = strings.TrimPrefix(data, "\f")
	if i := strings.IndexByte(data, ':'); i >= 0 {
		return data[:i], data[i+1:]
	}
	return data, ""
}
