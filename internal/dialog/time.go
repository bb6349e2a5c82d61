package dialog

import (
	"errors"
	"strings"
	"time"

	"postbot/internal/storage"
)

var (
	// ErrNoSession means the user has no session at the time step.
	ErrNoSession = errors.New("dialog: no session awaiting time")
	// ErrBadTimeFormat is an input error; the session stays at its step.
	ErrBadTimeFormat = errors.New("dialog: unrecognized time format")
	// ErrPastTime is an input error; the session stays at its step.
	ErrPastTime = errors.New("dialog: time is not in the future")
)

const (
	layoutClock = "15:04"
	layoutFull  = "02.01.2006 15:04"
)

// Outcome is the terminal result of a completed session: exactly one new
// entry, or exactly one reschedule of an existing entry.
type Outcome struct {
	NewEntry     *storage.Schedule
	RescheduleID int64
	PublishAt    time.Time
}

// SupplyTime feeds the user's time string into an AwaitingTime session.
//
// Input errors (format, past instant) leave the session in place so the
// user can correct it; on success the session is destroyed and the outcome
// carries either a ready-to-persist entry or the reschedule target.
func (m *Manager) SupplyTime(userID int64, raw string, loc *time.Location, now time.Time) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return Outcome{}, ErrNoSession
	}
	st, ok := s.state.(AwaitingTime)
	if !ok {
		return Outcome{}, ErrNoSession
	}
	s.lastSeen = time.Now()

	at, err := ParsePublishTime(raw, loc, now)
	if err != nil {
		return Outcome{}, err
	}

	delete(m.sessions, userID)

	if st.RescheduleID != 0 {
		return Outcome{RescheduleID: st.RescheduleID, PublishAt: at}, nil
	}
	return Outcome{
		PublishAt: at,
		NewEntry: &storage.Schedule{
			Platform:    st.Platform,
			FromChatID:  st.Source.FromChatID,
			MessageID:   st.Source.MessageID,
			TargetID:    st.TargetID,
			Text:        st.Source.Text,
			Attachments: st.Source.Attachments,
			PublishAt:   at,
		},
	}, nil
}

// ParsePublishTime parses "HH:MM" (today in the user's offset) or
// "DD.MM.YYYY HH:MM", converts to UTC, and rejects instants that are not
// strictly in the future.
func ParsePublishTime(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if loc == nil {
		loc = time.UTC
	}

	var local time.Time
	if strings.ContainsRune(s, ' ') {
		t, err := time.ParseInLocation(layoutFull, s, loc)
		if err != nil {
			return time.Time{}, ErrBadTimeFormat
		}
		local = t
	} else {
		t, err := time.ParseInLocation(layoutClock, s, loc)
		if err != nil {
			return time.Time{}, ErrBadTimeFormat
		}
		today := now.In(loc)
		local = time.Date(today.Year(), today.Month(), today.Day(),
			t.Hour(), t.Minute(), 0, 0, loc)
	}

	at := local.UTC()
	if !at.After(now) {
		return time.Time{}, ErrPastTime
	}
	return at, nil
}
