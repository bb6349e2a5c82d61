// Package dialog is the per-user scheduling conversation: forward a post,
// pick a platform, pick a destination, pick a time (or send now).
//
// A session is a tagged state; each variant carries exactly the fields that
// are valid at its step. Idle is the absence of a session, not a variant.
package dialog

import (
	"sync"
	"time"

	"postbot/internal/storage"
	"postbot/pkg/logx"
)

// Draft is the content captured when the user forwards a post.
type Draft struct {
	FromChatID  int64
	MessageID   int
	Text        string
	Attachments []string
}

// State is the sealed set of session steps.
type State interface{ step() string }

// AwaitingPlatform waits for the user to choose a destination platform.
type AwaitingPlatform struct {
	Source Draft
}

// AwaitingDestination waits for a destination on the chosen platform.
type AwaitingDestination struct {
	Source   Draft
	Platform storage.Platform
}

// AwaitingTime waits for a publish time (or "send now").
//
// RescheduleID, when non-zero, means the session edits the publish time of
// an existing entry; Source is zero then, the two origins are mutually
// exclusive.
type AwaitingTime struct {
	Source       Draft
	Platform     storage.Platform
	TargetID     int64
	RescheduleID int64
}

func (AwaitingPlatform) step() string    { return "awaiting-platform" }
func (AwaitingDestination) step() string { return "awaiting-destination" }
func (AwaitingTime) step() string        { return "awaiting-time" }

type session struct {
	state    State
	lastSeen time.Time
}

// Manager is the in-memory session table: at most one live session per
// user, mutated only by that user's own updates plus the expiry sweep.
type Manager struct {
	ttl time.Duration
	log logx.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

func NewManager(ttl time.Duration, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		ttl:      ttl,
		log:      log,
		sessions: make(map[int64]*session),
	}
}

// Begin starts a fresh scheduling session from a forwarded post, replacing
// any session the user had.
func (m *Manager) Begin(userID int64, src Draft) {
	m.put(userID, AwaitingPlatform{Source: src})
}

// BeginReschedule starts a session that edits an existing entry's time.
func (m *Manager) BeginReschedule(userID, entryID int64, platform storage.Platform, targetID int64) {
	m.put(userID, AwaitingTime{Platform: platform, TargetID: targetID, RescheduleID: entryID})
}

func (m *Manager) put(userID int64, st State) {
	m.mu.Lock()
	m.sessions[userID] = &session{state: st, lastSeen: time.Now()}
	m.mu.Unlock()
}

// State returns the user's current step, or (nil, false) when idle.
func (m *Manager) State(userID int64) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, false
	}
	return s.state, true
}

// ChoosePlatform advances AwaitingPlatform -> AwaitingDestination.
// Returns false when the user is not at the platform step.
func (m *Manager) ChoosePlatform(userID int64, p storage.Platform) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return false
	}
	st, ok := s.state.(AwaitingPlatform)
	if !ok {
		return false
	}
	s.state = AwaitingDestination{Source: st.Source, Platform: p}
	s.lastSeen = time.Now()
	return true
}

// ChooseDestination advances AwaitingDestination -> AwaitingTime.
func (m *Manager) ChooseDestination(userID, targetID int64) (storage.Platform, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return "", false
	}
	st, ok := s.state.(AwaitingDestination)
	if !ok {
		return "", false
	}
	s.state = AwaitingTime{Source: st.Source, Platform: st.Platform, TargetID: targetID}
	s.lastSeen = time.Now()
	return st.Platform, true
}

// TakeImmediate consumes an AwaitingTime session for the "send now" path.
// Reschedule sessions have no immediate path.
func (m *Manager) TakeImmediate(userID int64) (AwaitingTime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return AwaitingTime{}, false
	}
	st, ok := s.state.(AwaitingTime)
	if !ok || st.RescheduleID != 0 {
		return AwaitingTime{}, false
	}
	delete(m.sessions, userID)
	return st, true
}

// Cancel drops the user's session from any step.
func (m *Manager) Cancel(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[userID]; !ok {
		return false
	}
	delete(m.sessions, userID)
	return true
}

// Abort is Cancel for internal failures (e.g. empty destination catalog).
func (m *Manager) Abort(userID int64) { m.Cancel(userID) }

// Sweep expires sessions idle longer than the TTL. Wired as a peer of the
// scheduler tick; a zero TTL disables expiry.
func (m *Manager) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if now.Sub(s.lastSeen) > m.ttl {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		m.log.Debug("expired idle sessions", logx.Int("count", n))
	}
	return n
}
