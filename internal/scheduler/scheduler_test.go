package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbot/internal/publish"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

type fakeQueue struct {
	mu      sync.Mutex
	entries []storage.Schedule
	dueErr  error
	markErr error
	marked  []int64
	markAt  []time.Time
}

func (q *fakeQueue) DueSchedules(_ context.Context, now time.Time) ([]storage.Schedule, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dueErr != nil {
		return nil, q.dueErr
	}
	var out []storage.Schedule
	for _, e := range q.entries {
		if e.Due(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q *fakeQueue) MarkSent(_ context.Context, id int64, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.markErr != nil {
		return q.markErr
	}
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries[i].Sent = true
		}
	}
	q.marked = append(q.marked, id)
	q.markAt = append(q.markAt, at)
	return nil
}

func (q *fakeQueue) markedIDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.marked...)
}

type fakeRelayer struct {
	mu    sync.Mutex
	fail  bool
	delay time.Duration
	calls int
}

func (f *fakeRelayer) Relay(context.Context, kit.ChatTarget, kit.MessageRef) error {
	f.mu.Lock()
	f.calls++
	fail, delay := f.fail, f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return errors.New("unavailable")
	}
	return nil
}

func (f *fakeRelayer) CopyContent(context.Context, kit.ChatTarget, kit.MessageRef) error {
	return errors.New("unexpected copy")
}

func (f *fakeRelayer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func tgEntry(id int64, at time.Time) storage.Schedule {
	return storage.Schedule{
		ID: id, Platform: storage.PlatformTelegram,
		FromChatID: 100, MessageID: 7, TargetID: -1001, PublishAt: at,
	}
}

func TestTickDeliversDueEntries(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	relay := &fakeRelayer{}
	q := &fakeQueue{entries: []storage.Schedule{
		tgEntry(1, now.Add(-time.Minute)),
		tgEntry(2, now.Add(time.Hour)),
	}}
	s := New(Config{Tick: time.Second}, q, publish.NewRegistry(relay, nil, nil, logx.Nop()), logx.Nop())

	s.tick(context.Background(), now)

	assert.Equal(t, 1, relay.callCount())
	require.Equal(t, []int64{1}, q.markedIDs())
	assert.True(t, q.markAt[0].Equal(now), "delivery stamped with the tick's instant")

	// The delivered entry is out of the due set; the future one is still early.
	s.tick(context.Background(), now)
	assert.Equal(t, 1, relay.callCount())
}

func TestTickRetriesFailedEntry(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	relay := &fakeRelayer{fail: true}
	q := &fakeQueue{entries: []storage.Schedule{tgEntry(1, now.Add(-time.Minute))}}
	s := New(Config{Tick: time.Second}, q, publish.NewRegistry(relay, nil, nil, logx.Nop()), logx.Nop())

	s.tick(context.Background(), now)
	assert.Empty(t, q.markedIDs(), "failed delivery stays pending")

	relay.mu.Lock()
	relay.fail = false
	relay.mu.Unlock()

	s.tick(context.Background(), now.Add(time.Minute))
	assert.Equal(t, []int64{1}, q.markedIDs())
}

func TestTickSkipsUnconfiguredPlatform(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	relay := &fakeRelayer{}
	q := &fakeQueue{entries: []storage.Schedule{{
		ID: 1, Platform: storage.PlatformVK, TargetID: 5, PublishAt: now.Add(-time.Minute),
	}}}
	s := New(Config{Tick: time.Second}, q, publish.NewRegistry(relay, nil, nil, logx.Nop()), logx.Nop())

	s.tick(context.Background(), now)
	assert.Empty(t, q.markedIDs())
	assert.Zero(t, relay.callCount())
}

func TestTickAbsorbsQueueErrors(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	relay := &fakeRelayer{}
	reg := publish.NewRegistry(relay, nil, nil, logx.Nop())

	s := New(Config{Tick: time.Second}, &fakeQueue{dueErr: errors.New("db locked")}, reg, logx.Nop())
	s.tick(context.Background(), now) // must not panic

	q := &fakeQueue{
		entries: []storage.Schedule{tgEntry(1, now.Add(-time.Minute))},
		markErr: errors.New("db locked"),
	}
	s = New(Config{Tick: time.Second}, q, reg, logx.Nop())
	s.tick(context.Background(), now)
	assert.Equal(t, 1, relay.callCount())
}

func TestSlowTickDoesNotOverlap(t *testing.T) {
	t.Parallel()
	// The publisher outlasts several tick intervals; the entry stays
	// unmarked the whole time and an overlapping firing would re-read and
	// re-publish it.
	relay := &fakeRelayer{delay: 300 * time.Millisecond}
	q := &fakeQueue{entries: []storage.Schedule{tgEntry(1, time.Now().UTC().Add(-time.Minute))}}
	s := New(Config{Tick: 20 * time.Millisecond}, q, publish.NewRegistry(relay, nil, nil, logx.Nop()), logx.Nop())

	require.NoError(t, s.Start(context.Background()))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(q.markedIDs()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	// Let a few more intervals elapse after delivery.
	time.Sleep(100 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(stopCtx)

	assert.Equal(t, 1, relay.callCount(), "entry must be published exactly once")
	assert.Equal(t, []int64{1}, q.markedIDs())
}

func TestStartRunsTickAndSweeps(t *testing.T) {
	t.Parallel()
	relay := &fakeRelayer{}
	q := &fakeQueue{entries: []storage.Schedule{tgEntry(1, time.Now().UTC().Add(-time.Minute))}}
	s := New(Config{Tick: 20 * time.Millisecond}, q, publish.NewRegistry(relay, nil, nil, logx.Nop()), logx.Nop())

	var sweepMu sync.Mutex
	sweeps := 0
	s.AddSweep(func(time.Time) {
		sweepMu.Lock()
		sweeps++
		sweepMu.Unlock()
	})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "second start is a no-op")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sweepMu.Lock()
		swept := sweeps > 0
		sweepMu.Unlock()
		if len(q.markedIDs()) > 0 && swept {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, []int64{1}, q.markedIDs())
	sweepMu.Lock()
	assert.Positive(t, sweeps)
	sweepMu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(stopCtx)
	s.Stop(stopCtx) // idempotent
}
