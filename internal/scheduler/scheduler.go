// Package scheduler drives publication forward over time: a fixed-interval
// tick drains due entries from the store through the per-platform
// publishers. Failed entries stay pending and are retried every tick,
// indefinitely and without backoff.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"postbot/internal/publish"
	"postbot/internal/storage"
	"postbot/pkg/logx"
)

type Config struct {
	// Tick is the polling interval for due entries.
	Tick time.Duration
	// SweepEvery runs the registered sweep jobs (session expiry).
	// Defaults to Tick when zero.
	SweepEvery time.Duration
}

// Queue is the slice of the store the loop needs.
type Queue interface {
	DueSchedules(ctx context.Context, now time.Time) ([]storage.Schedule, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
}

type Service struct {
	cfg   Config
	queue Queue
	reg   *publish.Registry
	log   logx.Logger

	// sweeps run on their own schedule as peers of the publish tick.
	sweeps []func(now time.Time)

	mu        sync.Mutex
	c         *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, queue Queue, reg *publish.Registry, log logx.Logger) *Service {
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = cfg.Tick
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, queue: queue, reg: reg, log: log}
}

// AddSweep registers a periodic housekeeping job (e.g. session expiry).
// Must be called before Start.
func (s *Service) AddSweep(fn func(now time.Time)) {
	s.sweeps = append(s.sweeps, fn)
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	// A tick can outlast the interval (slow platform call, post-downtime
	// backlog); firings must not overlap or an unmarked entry would be
	// read and published twice.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	tickSpec := fmt.Sprintf("@every %s", s.cfg.Tick)
	if _, err := c.AddFunc(tickSpec, func() { s.tick(runCtx, time.Now().UTC()) }); err != nil {
		s.runCancel()
		s.runCtx, s.runCancel = nil, nil
		return err
	}
	if len(s.sweeps) > 0 {
		sweepSpec := fmt.Sprintf("@every %s", s.cfg.SweepEvery)
		if _, err := c.AddFunc(sweepSpec, func() {
			now := time.Now().UTC()
			for _, fn := range s.sweeps {
				fn(now)
			}
		}); err != nil {
			s.runCancel()
			s.runCtx, s.runCancel = nil, nil
			return err
		}
	}
	c.Start()
	s.c = c

	s.log.Info("scheduler started", logx.Duration("tick", s.cfg.Tick))
	return nil
}

// Stop halts the tick and waits for an in-flight tick to finish.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx, s.runCancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	stopped := c.Stop() // waits for running jobs via its context
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
	s.log.Info("scheduler stopped")
}

// tick processes every due entry sequentially in publish-time order.
// An entry is marked delivered only after its publisher reports success,
// which structurally prevents double delivery: the mark removes it from all
// future due reads.
func (s *Service) tick(ctx context.Context, now time.Time) {
	due, err := s.queue.DueSchedules(ctx, now)
	if err != nil {
		s.log.Error("due query failed", logx.Err(err))
		return
	}
	if len(due) == 0 {
		return
	}
	s.log.Debug("processing due entries", logx.Int("count", len(due)))

	for _, entry := range due {
		if ctx.Err() != nil {
			return
		}
		pub, ok := s.reg.For(entry.Platform)
		if !ok {
			s.log.Error("no publisher for platform; entry left pending",
				logx.Int64("id", entry.ID), logx.String("platform", string(entry.Platform)))
			continue
		}
		if !pub.Publish(ctx, entry) {
			// Stays pending; retried next tick.
			continue
		}
		if err := s.queue.MarkSent(ctx, entry.ID, now); err != nil {
			s.log.Error("mark sent failed", logx.Int64("id", entry.ID), logx.Err(err))
			continue
		}
		s.log.Info("entry delivered",
			logx.Int64("id", entry.ID),
			logx.String("platform", string(entry.Platform)),
			logx.Int64("target", entry.TargetID))
	}
}
