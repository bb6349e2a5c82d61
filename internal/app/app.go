// Package app wires the process together: config, logging, storage,
// transports, publishers, scheduler and the update router.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"postbot/internal/config"
	"postbot/internal/dialog"
	"postbot/internal/platform/vk"
	"postbot/internal/publish"
	"postbot/internal/router"
	"postbot/internal/scheduler"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/internal/transport/telegram"
	"postbot/pkg/logx"
)

type App struct {
	cfgPath string
	cfg     *config.Config

	logSvc *logx.Service
	log    logx.Logger

	store storage.Store
	ad    *telegram.Adapter
	rt    *router.Router
	sched *scheduler.Service

	updates    chan kit.Update
	runCancel  context.CancelFunc
	routerDone chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(context.Background(), cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})

	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	poll, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	ad, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    poll,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	// VK is optional: without a token only Telegram destinations exist.
	var vkClient *vk.Client
	if cfg.VK.Token != "" {
		vkClient, err = vk.New(vk.Config{Token: cfg.VK.Token, APIBase: cfg.VK.APIBase},
			log.With(logx.String("comp", "vk")))
		if err != nil {
			_ = store.Close()
			_ = logSvc.Close()
			return nil, fmt.Errorf("vk client: %w", err)
		}
	} else {
		log.Info("vk token not set; vk platform disabled")
	}

	var wall publish.Wall
	if vkClient != nil {
		wall = vkClient
	}
	pubs := publish.NewRegistry(ad, ad, wall, log.With(logx.String("comp", "publish")))

	ttl, _ := config.ParseDurationOrDefault("dialog.session_ttl", cfg.Dialog.SessionTTL, config.DefaultSessionTTL)
	dlg := dialog.NewManager(ttl, log.With(logx.String("comp", "dialog")))

	defOffset := cfg.Dialog.DefaultTZOffset
	if defOffset == "" {
		defOffset = config.DefaultTZOffset
	}
	defLoc, err := config.ParseTZOffset(defOffset)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	rt := router.New(ad, store, dlg, pubs, defLoc, log.With(logx.String("comp", "router")))
	if vkClient != nil {
		rt.SetVKDirectory(vkClient, cfg.VK.GroupID)
	}

	tick, _ := config.ParseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, config.DefaultTick)
	sched := scheduler.New(scheduler.Config{Tick: tick}, store, pubs,
		log.With(logx.String("comp", "scheduler")))
	sched.AddSweep(func(now time.Time) { dlg.Sweep(now) })

	return &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		logSvc:  logSvc,
		log:     log,
		store:   store,
		ad:      ad,
		rt:      rt,
		sched:   sched,
		updates: make(chan kit.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	if err := a.ad.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}

	a.routerDone = make(chan struct{})
	go func() {
		defer close(a.routerDone)
		a.rt.Run(runCtx, a.updates)
	}()

	if err := a.sched.Start(runCtx); err != nil {
		cancel()
		return err
	}

	// Log level can be changed without a restart; everything else needs one.
	if err := config.Watch(runCtx, a.cfgPath, a.log.With(logx.String("comp", "config")), func(cfg *config.Config) {
		a.logSvc.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		})
	}); err != nil {
		a.log.Warn("config watch unavailable", logx.Err(err))
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("started")
	return nil
}

// Stop shuts down in dependency order: scheduler first so no publish is in
// flight, then the chat transport, then the store.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sched.Stop(ctx)

	if err := a.ad.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}

	if a.runCancel != nil {
		a.runCancel()
	}
	if a.routerDone != nil {
		select {
		case <-a.routerDone:
		case <-ctx.Done():
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logSvc.Close()
}
