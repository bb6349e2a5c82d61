// Package router turns inbound transport updates into state machine
// advances, store mutations and replies. It owns the access gate checks;
// the dialog package stays policy-free.
package router

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"postbot/internal/config"
	"postbot/internal/dialog"
	"postbot/internal/publish"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

type Router struct {
	ad     kit.Adapter
	store  storage.Store
	dlg    *dialog.Manager
	pubs   *publish.Registry
	defLoc *time.Location
	log    logx.Logger

	// optional VK catalog source (nil when VK is disabled)
	vkDir     VKDirectory
	vkGroupID int64
}

func New(ad kit.Adapter, store storage.Store, dlg *dialog.Manager, pubs *publish.Registry, defLoc *time.Location, log logx.Logger) *Router {
	if defLoc == nil {
		defLoc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{ad: ad, store: store, dlg: dlg, pubs: pubs, defLoc: defLoc, log: log}
}

// Run consumes updates until ctx is done. Each update is one short
// sequential unit of work; a panic in a handler is absorbed so one bad
// update cannot take the consumer down.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			r.handle(ctx, up)
		}
	}
}

func (r *Router) handle(ctx context.Context, up kit.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in update handler",
				logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	var err error
	switch up.Kind {
	case kit.UpdateMessage:
		err = r.handleMessage(ctx, up.Message)
	case kit.UpdateCallback:
		err = r.handleCallback(ctx, up.Callback)
	case kit.UpdateChatMember:
		err = r.handleChatMember(ctx, up.ChatMember)
	}
	if err != nil {
		r.log.Warn("update failed",
			logx.String("kind", string(up.Kind)),
			logx.Duration("dur", time.Since(start)),
			logx.Err(err))
	}
}

func (r *Router) handleChatMember(ctx context.Context, cm *kit.ChatMember) error {
	if cm.Joined {
		if err := r.store.UpsertChannel(ctx, storage.Channel{ChatID: cm.ChatID, Title: cm.Title}); err != nil {
			return err
		}
		r.log.Info("channel tracked", logx.Int64("chat_id", cm.ChatID), logx.String("title", cm.Title))
		return nil
	}
	if err := r.store.DeleteChannel(ctx, cm.ChatID); err != nil {
		return err
	}
	r.log.Info("channel dropped", logx.Int64("chat_id", cm.ChatID))
	return nil
}

// ---- access gate ----

func (r *Router) user(ctx context.Context, id int64) (storage.User, bool) {
	u, err := r.store.GetUser(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.log.Error("user lookup failed", logx.Int64("user_id", id), logx.Err(err))
		}
		return storage.User{}, false
	}
	return u, true
}

func (r *Router) authorized(ctx context.Context, id int64) bool {
	u, ok := r.user(ctx, id)
	return ok && u.Status == storage.StatusApproved
}

func (r *Router) superadmin(ctx context.Context, id int64) bool {
	u, ok := r.user(ctx, id)
	return ok && u.Superadmin && u.Status == storage.StatusApproved
}

// userLoc resolves the user's display/input timezone offset.
func (r *Router) userLoc(ctx context.Context, id int64) *time.Location {
	u, ok := r.user(ctx, id)
	if !ok || strings.TrimSpace(u.TZOffset) == "" {
		return r.defLoc
	}
	loc, err := config.ParseTZOffset(u.TZOffset)
	if err != nil {
		return r.defLoc
	}
	return loc
}

func (r *Router) reply(ctx context.Context, userID int64, text string, opt *kit.SendOptions) {
	if _, err := r.ad.SendText(ctx, kit.ChatTarget{ChatID: userID}, text, opt); err != nil {
		r.log.Warn("reply failed", logx.Int64("user_id", userID), logx.Err(err))
	}
}
