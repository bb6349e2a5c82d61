package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"postbot/internal/config"
	"postbot/internal/dialog"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
	"postbot/pkg/tgui"
)

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) error {
	text := strings.TrimSpace(m.Text)

	if strings.HasPrefix(text, "/") {
		return r.handleCommand(ctx, m, text)
	}

	// A live AwaitingTime session claims any plain text as a time string.
	if st, ok := r.dlg.State(m.FromID); ok {
		if _, awaiting := st.(dialog.AwaitingTime); awaiting {
			return r.handleTimeInput(ctx, m.FromID, text)
		}
	}

	// A forwarded channel post starts a scheduling session.
	if m.Forwarded() {
		return r.handleForward(ctx, m)
	}
	return nil
}

func (r *Router) handleCommand(ctx context.Context, m *kit.Message, text string) error {
	cmd, args, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@") // strip bot mention
	args = strings.TrimSpace(args)

	switch cmd {
	case "/start":
		return r.cmdStart(ctx, m)
	case "/tz":
		return r.cmdTZ(ctx, m.FromID, args)
	case "/pending":
		return r.adminOnly(ctx, m.FromID, func() error { return r.cmdPending(ctx, m.FromID) })
	case "/approve":
		return r.adminOnly(ctx, m.FromID, func() error { return r.cmdApprove(ctx, m.FromID, args) })
	case "/reject":
		return r.adminOnly(ctx, m.FromID, func() error { return r.cmdReject(ctx, m.FromID, args) })
	case "/remove_user":
		return r.adminOnly(ctx, m.FromID, func() error { return r.cmdRemoveUser(ctx, m.FromID, args) })
	case "/list_users":
		return r.adminOnly(ctx, m.FromID, func() error { return r.cmdListUsers(ctx, m.FromID) })
	case "/channels":
		return r.authOnly(ctx, m.FromID, func() error { return r.cmdChannels(ctx, m.FromID) })
	case "/refresh_vkgroups":
		return r.authOnly(ctx, m.FromID, func() error { return r.cmdRefreshVKGroups(ctx, m.FromID) })
	case "/scheduled":
		return r.authOnly(ctx, m.FromID, func() error { return r.cmdScheduled(ctx, m.FromID) })
	case "/history":
		return r.authOnly(ctx, m.FromID, func() error { return r.cmdHistory(ctx, m.FromID) })
	case "/cancel":
		if r.dlg.Cancel(m.FromID) {
			r.reply(ctx, m.FromID, "Canceled", nil)
		}
		return nil
	default:
		return nil
	}
}

func (r *Router) adminOnly(ctx context.Context, userID int64, fn func() error) error {
	if !r.superadmin(ctx, userID) {
		r.reply(ctx, userID, "Not authorized", nil)
		return nil
	}
	return fn()
}

func (r *Router) authOnly(ctx context.Context, userID int64, fn func() error) error {
	if !r.authorized(ctx, userID) {
		r.reply(ctx, userID, "Not authorized", nil)
		return nil
	}
	return fn()
}

// cmdStart registers users: the very first caller becomes the superadmin,
// everyone else lands in the pending queue until approved.
func (r *Router) cmdStart(ctx context.Context, m *kit.Message) error {
	if u, ok := r.user(ctx, m.FromID); ok {
		switch u.Status {
		case storage.StatusApproved:
			r.reply(ctx, m.FromID, "Bot is working", nil)
		case storage.StatusRejected:
			r.reply(ctx, m.FromID, "Access denied by administrator", nil)
		default:
			r.reply(ctx, m.FromID, "Registration pending approval", nil)
		}
		return nil
	}

	all, err := r.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	nu := storage.User{ID: m.FromID, Username: m.FromUsername, Status: storage.StatusPending}
	if len(all) == 0 {
		nu.Superadmin = true
		nu.Status = storage.StatusApproved
	}
	if err := r.store.CreateUser(ctx, nu); err != nil {
		return err
	}
	if nu.Superadmin {
		r.reply(ctx, m.FromID, "You are superadmin", nil)
	} else {
		r.reply(ctx, m.FromID, "Registration pending approval", nil)
	}
	return nil
}

func (r *Router) cmdTZ(ctx context.Context, userID int64, args string) error {
	if _, ok := r.user(ctx, userID); !ok {
		r.reply(ctx, userID, "Not authorized", nil)
		return nil
	}
	if _, err := config.ParseTZOffset(args); err != nil {
		r.reply(ctx, userID, "Usage: /tz +HH:MM (e.g. /tz +03:00)", nil)
		return nil
	}
	if err := r.store.SetUserTZ(ctx, userID, args); err != nil {
		return err
	}
	r.reply(ctx, userID, fmt.Sprintf("Timezone set to %s", args), nil)
	return nil
}

func (r *Router) cmdPending(ctx context.Context, adminID int64) error {
	pending, err := r.store.ListUsersByStatus(ctx, storage.StatusPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		r.reply(ctx, adminID, "No pending users", nil)
		return nil
	}
	for _, u := range pending {
		kb := tgui.NewInline().
			Row(
				tgui.Btn("Approve", tgui.Data(actApprove, strconv.FormatInt(u.ID, 10))),
				tgui.Btn("Reject", tgui.Data(actReject, strconv.FormatInt(u.ID, 10))),
			)
		r.reply(ctx, adminID, userLink(u),
			&kit.SendOptions{ParseMode: "Markdown", ReplyMarkupAdapter: kb.Markup()})
	}
	return nil
}

func (r *Router) cmdApprove(ctx context.Context, adminID int64, args string) error {
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		r.reply(ctx, adminID, "Usage: /approve <user_id>", nil)
		return nil
	}
	return r.approveUser(ctx, adminID, id)
}

func (r *Router) approveUser(ctx context.Context, adminID, id int64) error {
	if err := r.store.SetUserStatus(ctx, id, storage.StatusApproved); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, adminID, "Unknown user", nil)
			return nil
		}
		return err
	}
	r.reply(ctx, adminID, fmt.Sprintf("User %d approved", id), nil)
	r.reply(ctx, id, "You were approved. Forward a post to schedule it.", nil)
	return nil
}

func (r *Router) cmdReject(ctx context.Context, adminID int64, args string) error {
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		r.reply(ctx, adminID, "Usage: /reject <user_id>", nil)
		return nil
	}
	return r.rejectUser(ctx, adminID, id)
}

func (r *Router) rejectUser(ctx context.Context, adminID, id int64) error {
	if err := r.store.SetUserStatus(ctx, id, storage.StatusRejected); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, adminID, "Unknown user", nil)
			return nil
		}
		return err
	}
	r.reply(ctx, adminID, fmt.Sprintf("User %d rejected", id), nil)
	return nil
}

func (r *Router) cmdRemoveUser(ctx context.Context, adminID int64, args string) error {
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		r.reply(ctx, adminID, "Usage: /remove_user <user_id>", nil)
		return nil
	}
	if err := r.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	r.reply(ctx, adminID, fmt.Sprintf("User %d removed", id), nil)
	return nil
}

func (r *Router) cmdListUsers(ctx context.Context, adminID int64) error {
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		r.reply(ctx, adminID, "No users", nil)
		return nil
	}
	lines := make([]string, 0, len(users))
	for _, u := range users {
		line := userLink(u)
		switch {
		case u.Superadmin:
			line += " (admin)"
		case u.Status != storage.StatusApproved:
			line += " (" + string(u.Status) + ")"
		}
		lines = append(lines, line)
	}
	r.reply(ctx, adminID, strings.Join(lines, "\n"), &kit.SendOptions{ParseMode: "Markdown"})
	return nil
}

func (r *Router) cmdChannels(ctx context.Context, userID int64) error {
	chans, err := r.store.ListChannels(ctx)
	if err != nil {
		return err
	}
	if len(chans) == 0 {
		r.reply(ctx, userID, "No channels", nil)
		return nil
	}
	lines := make([]string, 0, len(chans))
	for _, ch := range chans {
		lines = append(lines, fmt.Sprintf("%s (%d)", ch.Title, ch.ChatID))
	}
	r.reply(ctx, userID, strings.Join(lines, "\n"), nil)
	return nil
}

func (r *Router) cmdScheduled(ctx context.Context, userID int64) error {
	pending, err := r.store.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		r.reply(ctx, userID, "Nothing scheduled", nil)
		return nil
	}
	loc := r.userLoc(ctx, userID)
	titles := r.destinationTitles(ctx)

	for _, sc := range pending {
		// Preview: relay the source post back to the operator when possible.
		if sc.FromChatID != 0 && sc.MessageID != 0 {
			src := kit.MessageRef{ChatID: sc.FromChatID, MessageID: sc.MessageID}
			if err := r.ad.Relay(ctx, kit.ChatTarget{ChatID: userID}, src); err != nil {
				r.log.Debug("preview relay failed", logx.Int64("id", sc.ID), logx.Err(err))
			}
		}

		idStr := strconv.FormatInt(sc.ID, 10)
		kb := tgui.NewInline().
			Row(
				tgui.Btn("Cancel", tgui.Data(actCancelEntry, idStr)),
				tgui.Btn("Reschedule", tgui.Data(actReschedule, idStr)),
			)
		r.reply(ctx, userID, describeSchedule(sc, loc, titles),
			&kit.SendOptions{ReplyMarkupAdapter: kb.Markup()})
	}
	return nil
}

func (r *Router) cmdHistory(ctx context.Context, userID int64) error {
	done, err := r.store.ListDelivered(ctx, 10)
	if err != nil {
		return err
	}
	if len(done) == 0 {
		r.reply(ctx, userID, "No history", nil)
		return nil
	}
	loc := r.userLoc(ctx, userID)
	titles := r.destinationTitles(ctx)
	lines := make([]string, 0, len(done))
	for _, sc := range done {
		at := ""
		if sc.SentAt != nil {
			at = sc.SentAt.In(loc).Format(displayTime)
		}
		lines = append(lines, fmt.Sprintf("%s -> %s at %s",
			string(sc.Platform), titles.name(sc), at))
	}
	r.reply(ctx, userID, strings.Join(lines, "\n"), nil)
	return nil
}

const displayTime = "15:04 02.01.2006"

// userLink renders a Markdown mention so admins can open the profile.
func userLink(u storage.User) string {
	name := u.Username
	if name == "" {
		name = strconv.FormatInt(u.ID, 10)
	}
	return fmt.Sprintf("[%s](tg://user?id=%d)", name, u.ID)
}

func describeSchedule(sc storage.Schedule, loc *time.Location, titles destTitles) string {
	return fmt.Sprintf("#%d %s -> %s", sc.ID,
		sc.PublishAt.In(loc).Format(displayTime), titles.name(sc))
}
