package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"postbot/internal/dialog"
	"postbot/internal/platform/vk"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
	"postbot/pkg/tgui"
)

// Callback action tokens. Payload follows after ":" (see tgui.Data).
const (
	actPlatform    = "svc"
	actTGChannel   = "tgch"
	actVKGroup     = "vkgrp"
	actSendNow     = "sendnow"
	actDismiss     = "dismiss"
	actCancelEntry = "cancel"
	actReschedule  = "resched"
	actApprove     = "approve"
	actReject      = "reject"
)

const timePrompt = "Enter time (HH:MM or DD.MM.YYYY HH:MM)"

// VKDirectory lists postable VK communities for catalog refresh.
type VKDirectory interface {
	Groups(ctx context.Context, groupID int64) ([]vk.Group, error)
}

// SetVKDirectory wires the optional VK catalog source.
func (r *Router) SetVKDirectory(dir VKDirectory, groupID int64) {
	r.vkDir = dir
	r.vkGroupID = groupID
}

// handleForward starts a scheduling session from a forwarded channel post.
func (r *Router) handleForward(ctx context.Context, m *kit.Message) error {
	if !r.authorized(ctx, m.FromID) {
		r.reply(ctx, m.FromID, "Not authorized", nil)
		return nil
	}

	r.dlg.Begin(m.FromID, dialog.Draft{
		FromChatID:  m.ForwardChatID,
		MessageID:   m.ForwardMessageID,
		Text:        m.Text,
		Attachments: m.Attachments,
	})

	kb := tgui.NewInline().
		Row(tgui.Btn("Telegram", tgui.Data(actPlatform, "tg")))
	if r.pubs.HasVK() {
		kb.Row(tgui.Btn("VK", tgui.Data(actPlatform, "vk")))
	}
	kb.Row(tgui.Btn("Cancel", actDismiss))

	r.reply(ctx, m.FromID, "Choose platform", &kit.SendOptions{ReplyMarkupAdapter: kb.Markup()})
	return nil
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) error {
	// Acknowledge regardless of outcome so the client stops its spinner.
	defer func() {
		if err := r.ad.AnswerCallback(ctx, cb.ID, ""); err != nil {
			r.log.Debug("answer callback failed", logx.Err(err))
		}
	}()

	action, payload := tgui.Split(cb.Data)
	switch action {
	case actPlatform:
		return r.cbPlatform(ctx, cb.FromID, payload)
	case actTGChannel:
		return r.cbTGChannel(ctx, cb.FromID, payload)
	case actVKGroup:
		return r.cbVKGroup(ctx, cb.FromID, payload)
	case actSendNow:
		return r.cbSendNow(ctx, cb.FromID)
	case actDismiss:
		if r.dlg.Cancel(cb.FromID) {
			r.reply(ctx, cb.FromID, "Canceled", nil)
		}
		return nil
	case actCancelEntry:
		return r.cbCancelEntry(ctx, cb.FromID, payload)
	case actReschedule:
		return r.cbReschedule(ctx, cb.FromID, payload)
	case actApprove, actReject:
		if !r.superadmin(ctx, cb.FromID) {
			return nil
		}
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return nil
		}
		if action == actApprove {
			return r.approveUser(ctx, cb.FromID, id)
		}
		return r.rejectUser(ctx, cb.FromID, id)
	default:
		return nil
	}
}

func (r *Router) cbPlatform(ctx context.Context, userID int64, payload string) error {
	if !r.authorized(ctx, userID) {
		return nil
	}

	var platform storage.Platform
	switch payload {
	case "tg":
		platform = storage.PlatformTelegram
	case "vk":
		platform = storage.PlatformVK
	default:
		return nil
	}
	if !r.dlg.ChoosePlatform(userID, platform) {
		return nil
	}

	switch platform {
	case storage.PlatformTelegram:
		chans, err := r.store.ListChannels(ctx)
		if err != nil {
			return err
		}
		if len(chans) == 0 {
			r.dlg.Abort(userID)
			r.reply(ctx, userID, "No channels available", nil)
			return nil
		}
		kb := tgui.NewInline()
		for _, ch := range chans {
			kb.Row(tgui.Btn(ch.Title, tgui.Data(actTGChannel, strconv.FormatInt(ch.ChatID, 10))))
		}
		kb.Row(tgui.Btn("Cancel", actDismiss))
		r.reply(ctx, userID, "Choose channel", &kit.SendOptions{ReplyMarkupAdapter: kb.Markup()})

	case storage.PlatformVK:
		groups, err := r.store.ListVKGroups(ctx)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			r.dlg.Abort(userID)
			r.reply(ctx, userID, "No VK groups available (try /refresh_vkgroups)", nil)
			return nil
		}
		kb := tgui.NewInline()
		for _, g := range groups {
			kb.Row(tgui.Btn(g.Name, tgui.Data(actVKGroup, strconv.FormatInt(g.ID, 10))))
		}
		kb.Row(tgui.Btn("Cancel", actDismiss))
		r.reply(ctx, userID, "Choose group", &kit.SendOptions{ReplyMarkupAdapter: kb.Markup()})
	}
	return nil
}

func (r *Router) cbTGChannel(ctx context.Context, userID int64, payload string) error {
	chatID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return nil
	}

	// Cheap feasibility probe before committing the destination: a schedule
	// into a chat the bot cannot post to would fail silently forever.
	if err := r.ad.ProbeMember(ctx, chatID); err != nil {
		r.log.Info("destination probe failed", logx.Int64("chat_id", chatID), logx.Err(err))
		r.reply(ctx, userID, "Bot cannot post to that channel. Grant it admin rights and pick again.", nil)
		return nil
	}

	if _, ok := r.dlg.ChooseDestination(userID, chatID); !ok {
		return nil
	}
	r.promptTime(ctx, userID)
	return nil
}

func (r *Router) cbVKGroup(ctx context.Context, userID int64, payload string) error {
	groupID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return nil
	}
	if _, ok := r.dlg.ChooseDestination(userID, groupID); !ok {
		return nil
	}
	r.promptTime(ctx, userID)
	return nil
}

func (r *Router) promptTime(ctx context.Context, userID int64) {
	kb := tgui.NewInline().
		Row(tgui.Btn("Send now", actSendNow)).
		Row(tgui.Btn("Cancel", actDismiss))
	r.reply(ctx, userID, timePrompt, &kit.SendOptions{ReplyMarkupAdapter: kb.Markup()})
}

// cbSendNow publishes synchronously and persists nothing.
func (r *Router) cbSendNow(ctx context.Context, userID int64) error {
	st, ok := r.dlg.TakeImmediate(userID)
	if !ok {
		return nil
	}

	entry := storage.Schedule{
		Platform:    st.Platform,
		FromChatID:  st.Source.FromChatID,
		MessageID:   st.Source.MessageID,
		TargetID:    st.TargetID,
		Text:        st.Source.Text,
		Attachments: st.Source.Attachments,
		PublishAt:   time.Now().UTC(),
	}
	pub, ok := r.pubs.For(st.Platform)
	if !ok {
		r.reply(ctx, userID, "Platform is not configured", nil)
		return nil
	}
	if pub.Publish(ctx, entry) {
		r.reply(ctx, userID, "Posted", nil)
	} else {
		r.reply(ctx, userID, "Failed to post", nil)
	}
	return nil
}

func (r *Router) cbCancelEntry(ctx context.Context, userID int64, payload string) error {
	if !r.authorized(ctx, userID) {
		return nil
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return nil
	}
	if err := r.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	r.reply(ctx, userID, fmt.Sprintf("Schedule #%d canceled", id), nil)
	return nil
}

func (r *Router) cbReschedule(ctx context.Context, userID int64, payload string) error {
	if !r.authorized(ctx, userID) {
		return nil
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return nil
	}
	sc, err := r.store.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, userID, "Unknown schedule", nil)
			return nil
		}
		return err
	}
	if sc.Sent {
		r.reply(ctx, userID, "Already delivered", nil)
		return nil
	}
	r.dlg.BeginReschedule(userID, sc.ID, sc.Platform, sc.TargetID)
	r.reply(ctx, userID, timePrompt, nil)
	return nil
}

// handleTimeInput feeds a plain-text time into the session's terminal step.
func (r *Router) handleTimeInput(ctx context.Context, userID int64, text string) error {
	loc := r.userLoc(ctx, userID)
	out, err := r.dlg.SupplyTime(userID, text, loc, time.Now().UTC())
	switch {
	case errors.Is(err, dialog.ErrBadTimeFormat):
		r.reply(ctx, userID, "Invalid time format", nil)
		return nil
	case errors.Is(err, dialog.ErrPastTime):
		r.reply(ctx, userID, "Time must be in future", nil)
		return nil
	case errors.Is(err, dialog.ErrNoSession):
		return nil
	case err != nil:
		return err
	}

	display := out.PublishAt.In(loc).Format(displayTime)
	if out.NewEntry != nil {
		if _, err := r.store.CreateSchedule(ctx, out.NewEntry); err != nil {
			return err
		}
		r.reply(ctx, userID, fmt.Sprintf("Scheduled for %s", display), nil)
		return nil
	}

	if err := r.store.UpdatePublishAt(ctx, out.RescheduleID, out.PublishAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, userID, "Unknown schedule", nil)
			return nil
		}
		return err
	}
	r.reply(ctx, userID, fmt.Sprintf("Rescheduled for %s", display), nil)
	return nil
}

func (r *Router) cmdRefreshVKGroups(ctx context.Context, userID int64) error {
	if r.vkDir == nil {
		r.reply(ctx, userID, "VK is not configured", nil)
		return nil
	}
	groups, err := r.vkDir.Groups(ctx, r.vkGroupID)
	if err != nil {
		r.log.Warn("vk group refresh failed", logx.Err(err))
		r.reply(ctx, userID, "VK refresh failed", nil)
		return nil
	}
	out := make([]storage.VKGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, storage.VKGroup{ID: g.ID, Name: g.Name})
	}
	if err := r.store.ReplaceVKGroups(ctx, out); err != nil {
		return err
	}
	r.reply(ctx, userID, fmt.Sprintf("VK groups: %d", len(out)), nil)
	return nil
}

// destTitles resolves destination ids to display names for listings.
type destTitles struct {
	channels map[int64]string
	vkGroups map[int64]string
}

func (t destTitles) name(sc storage.Schedule) string {
	var title string
	switch sc.Platform {
	case storage.PlatformTelegram:
		title = t.channels[sc.TargetID]
	case storage.PlatformVK:
		title = t.vkGroups[sc.TargetID]
	}
	if title == "" {
		return strconv.FormatInt(sc.TargetID, 10)
	}
	return title
}

func (r *Router) destinationTitles(ctx context.Context) destTitles {
	t := destTitles{channels: map[int64]string{}, vkGroups: map[int64]string{}}
	if chans, err := r.store.ListChannels(ctx); err == nil {
		for _, ch := range chans {
			t.channels[ch.ChatID] = ch.Title
		}
	}
	if groups, err := r.store.ListVKGroups(ctx); err == nil {
		for _, g := range groups {
			t.vkGroups[g.ID] = g.Name
		}
	}
	return t
}
