package telegram

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendRatePerSec caps outbound API calls; 0 means 20/s.
	SendRatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	stopped chan struct{}

	limiter *rate.Limiter

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 20
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	onMessage := func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: decodeMessage(m)})
		return nil
	}

	// Forwarded posts arrive on the endpoint of their media type,
	// so every content endpoint funnels into the same decoder.
	for _, ep := range []string{
		tele.OnText, tele.OnPhoto, tele.OnVideo, tele.OnDocument, tele.OnAnimation,
	} {
		a.bot.Handle(ep, onMessage)
	}

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				FromID:    cb.Sender.ID,
				ChatID:    m.Chat.ID,
				MessageID: m.ID,
				Data:      cb.Data,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		cm := c.ChatMember()
		if cm == nil || cm.Chat == nil || cm.NewChatMember == nil {
			return nil
		}
		role := cm.NewChatMember.Role
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateChatMember,
			ChatMember: &kit.ChatMember{
				ChatID: cm.Chat.ID,
				Title:  chatTitle(cm.Chat),
				Joined: role == tele.Administrator || role == tele.Creator,
			},
		})
		return nil
	})
}

func decodeMessage(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
	}
	if out.Text == "" {
		out.Text = m.Caption
	}
	if m.OriginalChat != nil && m.OriginalMessageID != 0 {
		out.ForwardChatID = m.OriginalChat.ID
		out.ForwardMessageID = m.OriginalMessageID
	}
	if m.Photo != nil {
		out.Attachments = append(out.Attachments, m.Photo.FileID)
	}
	if m.Video != nil {
		out.Attachments = append(out.Attachments, m.Video.FileID)
	}
	if m.Document != nil {
		out.Attachments = append(out.Attachments, m.Document.FileID)
	}
	if m.Animation != nil {
		out.Attachments = append(out.Attachments, m.Animation.FileID)
	}
	return out
}

func chatTitle(ch *tele.Chat) string {
	if ch.Title != "" {
		return ch.Title
	}
	return ch.Username
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.stopped = make(chan struct{})
	stopped := a.stopped
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)",
						logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	}()

	go func() {
		defer close(stopped)
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	stopped := a.stopped
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	if stopped == nil {
		return nil
	}
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop timed out", logx.Err(ctx.Err()))
		return nil
	}
}

// ---- outbound ----

func (a *Adapter) wait(ctx context.Context) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := a.wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}

	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if opt.ReplyMarkupAdapter != nil {
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
			sendOpt.ReplyMarkup = rm
		}
	}

	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func (a *Adapter) Relay(ctx context.Context, to kit.ChatTarget, src kit.MessageRef) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err := a.bot.Forward(&tele.Chat{ID: to.ChatID}, storedMessage(src))
	return classifyRelayErr(err)
}

func (a *Adapter) CopyContent(ctx context.Context, to kit.ChatTarget, src kit.MessageRef) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err := a.bot.Copy(&tele.Chat{ID: to.ChatID}, storedMessage(src))
	return err
}

func (a *Adapter) Download(ctx context.Context, fileID string) ([]byte, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	rc, err := a.bot.File(&tele.File{FileID: fileID})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *Adapter) ProbeMember(ctx context.Context, chatID int64) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	cm, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, a.bot.Me)
	if err != nil {
		return err
	}
	switch cm.Role {
	case tele.Administrator, tele.Creator, tele.Member:
		return nil
	default:
		return errors.New("bot has no posting rights in chat " + strconv.FormatInt(chatID, 10))
	}
}

func storedMessage(src kit.MessageRef) tele.StoredMessage {
	return tele.StoredMessage{
		ChatID:    src.ChatID,
		MessageID: strconv.Itoa(src.MessageID),
	}
}

// classifyRelayErr maps Telegram's "cannot forward this" error class to
// ErrNotRelayable so the publisher can fall back to a content copy.
// Anything else passes through unchanged.
func classifyRelayErr(err error) error {
	if err == nil {
		return nil
	}
	var terr *tele.Error
	if errors.As(err, &terr) {
		desc := strings.ToLower(terr.Description)
		if strings.Contains(desc, "can't be forwarded") ||
			strings.Contains(desc, "message to forward not found") ||
			strings.Contains(desc, "message_id_invalid") {
			return kit.ErrNotRelayable
		}
	}
	return err
}
