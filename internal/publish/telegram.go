package publish

import (
	"context"
	"errors"

	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

// telegramPublisher relays the source message by reference and falls back to
// a content copy when Telegram rejects the forward as infeasible.
type telegramPublisher struct {
	tg  Relayer
	log logx.Logger
}

func (p *telegramPublisher) Publish(ctx context.Context, entry storage.Schedule) bool {
	if entry.FromChatID == 0 || entry.MessageID == 0 {
		p.log.Error("entry has no source reference; cannot relay", logx.Int64("id", entry.ID))
		return false
	}

	to := kit.ChatTarget{ChatID: entry.TargetID}
	src := kit.MessageRef{ChatID: entry.FromChatID, MessageID: entry.MessageID}

	err := p.tg.Relay(ctx, to, src)
	if err == nil {
		return true
	}
	if !errors.Is(err, kit.ErrNotRelayable) {
		p.log.Warn("relay failed", logx.Int64("id", entry.ID), logx.Int64("target", entry.TargetID), logx.Err(err))
		return false
	}

	// Source is gone or forwards are restricted; recreate the content instead.
	p.log.Info("relay rejected; copying content", logx.Int64("id", entry.ID))
	if err := p.tg.CopyContent(ctx, to, src); err != nil {
		p.log.Warn("content copy failed", logx.Int64("id", entry.ID), logx.Int64("target", entry.TargetID), logx.Err(err))
		return false
	}
	return true
}
