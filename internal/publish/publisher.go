// Package publish delivers one schedule entry to its destination platform.
//
// Publishers absorb every intermediate failure: the contract is "never
// returns an error; reports true/false", so the scheduler can retry a false
// outcome on its next tick without unwinding anything.
package publish

import (
	"context"

	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

// Publisher attempts delivery of one entry and reports the outcome.
type Publisher interface {
	Publish(ctx context.Context, entry storage.Schedule) bool
}

// Relayer is the chat-transport surface the Telegram strategy needs.
type Relayer interface {
	Relay(ctx context.Context, to kit.ChatTarget, src kit.MessageRef) error
	CopyContent(ctx context.Context, to kit.ChatTarget, src kit.MessageRef) error
}

// Downloader fetches source binaries for re-upload strategies.
type Downloader interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Wall is the VK surface the upload strategy needs.
type Wall interface {
	UploadWallPhoto(ctx context.Context, groupID int64, data []byte) (string, error)
	WallPost(ctx context.Context, groupID int64, message string, attachments []string) error
}

// Registry holds one publisher per platform. The platform set is closed;
// For() switches exhaustively so a new platform tag cannot slip through
// silently.
type Registry struct {
	telegram Publisher
	vk       Publisher // nil when the VK platform is not configured
}

func NewRegistry(tg Relayer, dl Downloader, wall Wall, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		telegram: &telegramPublisher{tg: tg, log: log.With(logx.String("platform", "telegram"))},
	}
	if wall != nil {
		r.vk = &vkPublisher{dl: dl, wall: wall, log: log.With(logx.String("platform", "vk"))}
	}
	return r
}

// For returns the publisher for a platform tag, or false when the platform
// is unknown or not configured.
func (r *Registry) For(p storage.Platform) (Publisher, bool) {
	switch p {
	case storage.PlatformTelegram:
		return r.telegram, r.telegram != nil
	case storage.PlatformVK:
		return r.vk, r.vk != nil
	default:
		return nil, false
	}
}

// HasVK reports whether the VK platform is configured.
func (r *Registry) HasVK() bool { return r.vk != nil }
