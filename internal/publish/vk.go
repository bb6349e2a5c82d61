package publish

import (
	"context"
	"strings"

	"postbot/internal/storage"
	"postbot/pkg/logx"
)

// placeholderText is posted when the source carried no usable text.
const placeholderText = "Hello from bot \U0001F44B"

// vkPublisher re-uploads source media to the community and submits a wall
// post. A failed attachment is skipped, never aborts the post.
type vkPublisher struct {
	dl   Downloader
	wall Wall
	log  logx.Logger
}

func (p *vkPublisher) Publish(ctx context.Context, entry storage.Schedule) bool {
	message := strings.TrimSpace(entry.Text)
	if message == "" {
		message = placeholderText
	}

	var handles []string
	for i, fileID := range entry.Attachments {
		h, err := p.uploadOne(ctx, entry.TargetID, fileID)
		if err != nil {
			p.log.Warn("attachment skipped",
				logx.Int64("id", entry.ID), logx.Int("index", i), logx.Err(err))
			continue
		}
		handles = append(handles, h)
	}

	if err := p.wall.WallPost(ctx, entry.TargetID, message, handles); err != nil {
		p.log.Warn("wall post failed",
			logx.Int64("id", entry.ID), logx.Int64("group", entry.TargetID), logx.Err(err))
		return false
	}
	return true
}

func (p *vkPublisher) uploadOne(ctx context.Context, groupID int64, fileID string) (string, error) {
	data, err := p.dl.Download(ctx, fileID)
	if err != nil {
		return "", err
	}
	return p.wall.UploadWallPhoto(ctx, groupID, data)
}
