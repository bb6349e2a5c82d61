package publish

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

type fakeRelayer struct {
	relayErr error
	copyErr  error

	relays []kit.MessageRef
	copies []kit.MessageRef
}

func (f *fakeRelayer) Relay(_ context.Context, _ kit.ChatTarget, src kit.MessageRef) error {
	f.relays = append(f.relays, src)
	return f.relayErr
}

func (f *fakeRelayer) CopyContent(_ context.Context, _ kit.ChatTarget, src kit.MessageRef) error {
	f.copies = append(f.copies, src)
	return f.copyErr
}

type fakeDownloader struct {
	failing map[string]bool
}

func (f *fakeDownloader) Download(_ context.Context, fileID string) ([]byte, error) {
	if f.failing[fileID] {
		return nil, errors.New("file expired")
	}
	return []byte(fileID), nil
}

type fakeWall struct {
	uploadErr error
	postErr   error

	posts []wallCall
}

type wallCall struct {
	groupID     int64
	message     string
	attachments []string
}

func (f *fakeWall) UploadWallPhoto(_ context.Context, groupID int64, data []byte) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return fmt.Sprintf("photo%d_%s", groupID, data), nil
}

func (f *fakeWall) WallPost(_ context.Context, groupID int64, message string, attachments []string) error {
	f.posts = append(f.posts, wallCall{groupID: groupID, message: message, attachments: attachments})
	return f.postErr
}

func tgEntry() storage.Schedule {
	return storage.Schedule{
		ID: 1, Platform: storage.PlatformTelegram,
		FromChatID: 100, MessageID: 7, TargetID: -1001,
	}
}

func TestTelegramRelaySucceeds(t *testing.T) {
	t.Parallel()
	tg := &fakeRelayer{}
	reg := NewRegistry(tg, nil, nil, logx.Nop())

	p, ok := reg.For(storage.PlatformTelegram)
	require.True(t, ok)
	assert.True(t, p.Publish(context.Background(), tgEntry()))
	assert.Len(t, tg.relays, 1)
	assert.Empty(t, tg.copies, "no fallback when the relay went through")
}

func TestTelegramFallsBackToCopy(t *testing.T) {
	t.Parallel()
	tg := &fakeRelayer{relayErr: fmt.Errorf("wrapped: %w", kit.ErrNotRelayable)}
	reg := NewRegistry(tg, nil, nil, logx.Nop())

	p, _ := reg.For(storage.PlatformTelegram)
	assert.True(t, p.Publish(context.Background(), tgEntry()))
	assert.Len(t, tg.relays, 1)
	assert.Len(t, tg.copies, 1, "exactly one post overall")
}

func TestTelegramTransientErrorNoFallback(t *testing.T) {
	t.Parallel()
	tg := &fakeRelayer{relayErr: errors.New("telegram: 502 bad gateway")}
	reg := NewRegistry(tg, nil, nil, logx.Nop())

	p, _ := reg.For(storage.PlatformTelegram)
	assert.False(t, p.Publish(context.Background(), tgEntry()))
	assert.Empty(t, tg.copies, "copy is only for infeasible relays")
}

func TestTelegramCopyFailure(t *testing.T) {
	t.Parallel()
	tg := &fakeRelayer{relayErr: kit.ErrNotRelayable, copyErr: errors.New("chat not found")}
	reg := NewRegistry(tg, nil, nil, logx.Nop())

	p, _ := reg.For(storage.PlatformTelegram)
	assert.False(t, p.Publish(context.Background(), tgEntry()))
}

func TestTelegramMissingSourceRef(t *testing.T) {
	t.Parallel()
	tg := &fakeRelayer{}
	reg := NewRegistry(tg, nil, nil, logx.Nop())

	p, _ := reg.For(storage.PlatformTelegram)
	assert.False(t, p.Publish(context.Background(), storage.Schedule{ID: 1, TargetID: -1}))
	assert.Empty(t, tg.relays)
}

func TestVKPostWithAttachments(t *testing.T) {
	t.Parallel()
	wall := &fakeWall{}
	reg := NewRegistry(&fakeRelayer{}, &fakeDownloader{}, wall, logx.Nop())

	p, ok := reg.For(storage.PlatformVK)
	require.True(t, ok)

	ok = p.Publish(context.Background(), storage.Schedule{
		ID: 2, Platform: storage.PlatformVK, TargetID: 55,
		Text: "release notes", Attachments: []string{"a", "b"},
	})
	assert.True(t, ok)
	require.Len(t, wall.posts, 1)
	assert.Equal(t, int64(55), wall.posts[0].groupID)
	assert.Equal(t, "release notes", wall.posts[0].message)
	assert.Equal(t, []string{"photo55_a", "photo55_b"}, wall.posts[0].attachments)
}

func TestVKSkipsFailedAttachment(t *testing.T) {
	t.Parallel()
	wall := &fakeWall{}
	dl := &fakeDownloader{failing: map[string]bool{"a": true}}
	reg := NewRegistry(&fakeRelayer{}, dl, wall, logx.Nop())

	p, _ := reg.For(storage.PlatformVK)
	ok := p.Publish(context.Background(), storage.Schedule{
		ID: 3, Platform: storage.PlatformVK, TargetID: 55,
		Text: "partial", Attachments: []string{"a", "b"},
	})
	assert.True(t, ok, "a lost attachment must not sink the post")
	require.Len(t, wall.posts, 1)
	assert.Equal(t, []string{"photo55_b"}, wall.posts[0].attachments)
}

func TestVKPlaceholderText(t *testing.T) {
	t.Parallel()
	wall := &fakeWall{}
	reg := NewRegistry(&fakeRelayer{}, &fakeDownloader{}, wall, logx.Nop())

	p, _ := reg.For(storage.PlatformVK)
	require.True(t, p.Publish(context.Background(), storage.Schedule{
		ID: 4, Platform: storage.PlatformVK, TargetID: 55, Text: "   ",
	}))
	require.Len(t, wall.posts, 1)
	assert.Equal(t, placeholderText, wall.posts[0].message)
}

func TestVKWallPostFailure(t *testing.T) {
	t.Parallel()
	wall := &fakeWall{postErr: errors.New("vk api error 214")}
	reg := NewRegistry(&fakeRelayer{}, &fakeDownloader{}, wall, logx.Nop())

	p, _ := reg.For(storage.PlatformVK)
	assert.False(t, p.Publish(context.Background(), storage.Schedule{
		ID: 5, Platform: storage.PlatformVK, TargetID: 55, Text: "x",
	}))
}

func TestRegistryDispatch(t *testing.T) {
	t.Parallel()

	noVK := NewRegistry(&fakeRelayer{}, nil, nil, logx.Nop())
	assert.False(t, noVK.HasVK())
	_, ok := noVK.For(storage.PlatformVK)
	assert.False(t, ok)
	_, ok = noVK.For(storage.Platform("mastodon"))
	assert.False(t, ok)

	withVK := NewRegistry(&fakeRelayer{}, &fakeDownloader{}, &fakeWall{}, logx.Nop())
	assert.True(t, withVK.HasVK())
	_, ok = withVK.For(storage.PlatformVK)
	assert.True(t, ok)
}
