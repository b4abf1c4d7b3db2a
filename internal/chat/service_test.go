package chat

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whisper/backend/internal/domain"
	"whisper/backend/internal/security"
	"whisper/backend/internal/storage/blob"
	"whisper/backend/internal/storage/memory"
	"whisper/backend/internal/throttle"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type event struct {
	kind string
	view *domain.MessageView
	id   string
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []event
}

func (b *recordingBroadcaster) PublishMessageCreated(msg *domain.MessageView) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{kind: "message:new", view: msg})
	return 1
}

func (b *recordingBroadcaster) PublishMessageDeleted(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{kind: "message:delete", id: id})
	return 1
}

func (b *recordingBroadcaster) snapshot() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]event(nil), b.events...)
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type fixture struct {
	service     *Service
	store       *memory.Store
	broadcaster *recordingBroadcaster
	dir         string
}

func newFixture(t *testing.T, gate SendGate) *fixture {
	t.Helper()
	dir := t.TempDir()
	files, err := blob.NewFileStore(dir)
	require.NoError(t, err)

	f := &fixture{
		store:       memory.NewStore(),
		broadcaster: &recordingBroadcaster{},
		dir:         dir,
	}
	f.service = NewService(Options{
		Repo:        f.store,
		Blobs:       files,
		Images:      security.NewImageSecurity(nil, 1<<20),
		SendGate:    gate,
		Broadcaster: f.broadcaster,
		Logger:      zap.NewNop(),
	})
	return f
}

func TestCreateAndList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	msg, err := f.service.Create(ctx, "a@x.com", "hello")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageKindText, msg.Kind)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "a@x.com", msg.UserEmail)

	events := f.broadcaster.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "message:new", events[0].kind)
	assert.Equal(t, msg.ID, events[0].view.ID)
	assert.Equal(t, "hello", events[0].view.Text)

	messages, err := f.service.List(ctx, "b@x.com")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, msg.ID, messages[0].ID)
	assert.Equal(t, "a@x.com", messages[0].UserEmail)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.service.Create(ctx, "a@x.com", "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.service.Create(ctx, "a@x.com", strings.Repeat("x", domain.MaxMessageRunes+1))
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Empty(t, f.broadcaster.snapshot())
}

func TestCreateKeepsAuthorOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.service.WithClock(func() time.Time { return base })

	for i := 0; i < 5; i++ {
		_, err := f.service.Create(ctx, "a@x.com", string(rune('a'+i)))
		require.NoError(t, err)
	}

	messages, err := f.service.List(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i, m := range messages {
		assert.Equal(t, string(rune('a'+i)), m.Text)
	}
	assert.Zero(t, f.service.authors.size())
}

func TestDeleteGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	msg, err := f.service.Create(ctx, "a@x.com", "mine")
	require.NoError(t, err)

	t.Run("不存在的消息", func(t *testing.T) {
		err := f.service.Delete(ctx, "a@x.com", "missing")
		assert.ErrorIs(t, err, ErrMessageNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("非作者删除被拒绝", func(t *testing.T) {
		err := f.service.Delete(ctx, "b@x.com", msg.ID)
		assert.ErrorIs(t, err, ErrNotAuthor)
		assert.ErrorIs(t, err, domain.ErrForbidden)

		messages, err := f.service.List(ctx, "a@x.com")
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, msg.ID, messages[0].ID)
	})

	t.Run("作者删除成功并广播", func(t *testing.T) {
		require.NoError(t, f.service.Delete(ctx, "a@x.com", msg.ID))

		messages, err := f.service.List(ctx, "a@x.com")
		require.NoError(t, err)
		assert.Empty(t, messages)

		events := f.broadcaster.snapshot()
		last := events[len(events)-1]
		assert.Equal(t, "message:delete", last.kind)
		assert.Equal(t, msg.ID, last.id)
	})

	t.Run("重复删除返回不存在", func(t *testing.T) {
		err := f.service.Delete(ctx, "a@x.com", msg.ID)
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}

func TestCreateImage(t *testing.T) {
	ctx := context.Background()

	t.Run("保存图片并发布", func(t *testing.T) {
		f := newFixture(t, nil)
		content := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)

		msg, err := f.service.CreateImage(ctx, "a@x.com", &Upload{
			Filename: "cat.png",
			Size:     int64(len(content)),
			Content:  bytes.NewReader(content),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.MessageKindImage, msg.Kind)
		require.True(t, strings.HasPrefix(msg.ImageURL, UploadPathPrefix))
		assert.True(t, strings.HasSuffix(msg.ImageURL, ".png"))

		stored, err := os.ReadFile(filepath.Join(f.dir, strings.TrimPrefix(msg.ImageURL, UploadPathPrefix)))
		require.NoError(t, err)
		assert.Equal(t, content, stored)
		assert.Len(t, f.broadcaster.snapshot(), 1)
	})

	t.Run("没有文件", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.service.CreateImage(ctx, "a@x.com", nil)
		assert.ErrorIs(t, err, ErrNoFile)
	})

	t.Run("非图片被拒绝", func(t *testing.T) {
		f := newFixture(t, nil)
		content := []byte("#!/bin/sh\necho hi\n")
		_, err := f.service.CreateImage(ctx, "a@x.com", &Upload{
			Filename: "cat.png",
			Size:     int64(len(content)),
			Content:  bytes.NewReader(content),
		})
		assert.ErrorIs(t, err, domain.ErrUpload)

		entries, err := os.ReadDir(f.dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.Empty(t, f.broadcaster.snapshot())
	})

	t.Run("上传频率限制", func(t *testing.T) {
		f := newFixture(t, denyAll{})
		_, err := f.service.CreateImage(ctx, "a@x.com", &Upload{
			Filename: "cat.png",
			Size:     int64(len(pngHeader)),
			Content:  bytes.NewReader(pngHeader),
		})
		var rl *domain.RateLimitError
		assert.ErrorAs(t, err, &rl)
	})

	t.Run("令牌桶按身份独立", func(t *testing.T) {
		f := newFixture(t, throttle.NewSendLimiter(60, 1))
		upload := func(email string) error {
			_, err := f.service.CreateImage(ctx, email, &Upload{
				Filename: "cat.png",
				Size:     int64(len(pngHeader)),
				Content:  bytes.NewReader(pngHeader),
			})
			return err
		}

		require.NoError(t, upload("a@x.com"))
		var rl *domain.RateLimitError
		assert.ErrorAs(t, upload("a@x.com"), &rl)
		assert.NoError(t, upload("b@x.com"))
	})
}
