package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whisper/backend/internal/config"
	"whisper/backend/internal/domain"
	"whisper/backend/internal/storage"
)

// openTestStore 连接 WHISPER_TEST_DATABASE_DSN 指定的数据库，未设置时跳过
func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("WHISPER_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("WHISPER_TEST_DATABASE_DSN not set")
	}
	dbType := os.Getenv("WHISPER_TEST_DATABASE_TYPE")
	if dbType == "" {
		dbType = "postgres"
	}

	store, err := Open(context.Background(), &config.DatabaseConfig{
		Type:            dbType,
		DSN:             dsn,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		AutoMigrate:     true,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Integration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	email := "it-" + uuid.NewString()[:8] + "@example.com"

	t.Run("重复创建用户返回同一记录", func(t *testing.T) {
		first, err := store.EnsureUser(ctx, email)
		require.NoError(t, err)
		second, err := store.EnsureUser(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		_, err = store.GetUserByEmail(ctx, "missing-"+email)
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})

	t.Run("验证码只能兑换一次", func(t *testing.T) {
		now := time.Now().UTC()
		hash := uuid.NewString()
		require.NoError(t, store.SaveOTP(ctx, &domain.OneTimeCode{
			ID:        uuid.NewString(),
			Email:     email,
			CodeHash:  hash,
			CreatedAt: now,
			ExpiresAt: now.Add(10 * time.Minute),
		}))

		_, err := store.ConsumeOTP(ctx, email, hash, now)
		require.NoError(t, err)
		_, err = store.ConsumeOTP(ctx, email, hash, now)
		assert.ErrorIs(t, err, storage.ErrCodeNotFound)
	})

	t.Run("消息按插入顺序返回并可删除", func(t *testing.T) {
		room, err := store.EnsureRoom(ctx, "it-"+uuid.NewString()[:8])
		require.NoError(t, err)
		user, err := store.GetUserByEmail(ctx, email)
		require.NoError(t, err)

		at := time.Now().UTC().Truncate(time.Second)
		ids := make([]string, 0, 3)
		for _, text := range []string{"one", "two", "three"} {
			msg := &domain.Message{
				ID:        uuid.NewString(),
				RoomID:    room.ID,
				UserID:    user.ID,
				Kind:      domain.MessageKindText,
				Text:      text,
				CreatedAt: at,
			}
			require.NoError(t, store.SaveMessage(ctx, msg))
			ids = append(ids, msg.ID)
		}

		views, err := store.ListMessages(ctx, room.ID)
		require.NoError(t, err)
		require.Len(t, views, 3)
		assert.Equal(t, "one", views[0].Text)
		assert.Equal(t, "three", views[2].Text)
		assert.Equal(t, email, views[0].UserEmail)

		require.NoError(t, store.DeleteMessage(ctx, ids[0]))
		_, err = store.GetMessage(ctx, ids[0])
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
		assert.ErrorIs(t, store.DeleteMessage(ctx, ids[0]), storage.ErrMessageNotFound)
	})
}
