package storage

import (
	"context"
	"fmt"
	"time"

	"whisper/backend/internal/domain"
)

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = fmt.Errorf("user %w", domain.ErrNotFound)
	// ErrMessageNotFound 消息不存在
	ErrMessageNotFound = fmt.Errorf("message %w", domain.ErrNotFound)
	// ErrCodeNotFound 没有匹配的可用验证码，或者验证码已被并发兑换
	ErrCodeNotFound = fmt.Errorf("login code %w", domain.ErrNotFound)
)

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	// EnsureUser 按邮箱获取用户，不存在时创建；并发调用只会产生一条记录
	EnsureUser(ctx context.Context, email string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// OTPRepository 定义登录验证码存取操作。记录只追加和标记，不删除。
type OTPRepository interface {
	SaveOTP(ctx context.Context, code *domain.OneTimeCode) error
	// ConsumeOTP 找到该邮箱下最新的未使用且未过期的匹配记录，并用条件更新把它标记为已使用。
	// 条件更新没有命中任何行时返回 ErrCodeNotFound，保证同一条记录只能兑换一次。
	ConsumeOTP(ctx context.Context, email, codeHash string, now time.Time) (*domain.OneTimeCode, error)
}

// MessageRepository 定义聊天室消息存取操作。
type MessageRepository interface {
	EnsureRoom(ctx context.Context, name string) (*domain.Room, error)
	SaveMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.MessageView, error)
	// ListMessages 按创建时间升序返回，同一时刻按插入顺序
	ListMessages(ctx context.Context, roomID string) ([]domain.MessageView, error)
	DeleteMessage(ctx context.Context, id string) error
}

// Store 聚合所有存储接口。
type Store interface {
	UserRepository
	OTPRepository
	MessageRepository
	Ping(ctx context.Context) error
	Close() error
}
