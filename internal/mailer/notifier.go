// Package mailer 投递登录验证码。投递是尽力而为的后台任务，结果只记录日志与指标。
package mailer

import (
	"context"

	"go.uber.org/zap"

	"whisper/backend/internal/logger"
)

// Notifier 把验证码发送给用户
type Notifier interface {
	SendCode(ctx context.Context, to, code string) error
}

// LogNotifier 开发环境使用，验证码直接写入日志
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier 创建日志投递器
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("dev-mail")}
}

// SendCode 记录验证码
func (n *LogNotifier) SendCode(_ context.Context, to, code string) error {
	n.log.Warn("[DEV OTP] mail transport not configured, printing login code",
		logger.Email(to),
		zap.String("code", code),
	)
	return nil
}
