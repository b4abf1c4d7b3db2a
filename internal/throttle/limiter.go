package throttle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"whisper/backend/internal/domain"
)

// DenialRecorder 记录限流拒绝，通常由 monitoring.Metrics 实现
type DenialRecorder interface {
	RecordThrottleDenial(kind string)
}

// Limiter 验证码请求限流器
type Limiter struct {
	store    WindowStore
	policy   Policy
	now      func() time.Time
	log      *zap.Logger
	recorder DenialRecorder
}

// NewLimiter 创建限流器
func NewLimiter(store WindowStore, policy Policy, log *zap.Logger, recorder DenialRecorder) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		store:    store,
		policy:   policy,
		now:      time.Now,
		log:      log.Named("throttle"),
		recorder: recorder,
	}
}

// WithClock 替换时间源，测试使用
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Policy 返回当前策略
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Check 同时检查身份和来源两个 key。
// 先检查身份再检查来源，两者都拒绝时报告来源的拒绝；只有两者都放行才会记录本次请求。
func (l *Limiter) Check(ctx context.Context, email, ip string) error {
	keys := []string{IdentityKey(email)}
	if ip != "" {
		keys = append(keys, OriginKey(ip))
	}

	decision, err := l.store.Take(ctx, keys, l.policy, l.now())
	if err != nil {
		return fmt.Errorf("throttle check: %w", err)
	}
	if decision.Allowed {
		return nil
	}

	if l.recorder != nil {
		l.recorder.RecordThrottleDenial(string(decision.Kind))
	}
	l.log.Info("otp request throttled",
		zap.String("key_kind", keyKind(decision.Key)),
		zap.String("reason", string(decision.Kind)),
		zap.Duration("retry_after", decision.RetryAfter),
	)

	return &domain.RateLimitError{
		Reason:     decision.Reason(),
		RetryAfter: decision.RetryAfter,
	}
}

// Sweep 清理过期窗口
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.now())
}

// Run 按固定周期清理过期窗口，直到 ctx 结束
func (l *Limiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := l.Sweep(ctx)
			if err != nil {
				l.log.Warn("failed to sweep throttle windows", zap.Error(err))
				continue
			}
			if removed > 0 {
				l.log.Debug("swept throttle windows", zap.Int("removed", removed))
			}
		}
	}
}

func keyKind(key string) string {
	kind, _, _ := strings.Cut(key, ":")
	return kind
}
