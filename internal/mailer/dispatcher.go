package mailer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"whisper/backend/internal/logger"
	"whisper/backend/internal/pool"
)

// DeliveryRecorder 记录投递结果
type DeliveryRecorder interface {
	RecordMailDelivery(result string)
}

// Dispatcher 把投递任务提交到协程池，调用方不等待结果
type Dispatcher struct {
	notifier Notifier
	pool     *pool.WorkerPool
	timeout  time.Duration
	log      *zap.Logger
	recorder DeliveryRecorder
}

// NewDispatcher 创建投递调度器
func NewDispatcher(notifier Notifier, workers *pool.WorkerPool, timeout time.Duration, log *zap.Logger, recorder DeliveryRecorder) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		notifier: notifier,
		pool:     workers,
		timeout:  timeout,
		log:      log.Named("mailer"),
		recorder: recorder,
	}
}

// Dispatch 排队发送验证码，队列已满时丢弃并返回 false
func (d *Dispatcher) Dispatch(email, code string) bool {
	accepted := d.pool.TrySubmit(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		start := time.Now()
		if err := d.notifier.SendCode(ctx, email, code); err != nil {
			d.record("failed")
			d.log.Warn("failed to deliver login code",
				logger.Email(email),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			return
		}
		d.record("sent")
		d.log.Info("login code delivered", logger.Email(email), zap.Duration("elapsed", time.Since(start)))
	})

	if !accepted {
		d.record("dropped")
		d.log.Warn("mail queue full, dropping login code", logger.Email(email))
	}
	return accepted
}

func (d *Dispatcher) record(result string) {
	if d.recorder != nil {
		d.recorder.RecordMailDelivery(result)
	}
}
