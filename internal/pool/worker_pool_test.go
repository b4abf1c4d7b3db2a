package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行所有已提交任务", func(t *testing.T) {
		p := NewWorkerPool(3, 10, zap.NewNop())
		p.Start(context.Background())

		var done atomic.Int32
		for i := 0; i < 10; i++ {
			assert.True(t, p.TrySubmit(func(context.Context) { done.Add(1) }))
		}
		p.Stop()

		assert.Equal(t, int32(10), done.Load())
	})

	t.Run("队列已满时拒绝", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		assert.True(t, p.TrySubmit(func(context.Context) {}))
		assert.False(t, p.TrySubmit(func(context.Context) {}))
		assert.Equal(t, 1, p.Pending())

		p.Start(context.Background())
		p.Stop()
	})

	t.Run("停止后拒绝提交", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		p.Start(context.Background())
		p.Stop()
		p.Stop()

		assert.False(t, p.TrySubmit(func(context.Context) {}))
	})

	t.Run("任务panic不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 4, nil)
		p.Start(context.Background())

		var wg sync.WaitGroup
		wg.Add(1)
		p.TrySubmit(func(context.Context) { panic("boom") })
		p.TrySubmit(func(context.Context) { wg.Done() })
		wg.Wait()
		p.Stop()
	})

	t.Run("ctx取消后排空队列", func(t *testing.T) {
		p := NewWorkerPool(1, 4, nil)
		ctx, cancel := context.WithCancel(context.Background())

		var done atomic.Int32
		for i := 0; i < 3; i++ {
			p.TrySubmit(func(context.Context) { done.Add(1) })
		}
		cancel()
		p.Start(ctx)
		p.Stop()

		assert.Equal(t, int32(3), done.Load())
	})
}
