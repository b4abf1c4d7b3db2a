package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"whisper/backend/internal/pool"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string]string
	err  error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[string]string)}
}

func (n *recordingNotifier) SendCode(_ context.Context, to, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent[to] = code
	return nil
}

type resultRecorder struct {
	mu      sync.Mutex
	results []string
}

func (r *resultRecorder) RecordMailDelivery(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func TestDispatcher(t *testing.T) {
	t.Run("后台投递成功", func(t *testing.T) {
		workers := pool.NewWorkerPool(2, 10, nil)
		workers.Start(context.Background())

		notifier := newRecordingNotifier()
		recorder := &resultRecorder{}
		d := NewDispatcher(notifier, workers, time.Second, zap.NewNop(), recorder)

		assert.True(t, d.Dispatch("alice@example.com", "123456"))
		workers.Stop()

		assert.Equal(t, "123456", notifier.sent["alice@example.com"])
		assert.Equal(t, []string{"sent"}, recorder.results)
	})

	t.Run("投递失败只记录不传播", func(t *testing.T) {
		workers := pool.NewWorkerPool(1, 10, nil)
		workers.Start(context.Background())

		notifier := newRecordingNotifier()
		notifier.err = errors.New("mailbox unavailable")
		recorder := &resultRecorder{}
		d := NewDispatcher(notifier, workers, time.Second, nil, recorder)

		assert.True(t, d.Dispatch("alice@example.com", "123456"))
		workers.Stop()

		assert.Equal(t, []string{"failed"}, recorder.results)
	})

	t.Run("队列已满时丢弃", func(t *testing.T) {
		workers := pool.NewWorkerPool(1, 1, nil)
		notifier := newRecordingNotifier()
		recorder := &resultRecorder{}
		d := NewDispatcher(notifier, workers, time.Second, nil, recorder)

		assert.True(t, d.Dispatch("a@example.com", "111111"))
		assert.False(t, d.Dispatch("b@example.com", "222222"))
		assert.Equal(t, []string{"dropped"}, recorder.results)

		workers.Start(context.Background())
		workers.Stop()
		assert.Contains(t, notifier.sent, "a@example.com")
		assert.NotContains(t, notifier.sent, "b@example.com")
	})
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(nil).SendCode(context.Background(), "alice@example.com", "123456"))
}
