package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestChecker(t *testing.T) {
	t.Run("存活检查", func(t *testing.T) {
		hc := NewChecker(nil)
		rec := httptest.NewRecorder()
		hc.Live()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("依赖可用时就绪", func(t *testing.T) {
		hc := NewChecker(nil)
		hc.AddReadiness("database", pingerFunc(func(context.Context) error { return nil }))

		rec := httptest.NewRecorder()
		hc.Ready()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("依赖不可用时未就绪", func(t *testing.T) {
		hc := NewChecker(nil)
		hc.AddReadiness("redis", pingerFunc(func(context.Context) error { return errors.New("down") }))

		rec := httptest.NewRecorder()
		hc.Ready()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
