package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可探测连通性的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker 存活与就绪检查
type Checker struct {
	health  healthcheck.Handler
	timeout time.Duration
	logger  *zap.Logger
}

// NewChecker 创建健康检查器，默认带一个协程数量的存活检查
func NewChecker(logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &Checker{
		health:  healthcheck.NewHandler(),
		timeout: 2 * time.Second,
		logger:  logger.Named("health"),
	}
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	return hc
}

// AddReadiness 注册就绪检查，依赖不可用时 /ready 返回 503
func (hc *Checker) AddReadiness(name string, dep Pinger) {
	hc.health.AddReadinessCheck(name, healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
		defer cancel()

		err := dep.Ping(ctx)
		if err != nil {
			hc.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
		}
		return err
	}, hc.timeout))
}

// Live 存活检查处理器
func (hc *Checker) Live() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// Ready 就绪检查处理器
func (hc *Checker) Ready() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}
