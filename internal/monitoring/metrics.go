package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标，使用独立的 Registry，可以在同一进程内创建多份
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 登录指标
	CodesIssued       prometheus.Counter
	CodeVerifications *prometheus.CounterVec
	ThrottleDenials   *prometheus.CounterVec
	MailDeliveries    *prometheus.CounterVec

	// 聊天指标
	MessagesCreated *prometheus.CounterVec
	MessagesDeleted prometheus.Counter
	Broadcasts      *prometheus.CounterVec

	// 实时连接指标
	ConnectionsActive   prometheus.Gauge
	ConnectionsRejected prometheus.Counter

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "whisper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		CodesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_login_codes_issued_total",
			Help: "Total number of login codes issued",
		}),
		CodeVerifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisper_login_code_verifications_total",
				Help: "Login code verification attempts by result",
			},
			[]string{"result"},
		),
		ThrottleDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisper_throttle_denials_total",
				Help: "Login code requests rejected by the abuse limiter",
			},
			[]string{"reason"},
		),
		MailDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisper_mail_deliveries_total",
				Help: "Login code email deliveries by result",
			},
			[]string{"result"},
		),

		MessagesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisper_messages_created_total",
				Help: "Chat messages created by kind",
			},
			[]string{"kind"},
		),
		MessagesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_messages_deleted_total",
			Help: "Chat messages deleted by their author",
		}),
		Broadcasts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisper_broadcasts_total",
				Help: "Realtime events fanned out by event type",
			},
			[]string{"event"},
		),

		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_realtime_connections",
			Help: "Currently authenticated realtime connections",
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_realtime_rejected_total",
			Help: "Realtime handshakes rejected during authentication",
		}),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_panics_total",
			Help: "Total number of recovered panics",
		}),
	}
}

// Handler 返回 Prometheus 抓取端点
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// 以下记录方法允许 nil 接收者，未启用监控的组件可以直接传 nil

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCodeIssued 记录验证码签发
func (m *Metrics) RecordCodeIssued() {
	if m == nil {
		return
	}
	m.CodesIssued.Inc()
}

// RecordCodeVerification 记录验证码兑换结果
func (m *Metrics) RecordCodeVerification(result string) {
	if m == nil {
		return
	}
	m.CodeVerifications.WithLabelValues(result).Inc()
}

// RecordThrottleDenial 记录限流拒绝
func (m *Metrics) RecordThrottleDenial(reason string) {
	if m == nil {
		return
	}
	m.ThrottleDenials.WithLabelValues(reason).Inc()
}

// RecordMailDelivery 记录邮件投递结果
func (m *Metrics) RecordMailDelivery(result string) {
	if m == nil {
		return
	}
	m.MailDeliveries.WithLabelValues(result).Inc()
}

// RecordMessageCreated 记录新消息
func (m *Metrics) RecordMessageCreated(kind string) {
	if m == nil {
		return
	}
	m.MessagesCreated.WithLabelValues(kind).Inc()
}

// RecordMessageDeleted 记录删除消息
func (m *Metrics) RecordMessageDeleted() {
	if m == nil {
		return
	}
	m.MessagesDeleted.Inc()
}

// RecordBroadcast 记录广播事件
func (m *Metrics) RecordBroadcast(event string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(event).Inc()
}

// SetConnections 更新在线连接数
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Set(float64(n))
}

// RecordConnectionRejected 记录握手认证失败
func (m *Metrics) RecordConnectionRejected() {
	if m == nil {
		return
	}
	m.ConnectionsRejected.Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}
