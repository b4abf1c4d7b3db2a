package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"whisper/backend/internal/auth/jwt"
	"whisper/backend/internal/domain"
	"whisper/backend/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxInboundSize = 4096
	sendBufferSize = 256
)

// EventType 推送事件类型
type EventType string

const (
	EventMessageNew    EventType = "message:new"
	EventMessageDelete EventType = "message:delete"
)

// Event 推送给客户端的事件
type Event struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// TokenValidator 校验握手时携带的会话令牌
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// Recorder 记录连接和推送指标，通常由 monitoring.Metrics 实现
type Recorder interface {
	RecordBroadcast(event string)
	SetConnections(n int)
	RecordConnectionRejected()
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || strings.EqualFold(origin, requestOrigin) {
					return true
				}
			}
			return false
		},
	}
}

// Hub 实时连接网关，维护已认证连接集合并负责广播
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	validator      TokenValidator
	allowedOrigins []string
	recorder       Recorder
	log            *zap.Logger
}

// NewHub 创建网关
func NewHub(validator TokenValidator, allowedOrigins []string, log *zap.Logger, recorder Recorder) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:        make(map[string]*Client),
		validator:      validator,
		allowedOrigins: allowedOrigins,
		recorder:       recorder,
		log:            log.Named("websocket"),
	}
}

// Run 定期上报连接数，ctx 结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return nil
		case <-ticker.C:
			h.reportConnections()
		}
	}
}

// Count 当前已认证连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Identities 返回当前在线的身份（去重、排序）
func (h *Hub) Identities() []string {
	h.mu.RLock()
	seen := make(map[string]struct{}, len(h.clients))
	for _, c := range h.clients {
		seen[c.Email] = struct{}{}
	}
	h.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for email := range seen {
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}

// PublishMessageCreated 推送新消息，返回送达的连接数
func (h *Hub) PublishMessageCreated(msg *domain.MessageView) int {
	return h.publish(EventMessageNew, msg)
}

// PublishMessageDeleted 推送消息删除，只携带消息 ID
func (h *Hub) PublishMessageDeleted(id string) int {
	return h.publish(EventMessageDelete, gin.H{"id": id})
}

func (h *Hub) publish(eventType EventType, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("failed to marshal event payload", zap.String("type", string(eventType)), zap.Error(err))
		return 0
	}
	return h.Broadcast(&Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()})
}

// Broadcast 把事件推送给所有已认证连接。
// 发送是非阻塞的，缓冲区已满的连接会丢掉这条事件，不做重试。
func (h *Hub) Broadcast(event *Event) int {
	frame, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event", zap.Error(err))
		return 0
	}

	delivered := 0
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- frame:
			delivered++
		default:
			h.log.Warn("client send buffer full, event dropped",
				zap.String("clientID", c.ID),
				zap.String("type", string(event.Type)))
		}
	}
	h.mu.RUnlock()

	if h.recorder != nil {
		h.recorder.RecordBroadcast(string(event.Type))
	}
	h.log.Debug("event broadcast",
		zap.String("type", string(event.Type)),
		zap.Int("delivered", delivered))
	return delivered
}

// register 把已认证连接加入集合，网关关闭后拒绝加入
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.ID] = c
	c.setState(StateAuthenticated)
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Info("client connected",
		zap.String("clientID", c.ID),
		logger.Email(c.Email),
		zap.Int("total", total))
	h.reportConnections()
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	if ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	c.setState(StateClosed)
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.log.Info("client disconnected",
		zap.String("clientID", c.ID),
		logger.Email(c.Email),
		zap.Int("total", total))
	h.reportConnections()
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
		c.setState(StateClosed)
	}
	h.mu.Unlock()

	h.log.Info("all websocket clients closed")
	h.reportConnections()
}

func (h *Hub) reportConnections() {
	if h.recorder != nil {
		h.recorder.SetConnections(h.Count())
	}
}

// authenticate 从握手请求中取出令牌并校验，令牌放在 token 查询参数或 Authorization 头里
func (h *Hub) authenticate(r *http.Request) (*jwt.Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	if token == "" {
		return nil, jwt.ErrInvalidToken
	}
	return h.validator.Validate(token)
}

// HandleWebSocket 处理 WebSocket 握手。令牌在升级前校验，失败直接返回 401，连接不会进入集合
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		claims, err := hub.authenticate(c.Request)
		if err != nil {
			if hub.recorder != nil {
				hub.recorder.RecordConnectionRejected()
			}
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := newClient(hub, conn, claims.Subject)
		if !hub.register(client) {
			client.setState(StateRejected)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
