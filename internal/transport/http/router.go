package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whisper/backend/internal/auth"
	"whisper/backend/internal/chat"
	"whisper/backend/internal/config"
	"whisper/backend/internal/health"
	"whisper/backend/internal/middleware"
	"whisper/backend/internal/monitoring"
	"whisper/backend/internal/storage/blob"
	"whisper/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	AuthService  *auth.Service
	ChatService  *chat.Service
	Blobs        blob.Store
	WebSocketHub *websocket.Hub
	Health       *health.Checker // 可选
	Metrics      *monitoring.Metrics
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) (*gin.Engine, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(deps.Config.Server.TrustedProxies); err != nil {
		return nil, err
	}

	router.Use(middleware.RecoveryHandler(log, deps.Metrics))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.HTTPMetrics(deps.Metrics))
	router.Use(middleware.SecurityHeaders())
	router.Use(gincors.New(corsConfig(deps.Config.CORS.AllowedOrigins)))

	authHandler := NewAuthHandler(deps.AuthService, log)
	messageHandler := NewMessageHandler(deps.ChatService, deps.Blobs, log)
	jwtAuth := middleware.NewJWTAuth(deps.AuthService, log)

	jsonLimit := middleware.BodySizeLimit(middleware.SmallBodyLimit)
	uploadLimit := middleware.BodySizeLimit(deps.Config.Upload.MaxBytes + middleware.MultipartOverhead)

	// 健康检查与监控
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.Live()))
		router.GET("/health/ready", gin.WrapF(deps.Health.Ready()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// 登录
	authRoutes := router.Group("/auth", jsonLimit)
	{
		authRoutes.POST("/request-otp", authHandler.RequestOTP)
		authRoutes.POST("/verify", authHandler.Verify)
	}

	// 聊天
	api := router.Group("/api")
	{
		api.GET("/me", jwtAuth.Protect(authHandler.Me))
		api.GET("/messages", jwtAuth.Protect(messageHandler.List))
		api.POST("/messages", jsonLimit, jwtAuth.Protect(messageHandler.Create))
		api.DELETE("/messages/:id", jwtAuth.Protect(messageHandler.Delete))
		api.POST("/upload", uploadLimit, jwtAuth.Protect(messageHandler.Upload))
	}

	router.GET("/uploads/:key", messageHandler.ServeUpload)

	// 实时推送，令牌在握手时校验
	router.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: MsgNotFound})
	})

	return router, nil
}

func corsConfig(origins []string) gincors.Config {
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowOrigins = nil
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			break
		}
	}
	return cfg
}
