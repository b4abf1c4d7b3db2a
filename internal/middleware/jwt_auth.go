package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whisper/backend/internal/auth"
	jwtpkg "whisper/backend/internal/auth/jwt"
	"whisper/backend/internal/logger"
)

// identityKey 认证后写入 gin 上下文的邮箱，只供请求日志使用
const identityKey = "identity"

// Authenticator 校验会话令牌
type Authenticator interface {
	Authenticate(token string) (*auth.Principal, error)
}

// AuthedHandler 需要登录的处理函数，身份作为参数显式传入
type AuthedHandler func(c *gin.Context, principal *auth.Principal)

// JWTAuth JWT认证中间件
type JWTAuth struct {
	authenticator Authenticator
	log           *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(authenticator Authenticator, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{
		authenticator: authenticator,
		log:           log.Named("auth"),
	}
}

// Protect 校验 Bearer 令牌，通过后把身份交给 handler
func (ja *JWTAuth) Protect(handler AuthedHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			return
		}

		principal, err := ja.authenticator.Authenticate(token)
		if err != nil {
			ja.log.Debug("invalid token",
				zap.Error(err),
				zap.Bool("expired", jwtpkg.IsExpired(err)),
				zap.String("ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(identityKey, principal.Email)
		handler(c, principal)
	}
}

// extractBearer 从 Authorization 头提取令牌
func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func identityField(c *gin.Context) (zap.Field, bool) {
	email := c.GetString(identityKey)
	if email == "" {
		return zap.Skip(), false
	}
	return logger.Email(email), true
}
