package httptransport

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whisper/backend/internal/domain"
)

// 通用错误消息
const (
	MsgServerError     = "Server error"
	MsgInvalidToken    = "Invalid token"
	MsgNotAllowed      = "not allowed"
	MsgNotFound        = "not found!"
	MsgPayloadTooLarge = "Request body too large"
)

// errorResponse 错误响应体
type errorResponse struct {
	Error string `json:"error"`
}

// respondError 把领域错误映射为状态码和 {error} 响应体。未识别的错误记录日志后返回 500，不暴露细节
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, msg := classify(err)

	var rl *domain.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
	}

	if status == http.StatusInternalServerError {
		log.Error("unhandled error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.AbortWithStatusJSON(status, errorResponse{Error: msg})
}

func classify(err error) (int, string) {
	var rl *domain.RateLimitError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, rl.Reason
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, MsgPayloadTooLarge
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, domain.PublicMessage(err, domain.ErrValidation)
	case errors.Is(err, domain.ErrUpload):
		return http.StatusBadRequest, domain.PublicMessage(err, domain.ErrUpload)
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, MsgInvalidToken
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, MsgNotAllowed
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, MsgNotFound
	default:
		return http.StatusInternalServerError, MsgServerError
	}
}
