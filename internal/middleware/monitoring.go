package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestRecorder 记录 HTTP 请求指标，通常由 monitoring.Metrics 实现
type RequestRecorder interface {
	RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration)
}

// HTTPMetrics HTTP 指标中间件。endpoint 使用路由模板，避免消息 ID 撑爆标签基数
func HTTPMetrics(recorder RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		recorder.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
