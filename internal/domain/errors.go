package domain

import (
	"errors"
	"fmt"
	"time"
)

// 领域错误，由传输层统一映射为 HTTP 状态码
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrUpload       = errors.New("upload rejected")
)

// RateLimitError 表示请求被滥用限流器拒绝
type RateLimitError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.Reason
}

// ValidationError 携带面向客户端的提示文本
func ValidationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// UploadError 携带面向客户端的上传拒绝原因
func UploadError(msg string) error {
	return fmt.Errorf("%w: %s", ErrUpload, msg)
}

// PublicMessage 提取包装在哨兵错误后面的提示文本
func PublicMessage(err error, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
