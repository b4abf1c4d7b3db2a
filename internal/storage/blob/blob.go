// Package blob 保存聊天图片，支持本地文件系统和 MinIO 两种后端。
package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
)

// ErrInvalidKey 对象 key 不符合命名规则
var ErrInvalidKey = errors.New("invalid object key")

// keyPattern 对象 key 由服务端生成，形如 "<uuid>.png"
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{1,64}\.[a-z0-9]{1,8}$`)

// Store 图片对象存储
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	// Serve 把对象响应给浏览器，本地后端直接输出文件，MinIO 后端重定向到预签名地址
	Serve(w http.ResponseWriter, r *http.Request, key string)
}

// ValidKey 判断 key 是否可以安全地映射到存储路径
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}
