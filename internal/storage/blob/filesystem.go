package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// FileStore 本地文件系统存储
type FileStore struct {
	basePath string
}

// NewFileStore 创建文件系统存储并确保目录存在
func NewFileStore(basePath string) (*FileStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("invalid base path: empty")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{basePath: abs}, nil
}

// Dir 返回存储根目录
func (s *FileStore) Dir() string {
	return s.basePath
}

// Put 先写入临时文件再重命名，读取超过 size 字节时放弃写入
func (s *FileStore) Put(_ context.Context, key string, r io.Reader, size int64, _ string) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}

	tmp, err := os.CreateTemp(s.basePath, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	written, err := io.Copy(tmp, io.LimitReader(r, size+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if written > size {
		return fmt.Errorf("object larger than declared size %d", size)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}
	return nil
}

// Delete 删除对象，对象不存在时不报错
func (s *FileStore) Delete(_ context.Context, key string) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Serve 输出文件内容
func (s *FileStore) Serve(w http.ResponseWriter, r *http.Request, key string) {
	if !ValidKey(key) {
		http.NotFound(w, r)
		return
	}
	path := s.path(key)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, path)
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.basePath, key)
}
