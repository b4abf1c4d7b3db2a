package security

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"whisper/backend/internal/domain"
)

// sniffLen 内容嗅探读取的字节数
const sniffLen = 3072

// DefaultImageTypes 默认允许的图片类型
var DefaultImageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// ImageSecurity 图片上传检查器，按内容而不是客户端声明判断类型
type ImageSecurity struct {
	allowedMimeTypes    []string
	maxFileSize         int64
	dangerousExtensions map[string]bool
}

// CheckedImage 通过检查的图片，Reader 从文件开头重新读取
type CheckedImage struct {
	MIME      string
	Extension string
	Size      int64
	Reader    io.Reader
}

// NewImageSecurity 创建图片检查器
func NewImageSecurity(allowed []string, maxFileSize int64) *ImageSecurity {
	if len(allowed) == 0 {
		allowed = DefaultImageTypes
	}
	return &ImageSecurity{
		allowedMimeTypes: allowed,
		maxFileSize:      maxFileSize,
		dangerousExtensions: map[string]bool{
			".exe":  true,
			".bat":  true,
			".cmd":  true,
			".scr":  true,
			".com":  true,
			".vbs":  true,
			".js":   true,
			".jar":  true,
			".php":  true,
			".svg":  true,
			".html": true,
		},
	}
}

// MaxFileSize 返回单张图片上限
func (s *ImageSecurity) MaxFileSize() int64 {
	return s.maxFileSize
}

// Check 检查文件名、大小和内容类型
func (s *ImageSecurity) Check(filename string, size int64, content io.Reader) (*CheckedImage, error) {
	if size <= 0 {
		return nil, domain.UploadError("Empty file")
	}
	if size > s.maxFileSize {
		return nil, domain.UploadError("File too large")
	}
	if s.dangerousExtensions[strings.ToLower(filepath.Ext(filename))] {
		return nil, domain.UploadError("File type not allowed")
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	allowed := false
	for _, mt := range s.allowedMimeTypes {
		if detected.Is(mt) {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, domain.UploadError("Only images are allowed")
	}

	return &CheckedImage{
		MIME:      detected.String(),
		Extension: strings.TrimPrefix(detected.Extension(), "."),
		Size:      size,
		Reader:    io.MultiReader(bytes.NewReader(head), content),
	}, nil
}
