// Package otp 负责一次性登录验证码的签发与兑换。
package otp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"whisper/backend/internal/domain"
	"whisper/backend/internal/logger"
	"whisper/backend/internal/storage"
)

const (
	DefaultTTL    = 10 * time.Minute
	DefaultLength = 6
)

// ErrInvalidCode 验证码错误、过期或已使用，统一返回同一个错误
var ErrInvalidCode = fmt.Errorf("%w: invalid or expired code", domain.ErrUnauthorized)

// Repository 验证码服务依赖的存储能力
type Repository interface {
	EnsureUser(ctx context.Context, email string) (*domain.User, error)
	SaveOTP(ctx context.Context, code *domain.OneTimeCode) error
	ConsumeOTP(ctx context.Context, email, codeHash string, now time.Time) (*domain.OneTimeCode, error)
}

// Config 验证码配置
type Config struct {
	TTL    time.Duration
	Length int
	Pepper string
}

// Service 验证码服务
type Service struct {
	repo   Repository
	ttl    time.Duration
	length int
	key    [32]byte
	now    func() time.Time
	log    *zap.Logger
}

// NewService 创建验证码服务
func NewService(repo Repository, cfg Config, log *zap.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Length <= 0 {
		cfg.Length = DefaultLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Service{
		repo:   repo,
		ttl:    cfg.TTL,
		length: cfg.Length,
		// blake2b 的密钥最长 64 字节，先把任意长度的 pepper 压缩成固定长度
		key: blake2b.Sum256([]byte(cfg.Pepper)),
		now: time.Now,
		log: log.Named("otp"),
	}
}

// WithClock 替换时间源，测试使用
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TTL 返回验证码有效期
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue 生成新验证码并保存其哈希，同时确保该邮箱对应的用户存在。
// 返回明文验证码，调用方负责投递；明文不会被持久化。
func (s *Service) Issue(ctx context.Context, email, ip string) (string, error) {
	code, err := generateNumericCode(s.length)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	now := s.now().UTC()
	record := &domain.OneTimeCode{
		ID:        uuid.NewString(),
		Email:     email,
		CodeHash:  s.hash(email, code),
		IP:        ip,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.SaveOTP(ctx, record); err != nil {
		return "", fmt.Errorf("save code: %w", err)
	}

	if _, err := s.repo.EnsureUser(ctx, email); err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}

	s.log.Debug("login code issued", logger.Email(email), zap.Time("expires_at", record.ExpiresAt))
	return code, nil
}

// Verify 兑换验证码。成功后该记录不可再次使用
func (s *Service) Verify(ctx context.Context, email, code string) error {
	code = strings.TrimSpace(code)
	if len(code) != s.length {
		return ErrInvalidCode
	}

	_, err := s.repo.ConsumeOTP(ctx, email, s.hash(email, code), s.now().UTC())
	if errors.Is(err, storage.ErrCodeNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	return nil
}

// hash 计算绑定邮箱的带密钥哈希
func (s *Service) hash(email, code string) string {
	h, _ := blake2b.New256(s.key[:])
	h.Write([]byte(email))
	h.Write([]byte{0})
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

func generateNumericCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
