// Package auth 编排无密码登录：请求验证码、兑换验证码并签发会话令牌。
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"whisper/backend/internal/auth/jwt"
	"whisper/backend/internal/domain"
	"whisper/backend/internal/logger"
	"whisper/backend/internal/otp"
)

var (
	// ErrInvalidEmail 邮箱格式错误
	ErrInvalidEmail = domain.ValidationError("Invalid email")
	// ErrInvalidPayload 兑换请求缺少邮箱或验证码
	ErrInvalidPayload = domain.ValidationError("Invalid payload")
	// ErrCodeRejected 验证码错误、过期或已使用，不区分具体原因
	ErrCodeRejected = domain.ValidationError("Invalid or expired OTP")
)

// Limiter 验证码请求限流
type Limiter interface {
	Check(ctx context.Context, email, ip string) error
}

// CodeService 验证码签发与兑换
type CodeService interface {
	Issue(ctx context.Context, email, ip string) (string, error)
	Verify(ctx context.Context, email, code string) error
}

// Dispatcher 尽力投递验证码，结果只记录不返回
type Dispatcher interface {
	Dispatch(email, code string) bool
}

// TokenManager 会话令牌签发与校验
type TokenManager interface {
	Issue(email string) (string, time.Time, error)
	Validate(token string) (*jwt.Claims, error)
}

// Recorder 登录相关指标
type Recorder interface {
	RecordCodeIssued()
	RecordCodeVerification(result string)
}

// Principal 已认证的身份，由中间件显式传给处理函数
type Principal struct {
	Email     string
	ExpiresAt time.Time
}

// Session 兑换成功后返回的会话
type Session struct {
	Token     string
	Email     string
	ExpiresAt time.Time
}

// RequestCodeInput 请求验证码输入，Honeypot 对应表单中对人隐藏的 website 字段
type RequestCodeInput struct {
	Email    string
	Honeypot string
	IP       string
}

// Service 登录服务
type Service struct {
	limiter    Limiter
	codes      CodeService
	dispatcher Dispatcher
	tokens     TokenManager
	recorder   Recorder
	log        *zap.Logger
}

// NewService 创建登录服务
func NewService(limiter Limiter, codes CodeService, dispatcher Dispatcher, tokens TokenManager, log *zap.Logger, recorder Recorder) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		limiter:    limiter,
		codes:      codes,
		dispatcher: dispatcher,
		tokens:     tokens,
		recorder:   recorder,
		log:        log.Named("auth"),
	}
}

// RequestCode 处理验证码请求。
// 校验失败和限流会返回错误；签发和投递失败只记录日志，调用方始终得到成功，
// 避免暴露邮箱是否存在或投递是否成功。
func (s *Service) RequestCode(ctx context.Context, input RequestCodeInput) error {
	email := domain.NormalizeEmail(input.Email)
	if !domain.ValidateEmail(email) {
		return ErrInvalidEmail
	}

	if strings.TrimSpace(input.Honeypot) != "" {
		s.log.Info("honeypot triggered, pretending success",
			logger.Email(email),
			zap.String("ip", input.IP))
		return nil
	}

	if err := s.limiter.Check(ctx, email, input.IP); err != nil {
		return err
	}

	code, err := s.codes.Issue(ctx, email, input.IP)
	if err != nil {
		s.log.Error("failed to issue login code", logger.Email(email), zap.Error(err))
		return nil
	}
	if s.recorder != nil {
		s.recorder.RecordCodeIssued()
	}

	if !s.dispatcher.Dispatch(email, code) {
		s.log.Warn("login code delivery not queued", logger.Email(email))
	}
	return nil
}

// Verify 兑换验证码，成功后签发会话令牌
func (s *Service) Verify(ctx context.Context, email, code string) (*Session, error) {
	email = domain.NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if !domain.ValidateEmail(email) || code == "" {
		return nil, ErrInvalidPayload
	}

	if err := s.codes.Verify(ctx, email, code); err != nil {
		if errors.Is(err, otp.ErrInvalidCode) {
			s.recordVerification("rejected")
			s.log.Info("login code rejected", logger.Email(email))
			return nil, ErrCodeRejected
		}
		s.recordVerification("error")
		return nil, err
	}

	token, expiresAt, err := s.tokens.Issue(email)
	if err != nil {
		s.recordVerification("error")
		return nil, err
	}

	s.recordVerification("accepted")
	s.log.Info("login succeeded", logger.Email(email))
	return &Session{Token: token, Email: email, ExpiresAt: expiresAt}, nil
}

// Authenticate 校验会话令牌并返回身份
func (s *Service) Authenticate(token string) (*Principal, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	principal := &Principal{Email: claims.Subject}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal, nil
}

func (s *Service) recordVerification(result string) {
	if s.recorder != nil {
		s.recorder.RecordCodeVerification(result)
	}
}
