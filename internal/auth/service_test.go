package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whisper/backend/internal/auth/jwt"
	"whisper/backend/internal/domain"
	"whisper/backend/internal/otp"
	"whisper/backend/internal/storage/memory"
	"whisper/backend/internal/throttle"
)

type capturingDispatcher struct {
	mu    sync.Mutex
	codes map[string]string
	calls int
}

func (d *capturingDispatcher) Dispatch(email, code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.codes == nil {
		d.codes = make(map[string]string)
	}
	d.codes[email] = code
	d.calls++
	return true
}

func (d *capturingDispatcher) code(email string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.codes[email]
}

type failingCodes struct{}

func (failingCodes) Issue(context.Context, string, string) (string, error) {
	return "", errors.New("database unavailable")
}

func (failingCodes) Verify(context.Context, string, string) error {
	return errors.New("database unavailable")
}

type fixture struct {
	service    *Service
	store      *memory.Store
	dispatcher *capturingDispatcher
	tokens     *jwt.Manager
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      memory.NewStore(),
		dispatcher: &capturingDispatcher{},
		now:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	limiter := throttle.NewLimiter(throttle.NewMemoryStore(), throttle.DefaultPolicy(), zap.NewNop(), nil).WithClock(clock)
	codes := otp.NewService(f.store, otp.Config{TTL: 10 * time.Minute, Length: 6, Pepper: "pepper"}, zap.NewNop()).WithClock(clock)
	f.tokens = jwt.NewManager(strings.Repeat("s", 32), "whisper", 7*24*time.Hour).WithClock(clock)
	f.service = NewService(limiter, codes, f.dispatcher, f.tokens, zap.NewNop(), nil)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestRequestCode(t *testing.T) {
	ctx := context.Background()

	t.Run("无效邮箱", func(t *testing.T) {
		f := newFixture(t)
		for _, email := range []string{"", "not-an-email", "a@b", "Name <a@x.com>"} {
			err := f.service.RequestCode(ctx, RequestCodeInput{Email: email, IP: "1.2.3.4"})
			assert.ErrorIs(t, err, domain.ErrValidation, email)
		}
		assert.Zero(t, f.dispatcher.calls)
	})

	t.Run("蜜罐字段静默成功", func(t *testing.T) {
		f := newFixture(t)
		err := f.service.RequestCode(ctx, RequestCodeInput{Email: "a@x.com", Honeypot: "http://spam", IP: "1.2.3.4"})
		require.NoError(t, err)
		assert.Zero(t, f.dispatcher.calls)

		// 蜜罐请求不占用限流额度
		require.NoError(t, f.service.RequestCode(ctx, RequestCodeInput{Email: "a@x.com", IP: "1.2.3.4"}))
		assert.Equal(t, 1, f.dispatcher.calls)
	})

	t.Run("邮箱被规范化", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.service.RequestCode(ctx, RequestCodeInput{Email: "  Alice@Example.COM "}))
		assert.Len(t, f.dispatcher.code("alice@example.com"), 6)

		_, err := f.store.GetUserByEmail(ctx, "alice@example.com")
		assert.NoError(t, err)
	})

	t.Run("冷却期内第二次请求被拒绝", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.service.RequestCode(ctx, RequestCodeInput{Email: "a@x.com", IP: "1.2.3.4"}))

		f.advance(10 * time.Second)
		err := f.service.RequestCode(ctx, RequestCodeInput{Email: "a@x.com", IP: "1.2.3.4"})
		var rl *domain.RateLimitError
		require.ErrorAs(t, err, &rl)
		assert.Equal(t, "Cooldown: wait 20s", rl.Reason)
		assert.Equal(t, 1, f.dispatcher.calls)
	})

	t.Run("签发失败不暴露给调用方", func(t *testing.T) {
		f := newFixture(t)
		limiter := throttle.NewLimiter(throttle.NewMemoryStore(), throttle.DefaultPolicy(), zap.NewNop(), nil)
		service := NewService(limiter, failingCodes{}, f.dispatcher, f.tokens, zap.NewNop(), nil)

		require.NoError(t, service.RequestCode(ctx, RequestCodeInput{Email: "a@x.com"}))
		assert.Zero(t, f.dispatcher.calls)
	})
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("完整登录流程", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.service.RequestCode(ctx, RequestCodeInput{Email: "a@x.com", IP: "1.2.3.4"}))
		code := f.dispatcher.code("a@x.com")

		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}
		_, err := f.service.Verify(ctx, "a@x.com", wrong)
		assert.ErrorIs(t, err, ErrCodeRejected)

		session, err := f.service.Verify(ctx, "a@x.com", code)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", session.Email)
		assert.Equal(t, f.now.Add(7*24*time.Hour), session.ExpiresAt)

		principal, err := f.service.Authenticate(session.Token)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", principal.Email)
		assert.Equal(t, session.ExpiresAt.Unix(), principal.ExpiresAt.Unix())
	})

	t.Run("验证码只能使用一次", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.service.RequestCode(ctx, RequestCodeInput{Email: "a@x.com"}))
		code := f.dispatcher.code("a@x.com")

		_, err := f.service.Verify(ctx, "a@x.com", code)
		require.NoError(t, err)

		_, err = f.service.Verify(ctx, "a@x.com", code)
		assert.ErrorIs(t, err, ErrCodeRejected)
	})

	t.Run("过期验证码被拒绝", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.service.RequestCode(ctx, RequestCodeInput{Email: "a@x.com"}))
		code := f.dispatcher.code("a@x.com")

		f.advance(11 * time.Minute)
		_, err := f.service.Verify(ctx, "a@x.com", code)
		assert.ErrorIs(t, err, ErrCodeRejected)
	})

	t.Run("验证码绑定邮箱", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.service.RequestCode(ctx, RequestCodeInput{Email: "a@x.com"}))
		code := f.dispatcher.code("a@x.com")

		_, err := f.service.Verify(ctx, "b@x.com", code)
		assert.ErrorIs(t, err, ErrCodeRejected)
	})

	t.Run("无效请求", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Verify(ctx, "bad", "123456")
		assert.ErrorIs(t, err, ErrInvalidPayload)

		_, err = f.service.Verify(ctx, "a@x.com", " ")
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("存储错误原样返回", func(t *testing.T) {
		f := newFixture(t)
		service := NewService(nil, failingCodes{}, f.dispatcher, f.tokens, zap.NewNop(), nil)

		_, err := service.Verify(ctx, "a@x.com", "123456")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrValidation)
	})
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)

	t.Run("其他密钥签发的令牌", func(t *testing.T) {
		other := jwt.NewManager(strings.Repeat("x", 32), "whisper", time.Hour)
		token, _, err := other.Issue("a@x.com")
		require.NoError(t, err)

		_, err = f.service.Authenticate(token)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("过期令牌", func(t *testing.T) {
		token, _, err := f.tokens.Issue("a@x.com")
		require.NoError(t, err)

		f.advance(8 * 24 * time.Hour)
		_, err = f.service.Authenticate(token)
		assert.ErrorIs(t, err, jwt.ErrInvalidToken)
	})
}
