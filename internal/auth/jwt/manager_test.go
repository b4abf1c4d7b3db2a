package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whisper/backend/internal/domain"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func TestManagerIssueAndValidate(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(testSecret, "whisper", 7*24*time.Hour).WithClock(func() time.Time { return now })

	token, expiresAt, err := m.Issue("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), expiresAt)

	t.Run("有效令牌", func(t *testing.T) {
		claims, err := m.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", claims.Subject)
		assert.Equal(t, "alice@example.com", claims.Email)
	})

	t.Run("过期令牌", func(t *testing.T) {
		later := NewManager(testSecret, "whisper", time.Hour).
			WithClock(func() time.Time { return now.Add(8 * 24 * time.Hour) })
		_, err := later.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		assert.True(t, IsExpired(err))
	})

	t.Run("错误密钥", func(t *testing.T) {
		other := NewManager("another-secret-key-that-is-32-chars-long!!", "whisper", time.Hour)
		_, err := other.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.False(t, IsExpired(err))
	})

	t.Run("篡改令牌", func(t *testing.T) {
		_, err := m.Validate(token + "x")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("空令牌", func(t *testing.T) {
		_, err := m.Validate("")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("错误签发者", func(t *testing.T) {
		other := NewManager(testSecret, "someone-else", time.Hour).WithClock(func() time.Time { return now })
		_, err := other.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestManagerRejectsOtherAlgorithms(t *testing.T) {
	m := NewManager(testSecret, "", time.Hour)

	t.Run("none算法", func(t *testing.T) {
		claims := Claims{
			Email: "mallory@example.com",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "mallory@example.com",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = m.Validate(unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("HS512", func(t *testing.T) {
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "mallory@example.com",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = m.Validate(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("缺少过期时间", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice@example.com"}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = m.Validate(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
