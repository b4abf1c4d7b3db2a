package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected bool
	}{
		{"Valid email", "test@example.com", true},
		{"Valid email with subdomain", "user@mail.example.com", true},
		{"Valid email with numbers", "user123@example.com", true},
		{"Valid email with dots", "user.name@example.com", true},
		{"Valid email with plus", "user+tag@example.com", true},
		{"Invalid email - no @", "testexample.com", false},
		{"Invalid email - no domain", "test@", false},
		{"Invalid email - no local part", "@example.com", false},
		{"Invalid email - multiple @", "test@@example.com", false},
		{"Invalid email - empty", "", false},
		{"Invalid email - spaces", "test @example.com", false},
		{"Invalid email - display name", "Bob <bob@example.com>", false},
		{"Invalid email - bare host", "user@localhost", false},
		{"Invalid email - double dot", "a..b@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateEmail(tt.email))
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestValidateMessageText(t *testing.T) {
	t.Run("正常文本", func(t *testing.T) {
		text, err := ValidateMessageText("hello")
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
	})

	t.Run("空白文本", func(t *testing.T) {
		_, err := ValidateMessageText("   \n")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
		assert.Equal(t, "Message text is required", PublicMessage(err, ErrValidation))
	})

	t.Run("超长文本", func(t *testing.T) {
		_, err := ValidateMessageText(strings.Repeat("字", MaxMessageRunes+1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("边界长度", func(t *testing.T) {
		_, err := ValidateMessageText(strings.Repeat("字", MaxMessageRunes))
		assert.NoError(t, err)
	})
}

func TestOneTimeCodeUsable(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	code := &OneTimeCode{ExpiresAt: now.Add(time.Minute)}

	assert.True(t, code.Usable(now))
	assert.False(t, code.Usable(now.Add(time.Minute)))

	code.Used = true
	assert.False(t, code.Usable(now))
}
