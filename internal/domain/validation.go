package domain

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

var (
	// 本地部分允许常见的 atext 字符
	localPartRegex = regexp.MustCompile(`^[a-zA-Z0-9!#$%&'*+/=?^_{|}~.-]+$`)

	// 域名必须至少包含一个点
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)
)

// NormalizeEmail 去除首尾空白并转为小写
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail 检查邮箱格式，只接受裸地址，不接受带显示名的形式
func ValidateEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLength {
		return false
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return false
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	local, host := email[:at], email[at+1:]

	if len(local) > MaxLocalPartLength || !localPartRegex.MatchString(local) {
		return false
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
		return false
	}
	if len(host) > MaxDomainLength || !domainRegex.MatchString(host) {
		return false
	}

	return true
}

// ValidateMessageText 检查文本消息内容，返回规范化后的文本
func ValidateMessageText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ValidationError("Message text is required")
	}
	if !utf8.ValidString(text) {
		return "", ValidationError("Message text must be valid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return "", ValidationError("Message text is too long")
	}
	return text, nil
}
