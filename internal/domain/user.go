package domain

import "time"

// User 邮箱身份，首次请求验证码或首次发言时惰性创建
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email     string    `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// OneTimeCode 一次性登录验证码，只保存带密钥的哈希
type OneTimeCode struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	Email     string    `gorm:"type:varchar(255);not null;index:idx_login_otps_lookup,priority:1"`
	CodeHash  string    `gorm:"type:varchar(128);not null"`
	Used      bool      `gorm:"not null;default:false;index:idx_login_otps_lookup,priority:2"`
	IP        string    `gorm:"type:varchar(64)"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index:idx_login_otps_lookup,priority:3"`
}

// TableName 指定表名
func (OneTimeCode) TableName() string {
	return "login_otps"
}

// Usable 判断验证码在给定时刻是否仍可兑换
func (c *OneTimeCode) Usable(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}
