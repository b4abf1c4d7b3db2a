// Package throttle 实现验证码请求的滥用限流：冷却间隔、每小时上限和每日上限，
// 同时作用于身份 key 和来源 key。
package throttle

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// 默认策略
const (
	DefaultCooldown  = 30 * time.Second
	DefaultHourlyCap = 9
	DefaultDailyCap  = 17
)

// Policy 限流策略
type Policy struct {
	Cooldown  time.Duration
	HourlyCap int
	DailyCap  int
}

// DefaultPolicy 返回默认策略
func DefaultPolicy() Policy {
	return Policy{
		Cooldown:  DefaultCooldown,
		HourlyCap: DefaultHourlyCap,
		DailyCap:  DefaultDailyCap,
	}
}

// DenyKind 拒绝原因
type DenyKind string

const (
	DenyNone     DenyKind = ""
	DenyCooldown DenyKind = "cooldown"
	DenyHourly   DenyKind = "hourly"
	DenyDaily    DenyKind = "daily"
)

// Decision 一次检查的结果。被拒绝时 Key 为最后一个拒绝的 key
type Decision struct {
	Allowed    bool
	Key        string
	Kind       DenyKind
	Limit      int
	RetryAfter time.Duration
}

// Reason 返回面向客户端的拒绝原因
func (d Decision) Reason() string {
	switch d.Kind {
	case DenyCooldown:
		return fmt.Sprintf("Cooldown: wait %ds", ceilSeconds(d.RetryAfter))
	case DenyHourly:
		return fmt.Sprintf("Rate limit: %d per hour reached", d.Limit)
	case DenyDaily:
		return fmt.Sprintf("Rate limit: %d per day reached", d.Limit)
	default:
		return ""
	}
}

// WindowStore 保存每个 key 的请求时间窗口
//
// Take 必须在同一个临界区内评估全部 key，只有全部放行时才为每个 key 记录 now，
// 任何拒绝都不能改变已有窗口。
type WindowStore interface {
	Take(ctx context.Context, keys []string, policy Policy, now time.Time) (Decision, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// IdentityKey 身份维度的限流 key
func IdentityKey(email string) string {
	return "email:" + email
}

// OriginKey 来源维度的限流 key
func OriginKey(ip string) string {
	return "ip:" + ip
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
