package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type sendEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SendLimiter 按身份限制发消息频率，基于令牌桶
type SendLimiter struct {
	mu      sync.Mutex
	entries map[string]*sendEntry
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewSendLimiter 创建发言限流器，perMinute 为每分钟补充的令牌数
func NewSendLimiter(perMinute, burst int) *SendLimiter {
	return &SendLimiter{
		entries: make(map[string]*sendEntry),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow 消耗一个令牌，令牌不足时返回 false
func (s *SendLimiter) Allow(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[identity]
	if !ok {
		entry = &sendEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[identity] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Sweep 删除闲置超过 idle 的身份
func (s *SendLimiter) Sweep(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for identity, entry := range s.entries {
		if now.Sub(entry.lastSeen) > idle {
			delete(s.entries, identity)
			removed++
		}
	}
	return removed
}
