package throttle

import (
	"context"
	"sync"
	"time"
)

type window struct {
	last time.Time
	hour []time.Time
	day  []time.Time
}

// MemoryStore 进程内窗口存储，适用于单实例部署
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryStore 创建内存窗口存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Take 实现 WindowStore
func (s *MemoryStore) Take(_ context.Context, keys []string, policy Policy, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type pending struct {
		key  string
		hour []time.Time
		day  []time.Time
	}
	staged := make([]pending, 0, len(keys))
	decision := Decision{Allowed: true}

	for _, key := range keys {
		w := s.windows[key]
		if w == nil {
			w = &window{}
		}
		hour := prune(w.hour, now, hourWindow)
		day := prune(w.day, now, dayWindow)

		if d, denied := evaluate(key, w.last, hour, day, policy, now); denied {
			decision = d
			continue
		}
		staged = append(staged, pending{key: key, hour: hour, day: day})
	}

	if !decision.Allowed {
		return decision, nil
	}

	for _, p := range staged {
		s.windows[p.key] = &window{
			last: now,
			hour: append(p.hour, now),
			day:  append(p.day, now),
		}
	}
	return decision, nil
}

// Sweep 删除窗口已经全部过期的 key，返回删除数量
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		w.hour = prune(w.hour, now, hourWindow)
		w.day = prune(w.day, now, dayWindow)
		if len(w.day) == 0 && now.Sub(w.last) >= dayWindow {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}

// Len 返回当前跟踪的 key 数量
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func evaluate(key string, last time.Time, hour, day []time.Time, policy Policy, now time.Time) (Decision, bool) {
	if !last.IsZero() && policy.Cooldown > 0 {
		if elapsed := now.Sub(last); elapsed < policy.Cooldown {
			return Decision{Key: key, Kind: DenyCooldown, RetryAfter: policy.Cooldown - elapsed}, true
		}
	}
	if len(hour) >= policy.HourlyCap {
		return Decision{Key: key, Kind: DenyHourly, Limit: policy.HourlyCap, RetryAfter: hour[0].Add(hourWindow).Sub(now)}, true
	}
	if len(day) >= policy.DailyCap {
		return Decision{Key: key, Kind: DenyDaily, Limit: policy.DailyCap, RetryAfter: day[0].Add(dayWindow).Sub(now)}, true
	}
	return Decision{}, false
}

// prune 返回仍在窗口内的时间戳副本，不修改入参
func prune(stamps []time.Time, now time.Time, span time.Duration) []time.Time {
	kept := make([]time.Time, 0, len(stamps)+1)
	for _, ts := range stamps {
		if now.Sub(ts) <= span {
			kept = append(kept, ts)
		}
	}
	return kept
}
