package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"whisper/backend/internal/throttle"
)

// takeScript 在一次脚本执行内评估全部 key，全部放行时才写入。
// 每个 key 是一个以毫秒时间戳为分数的有序集合，只保留最近 24 小时。
//
// 返回 {拒绝的 key 序号(从 1 开始，0 表示放行), 拒绝类型, 重试毫秒数, 上限}
var takeScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])
local hourly = tonumber(ARGV[3])
local daily = tonumber(ARGV[4])
local hour = 3600000
local day = 86400000

local denied = 0
local kind = ""
local retry = 0
local limit = 0

for i, key in ipairs(KEYS) do
  redis.call("ZREMRANGEBYSCORE", key, "-inf", "(" .. (now - day))
  local k = ""
  local r = 0
  local l = 0
  local last = redis.call("ZREVRANGE", key, 0, 0, "WITHSCORES")
  if #last > 0 and cooldown > 0 and now - tonumber(last[2]) < cooldown then
    k = "cooldown"
    r = cooldown - (now - tonumber(last[2]))
  elseif redis.call("ZCOUNT", key, now - hour, "+inf") >= hourly then
    local oldest = redis.call("ZRANGEBYSCORE", key, now - hour, "+inf", "WITHSCORES", "LIMIT", 0, 1)
    k = "hourly"
    r = tonumber(oldest[2]) + hour - now
    l = hourly
  elseif redis.call("ZCARD", key) >= daily then
    local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
    k = "daily"
    r = tonumber(oldest[2]) + day - now
    l = daily
  end
  if k ~= "" then
    denied = i
    kind = k
    retry = r
    limit = l
  end
end

if denied > 0 then
  return {denied, kind, retry, limit}
end

for _, key in ipairs(KEYS) do
  redis.call("ZADD", key, now, now .. ":" .. ARGV[5])
  redis.call("PEXPIRE", key, day)
end
return {0, "", 0, 0}
`)

// WindowStore 基于 Redis 有序集合的限流窗口，多实例共享
type WindowStore struct {
	rdb    goredis.Scripter
	prefix string
}

var _ throttle.WindowStore = (*WindowStore)(nil)

// NewWindowStore 创建 Redis 窗口存储
func NewWindowStore(rdb goredis.Scripter, prefix string) *WindowStore {
	if prefix == "" {
		prefix = "whisper:throttle:"
	}
	return &WindowStore{rdb: rdb, prefix: prefix}
}

// Take 实现 throttle.WindowStore
func (s *WindowStore) Take(ctx context.Context, keys []string, policy throttle.Policy, now time.Time) (throttle.Decision, error) {
	redisKeys := make([]string, len(keys))
	for i, key := range keys {
		redisKeys[i] = s.prefix + key
	}

	res, err := takeScript.Run(ctx, s.rdb, redisKeys,
		now.UnixMilli(),
		policy.Cooldown.Milliseconds(),
		policy.HourlyCap,
		policy.DailyCap,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return throttle.Decision{}, fmt.Errorf("run throttle script: %w", err)
	}
	if len(res) != 4 {
		return throttle.Decision{}, fmt.Errorf("unexpected throttle script reply: %v", res)
	}

	index, _ := res[0].(int64)
	if index == 0 {
		return throttle.Decision{Allowed: true}, nil
	}
	if index < 1 || int(index) > len(keys) {
		return throttle.Decision{}, fmt.Errorf("unexpected throttle key index %d", index)
	}

	kind, _ := res[1].(string)
	retry, _ := res[2].(int64)
	limit, _ := res[3].(int64)

	return throttle.Decision{
		Key:        keys[index-1],
		Kind:       throttle.DenyKind(kind),
		Limit:      int(limit),
		RetryAfter: time.Duration(retry) * time.Millisecond,
	}, nil
}

// Sweep Redis 依赖键过期自动清理
func (s *WindowStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
