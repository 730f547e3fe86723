package guard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitScript prunes, checks every window and optionally appends in one
// server-side step.
//
// KEYS[1] sorted set of the identity, scored by unix millis.
// ARGV[1] prune bound (inclusive), ARGV[2] "1" to append, ARGV[3] member,
// ARGV[4] score of now, ARGV[5] ttl millis, then pairs of
// exclusive window lower bound ("(<millis>") and limit.
var admitScript = redis.NewScript(`
local key = KEYS[1]
redis.call("ZREMRANGEBYSCORE", key, "-inf", ARGV[1])
for i = 6, #ARGV, 2 do
  local count = redis.call("ZCOUNT", key, ARGV[i], "+inf")
  if count >= tonumber(ARGV[i + 1]) then
    return 0
  end
end
if ARGV[2] == "1" then
  redis.call("ZADD", key, ARGV[4], ARGV[3])
  redis.call("PEXPIRE", key, ARGV[5])
end
return 1
`)

// RedisLog keeps timestamps in Redis sorted sets so several processes can
// share one rate budget per identity.
type RedisLog struct {
	client *redis.Client
	prefix string
}

var _ Log = (*RedisLog)(nil)

type RedisLogOption func(*RedisLog)

func WithKeyPrefix(prefix string) RedisLogOption {
	return func(l *RedisLog) { l.prefix = strings.Trim(prefix, ":") }
}

func NewRedisLog(client *redis.Client, opts ...RedisLogOption) *RedisLog {
	l := &RedisLog{
		client: client,
		prefix: "outfit:guard",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLog) key(identity string) string {
	return l.prefix + ":" + strings.ToLower(strings.TrimSpace(identity))
}

func (l *RedisLog) Admit(ctx context.Context, identity string, now time.Time, windows []Window, commit bool) (bool, error) {
	retention := retentionOf(windows)
	nowMillis := now.UnixMilli()

	commitFlag := "0"
	if commit {
		commitFlag = "1"
	}

	args := []interface{}{
		strconv.FormatInt(nowMillis-retention.Milliseconds(), 10),
		commitFlag,
		uuid.New().String(),
		strconv.FormatInt(nowMillis, 10),
		strconv.FormatInt(retention.Milliseconds(), 10),
	}
	for _, w := range windows {
		args = append(args, "("+strconv.FormatInt(nowMillis-w.Span.Milliseconds(), 10), w.Limit)
	}

	result, err := admitScript.Run(ctx, l.client, []string{l.key(identity)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis admit for %s: %w", identity, err)
	}
	return result == 1, nil
}

// Count returns how many entries identity holds, stale ones included.
func (l *RedisLog) Count(ctx context.Context, identity string) (int64, error) {
	n, err := l.client.ZCard(ctx, l.key(identity)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count for %s: %w", identity, err)
	}
	return n, nil
}
