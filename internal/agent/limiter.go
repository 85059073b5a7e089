package agent

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"voice-lead-agent/pkg/utils"
)

var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = (*LocalLimiter)(nil)
)

// RedisLimiter shares the call cap across every process using the same key.
// A slot expires after ttl if its holder dies without releasing.
type RedisLimiter struct {
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
	now   func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, key string, limit int, ttl time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, key: key, limit: limit, ttl: ttl, now: time.Now}
}

func (l *RedisLimiter) Acquire(ctx context.Context, holder string) (bool, error) {
	return utils.AcquireSlot(ctx, l.rdb, utils.SlotRequest{
		Key:    l.key,
		Holder: holder,
		Limit:  l.limit,
		TTL:    l.ttl,
	}, l.now())
}

func (l *RedisLimiter) Release(ctx context.Context, holder string) error {
	return utils.ReleaseSlot(ctx, l.rdb, l.key, holder)
}

// LocalLimiter caps calls within this process.
type LocalLimiter struct {
	mu      sync.Mutex
	limit   int
	holders map[string]struct{}
}

func NewLocalLimiter(limit int) *LocalLimiter {
	return &LocalLimiter{limit: limit, holders: make(map[string]struct{})}
}

func (l *LocalLimiter) Acquire(_ context.Context, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.holders[holder]; ok {
		return true, nil
	}
	if len(l.holders) >= l.limit {
		return false, nil
	}
	l.holders[holder] = struct{}{}
	return true, nil
}

func (l *LocalLimiter) Release(_ context.Context, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holders, holder)
	return nil
}
