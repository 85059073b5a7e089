package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds client and pool settings. Zero values fall back to defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	ConnMaxIdleTime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis builds a client and checks it with PING before returning.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// Slots live in a sorted set: member is the holder, score is its expiry in unix ms.
// Expired holders are pruned before counting so a crashed process frees its slots.
var acquireSlotScript = redis.NewScript(`
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)
if redis.call('ZSCORE', KEYS[1], ARGV[2]) then
  redis.call('ZADD', KEYS[1], now + tonumber(ARGV[4]), ARGV[2])
  return 1
end
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], now + tonumber(ARGV[4]), ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

var releaseSlotScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// SlotRequest names one holder competing for a capped pool of slots under Key.
type SlotRequest struct {
	Key    string
	Holder string
	Limit  int
	TTL    time.Duration
}

func (r SlotRequest) validate() error {
	switch {
	case r.Key == "":
		return errors.New("slot: key is required")
	case r.Holder == "":
		return errors.New("slot: holder is required")
	case r.Limit <= 0:
		return errors.New("slot: limit must be > 0")
	case r.TTL <= 0:
		return errors.New("slot: ttl must be > 0")
	}
	return nil
}

// AcquireSlot claims a slot for req.Holder. It reports false when Limit holders
// are already live. Re-acquiring as an existing holder refreshes its expiry.
func AcquireSlot(ctx context.Context, rdb redis.Scripter, req SlotRequest, now time.Time) (bool, error) {
	if rdb == nil {
		return false, errors.New("slot: redis client is nil")
	}
	if err := req.validate(); err != nil {
		return false, err
	}
	res, err := acquireSlotScript.Run(ctx, rdb, []string{req.Key},
		now.UnixMilli(), req.Holder, req.Limit, req.TTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("slot: acquire: %w", err)
	}
	return res == 1, nil
}

// ReleaseSlot frees the holder's slot. Releasing an unknown holder is a no-op.
func ReleaseSlot(ctx context.Context, rdb redis.Scripter, key, holder string) error {
	if rdb == nil {
		return errors.New("slot: redis client is nil")
	}
	if key == "" || holder == "" {
		return errors.New("slot: key and holder are required")
	}
	if err := releaseSlotScript.Run(ctx, rdb, []string{key}, holder).Err(); err != nil {
		return fmt.Errorf("slot: release: %w", err)
	}
	return nil
}
