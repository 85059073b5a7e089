package utils

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisConfigDefaults(t *testing.T) {
	got := RedisConfig{Addr: "localhost:6379", PoolSize: 3}.withDefaults()
	if got.PoolSize != 3 {
		t.Fatalf("explicit pool size overwritten: %d", got.PoolSize)
	}
	if got.DialTimeout != 3*time.Second || got.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected timeouts: %+v", got)
	}
	if got.ConnMaxIdleTime != 5*time.Minute {
		t.Fatalf("unexpected idle time: %v", got.ConnMaxIdleTime)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestAcquireSlot_ValidatesRequest(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name string
		req  SlotRequest
		want string
	}{
		{"no key", SlotRequest{Holder: "h", Limit: 1, TTL: time.Second}, "key"},
		{"no holder", SlotRequest{Key: "k", Limit: 1, TTL: time.Second}, "holder"},
		{"zero limit", SlotRequest{Key: "k", Holder: "h", TTL: time.Second}, "limit"},
		{"zero ttl", SlotRequest{Key: "k", Holder: "h", Limit: 1}, "ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AcquireSlot(ctx, rdb, tt.req, now)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q error, got %v", tt.want, err)
			}
		})
	}
}

func TestSlotHelpers_NilClient(t *testing.T) {
	ctx := context.Background()
	req := SlotRequest{Key: "k", Holder: "h", Limit: 1, TTL: time.Second}
	if _, err := AcquireSlot(ctx, nil, req, time.Now()); err == nil {
		t.Fatalf("expected error for nil client on acquire")
	}
	if err := ReleaseSlot(ctx, nil, "k", "h"); err == nil {
		t.Fatalf("expected error for nil client on release")
	}
}
