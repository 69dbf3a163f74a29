package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard 记录已使用的 (签名者, 随机串)，防止在时间窗口内被重放。
type ReplayGuard interface {
	// Remember 返回 true 表示该键首次出现。
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryReplayGuard 在进程内记录已用随机串。
type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

var _ ReplayGuard = (*MemoryReplayGuard)(nil)

// NewMemoryReplayGuard 创建内存防重放表。
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{seen: make(map[string]time.Time), now: time.Now}
}

// Remember 实现 ReplayGuard 接口，并顺带清理过期条目。
func (g *MemoryReplayGuard) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, exp := range g.seen {
		if now.After(exp) {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[key]; ok {
		return false, nil
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}

// RedisReplayGuard 借助 SETNX 在多实例之间共享防重放表。
type RedisReplayGuard struct {
	client redis.UniversalClient
	prefix string
}

var _ ReplayGuard = (*RedisReplayGuard)(nil)

// NewRedisReplayGuard 使用已有客户端创建防重放表。
func NewRedisReplayGuard(client redis.UniversalClient, prefix string) *RedisReplayGuard {
	if prefix == "" {
		prefix = "ledger:auth:nonce:"
	}
	return &RedisReplayGuard{client: client, prefix: prefix}
}

// Remember 实现 ReplayGuard 接口。
func (g *RedisReplayGuard) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+key, 1, ttl).Result()
}
