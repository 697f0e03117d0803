package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"timecapsule/backend/internal/storage"
)

// 只删除仍由自己持有的锁
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 基于 SET NX 的 Redis 互斥锁
type Locker struct {
	rdb    *goredis.Client
	prefix string
	log    *zap.Logger
}

var _ storage.Locker = (*Locker)(nil)

// NewLocker 创建 Redis 锁
func NewLocker(client *Client) *Locker {
	return &Locker{
		rdb:    client.rdb,
		prefix: "timecapsule:lock:",
		log:    client.log,
	}
}

// TryLock 尝试获取锁，锁在 ttl 后自动过期
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	fullKey := l.prefix + key
	owner := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, fullKey, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// 释放时不使用调用方的 ctx，避免其已取消
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.rdb, []string{fullKey}, owner).Err(); err != nil {
			l.log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}
