package memory

import (
	"context"
	"sync"
	"time"

	"timecapsule/backend/internal/storage"
)

// Locker 进程内互斥锁，未配置 Redis 时用于投递扫描互斥
type Locker struct {
	mu   sync.Mutex
	held map[string]time.Time // key -> 过期时间
}

var _ storage.Locker = (*Locker)(nil)

// NewLocker 创建进程内锁
func NewLocker() *Locker {
	return &Locker{held: make(map[string]time.Time)}
}

// TryLock 尝试获取锁，已过期的锁视为空闲
func (l *Locker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expiresAt, ok := l.held[key]; ok && now.Before(expiresAt) {
		return nil, false, nil
	}

	expiresAt := now.Add(ttl)
	l.held[key] = expiresAt

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// 锁过期后可能已被他人重新获取
			if current, ok := l.held[key]; ok && current.Equal(expiresAt) {
				delete(l.held, key)
			}
		})
	}
	return release, true, nil
}
