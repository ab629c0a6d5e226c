package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held lock; Release is safe to call once.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out short-lived exclusive locks, shared through redis when a
// client is configured.
type Locker struct {
	client *redislock.Client

	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

func NewLocker(client *redis.Client) *Locker {
	l := &Locker{
		held:  make(map[string]time.Time),
		nowFn: time.Now,
	}
	if client != nil {
		l.client = redislock.New(client)
	}
	return l
}

// Obtain returns ErrNotObtained when another holder owns key.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if l.client != nil {
		lock, err := l.client.Obtain(ctx, key, ttl, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrNotObtained
		}
		if err != nil {
			return nil, err
		}
		return lock, nil
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, ErrNotObtained
	}
	l.held[key] = now.Add(ttl)
	return &localLock{locker: l, key: key}, nil
}

type localLock struct {
	locker *Locker
	key    string
	once   sync.Once
}

func (l *localLock) Release(context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.key)
		l.locker.mu.Unlock()
	})
	return nil
}
