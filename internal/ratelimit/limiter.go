package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/kantoor/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyPrefix = "kantoor:ratelimit:"

var (
	ErrRateLimited     = errors.New("rate_limited")
	ErrEmptyIdentity   = errors.New("rate limit identity is empty")
	ErrInvalidInterval = errors.New("rate limit interval must be positive")
)

// Result reports whether a request may proceed and, if not, how long the
// caller should wait.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Params struct {
	fx.In

	Client *redis.Client `optional:"true"`
	Clock  clock.Clock
	Log    *zap.Logger
}

// Limiter admits at most one request per identity per interval. With redis
// the window is shared across instances; otherwise it is per process.
type Limiter struct {
	client *redis.Client
	clock  clock.Clock
	log    *zap.Logger

	mu    sync.Mutex
	local map[string]time.Time
}

func NewLimiter(p Params) *Limiter {
	return &Limiter{
		client: p.Client,
		clock:  p.Clock,
		log:    p.Log.Named("ratelimit"),
		local:  make(map[string]time.Time),
	}
}

// Allow claims the identity's window. A redis failure degrades to the
// in-memory window instead of rejecting the request.
func (l *Limiter) Allow(ctx context.Context, identity string, minInterval time.Duration) (Result, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Result{}, ErrEmptyIdentity
	}
	if minInterval <= 0 {
		return Result{}, ErrInvalidInterval
	}

	if l.client != nil {
		result, err := l.allowRedis(ctx, identity, minInterval)
		if err == nil {
			return result, nil
		}
		l.log.Warn("redis rate limit check failed, using local window",
			zap.String("identity", identity),
			zap.Error(err),
		)
	}
	return l.allowLocal(identity, minInterval), nil
}

func (l *Limiter) allowRedis(ctx context.Context, identity string, interval time.Duration) (Result, error) {
	key := keyPrefix + identity
	now := l.clock.Now().UnixMilli()

	ok, err := l.client.SetNX(ctx, key, strconv.FormatInt(now, 10), interval).Result()
	if err != nil {
		return Result{}, err
	}
	if ok {
		return Result{Allowed: true}, nil
	}

	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		return Result{}, err
	}
	if ttl <= 0 {
		ttl = interval
	}
	return Result{Allowed: false, RetryAfter: ttl}, nil
}

func (l *Limiter) allowLocal(identity string, interval time.Duration) Result {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.local[identity]; ok && now.Before(until) {
		return Result{Allowed: false, RetryAfter: until.Sub(now)}
	}
	l.local[identity] = now.Add(interval)

	for key, until := range l.local {
		if !now.Before(until) && key != identity {
			delete(l.local, key)
		}
	}
	return Result{Allowed: true}
}

// RetryAfterSeconds rounds up to whole seconds for the Retry-After header.
func (r Result) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 1
	}
	seconds := int((r.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
