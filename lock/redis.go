/*
Package lock provides a distributed conference.Locker backed by Redis.

PURPOSE:
  The in-process KeyedMutex only serializes callers within one process. When
  several API replicas share one database, per-conference serialization has
  to live in Redis instead.

SEMANTICS:
  - Acquire polls with a linear backoff up to a bounded number of retries
  - A key that stays held is reported as conference.ErrConcurrentModification,
    which the engine retries and the API maps to 503
  - The lock TTL bounds how long a crashed holder blocks the conference
  - A live holder refreshes the TTL every TTL/2 until it releases, so a long
    finalize keeps the conference to itself

USAGE:
  rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
  locker := lock.NewRedisLocker(rdb, lock.Options{TTL: 30 * time.Second})
  engine := conference.NewEngine(store, ledger, catalog, conference.WithLocker(locker))

SEE ALSO:
  - conference/lock.go: Locker interface and in-process KeyedMutex
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/stock-conference/conference"
)

const (
	DefaultTTL        = 30 * time.Second
	DefaultRetryEvery = 25 * time.Millisecond
	DefaultRetries    = 40
	DefaultPrefix     = "stock-conference:lock:"
)

type Options struct {
	TTL        time.Duration
	RetryEvery time.Duration
	Retries    int
	Prefix     string
	Logger     *zap.Logger
}

type RedisLocker struct {
	client *redislock.Client
	opts   Options
}

var _ conference.Locker = (*RedisLocker)(nil)

func NewRedisLocker(rdb redis.UniversalClient, opts Options) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = DefaultRetryEvery
	}
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &RedisLocker{client: redislock.New(rdb), opts: opts}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lk, err := l.client.Obtain(ctx, l.opts.Prefix+key, l.opts.TTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.opts.RetryEvery), l.opts.Retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: lock %s is held", conference.ErrConcurrentModification, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(lk, key, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped

			// The caller's ctx may already be cancelled; release regardless.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lk.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.opts.Logger.Warn("failed to release redis lock",
					zap.String("key", key),
					zap.Error(err),
				)
			}
		})
	}, nil
}

// keepAlive extends the lock TTL every TTL/2 until stop is closed or the
// lock is lost.
func (l *RedisLocker) keepAlive(lk *redislock.Lock, key string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(l.opts.TTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.opts.TTL/2)
			err := lk.Refresh(ctx, l.opts.TTL, nil)
			cancel()
			if err != nil {
				l.opts.Logger.Warn("failed to refresh redis lock",
					zap.String("key", key),
					zap.Error(err),
				)
				if errors.Is(err, redislock.ErrNotObtained) {
					return
				}
			}
		}
	}
}

// Connect opens a Redis client and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", addr, err)
	}
	return rdb, nil
}
