package keylock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"printkiosk/internal/logging"
	"printkiosk/internal/services"
)

const (
	defaultTTL        = 30 * time.Second
	defaultKeyPrefix  = "printkiosk:lock:"
	initialRetryDelay = 10 * time.Millisecond
	maxRetryDelay     = 250 * time.Millisecond
	releaseTimeout    = 2 * time.Second
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// lease is the remote half of a distributed lock.
type lease interface {
	acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) error
}

type redisLease struct {
	rdb *redis.Client
}

func (r redisLease) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, token, ttl).Result()
}

func (r redisLease) release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, r.rdb, []string{key}, token).Err()
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL bounds how long a crashed holder can keep a key.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithPrefix namespaces lock keys.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Redis holds a local lock for in-process waiters and then a Redis lease
// for cross-process exclusion.
type Redis struct {
	local  *Local
	lease  lease
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedis builds a Redis backed locker on client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	return newRedis(redisLease{rdb: client}, opts...)
}

func newRedis(backend lease, opts ...RedisOption) *Redis {
	r := &Redis{
		local:  NewLocal(),
		lease:  backend,
		ttl:    defaultTTL,
		prefix: defaultKeyPrefix,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "keylock")
	return r
}

// Lock takes the local lock for key, then polls the Redis lease with
// backoff until it is granted or ctx ends.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := r.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	token, err := newToken()
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("lock token: %w", err)
	}
	remoteKey := r.prefix + key

	delay := initialRetryDelay
	for {
		ok, err := r.lease.acquire(ctx, remoteKey, token, r.ttl)
		if err != nil {
			unlockLocal()
			return nil, services.Wrap(services.ErrUnavailable, "keylock", "acquire", "redis lease failed", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.unlock(key, remoteKey, token, unlockLocal) })
	}, nil
}

func (r *Redis) unlock(key, remoteKey, token string, unlockLocal func()) {
	defer unlockLocal()
	releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := r.lease.release(releaseCtx, remoteKey, token); err != nil {
		logging.WarnWithContext(r.logger, "redis lease release failed", "keylock_release_failed",
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "lease expires after the configured ttl"),
			logging.String(logging.FieldImpact, "other kiosks wait until the lease expires"),
		)
	}
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
