package keylock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"printkiosk/internal/config"
	"printkiosk/internal/services"
)

// Locker grants exclusive access to a key until the returned unlock is called.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// New builds the locker selected by locking.backend.
func New(cfg *config.Config, logger *slog.Logger) (Locker, error) {
	if cfg == nil {
		return NewLocal(), nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Locking.Backend)) {
	case "", "local":
		return NewLocal(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Locking.RedisAddr,
			Password: cfg.Locking.RedisPassword,
			DB:       cfg.Locking.RedisDB,
		})
		ttl := time.Duration(cfg.Locking.TTLSeconds) * time.Second
		return NewRedis(client, WithTTL(ttl), WithLogger(logger)), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "keylock", "new", fmt.Sprintf("unknown backend %q", cfg.Locking.Backend), nil)
	}
}
