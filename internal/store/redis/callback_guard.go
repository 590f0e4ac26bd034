package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const guardPrefix = "masjidpay:callback:"

// CallbackGuard remembers reconciled callback fingerprints for a while so
// gateway re-deliveries skip the store.
type CallbackGuard struct {
	R   *redis.Client
	TTL time.Duration
}

// NewCallbackGuard returns a guard keeping keys for ttl (24h when unset).
func NewCallbackGuard(client *redis.Client, ttl time.Duration) *CallbackGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CallbackGuard{R: client, TTL: ttl}
}

// Seen reports whether key was remembered and has not expired.
func (g *CallbackGuard) Seen(ctx context.Context, key string) (bool, error) {
	if g.R == nil {
		return false, errors.New("callback guard: redis client not configured")
	}
	n, err := g.R.Exists(ctx, guardPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remember stores key. An existing key keeps its original expiry.
func (g *CallbackGuard) Remember(ctx context.Context, key string) error {
	if g.R == nil {
		return errors.New("callback guard: redis client not configured")
	}
	return g.R.SetNX(ctx, guardPrefix+key, time.Now().UTC().Format(time.RFC3339), g.TTL).Err()
}
