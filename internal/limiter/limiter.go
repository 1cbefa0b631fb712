// Package limiter throttles failed kid logins per child with Redis counters.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghaggin/envelope/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrRateLimited = errors.New("too many failed attempts")

// Limiter counts failed logins. The zero value, or one built without a
// redis address, never limits.
type Limiter struct {
	redis       redis.UniversalClient
	maxAttempts int
	cooldown    time.Duration
}

type Params struct {
	fx.In

	LC     fx.Lifecycle
	Config *config.Config
	Log    *zap.Logger
}

func New(p Params) (*Limiter, error) {
	cfg := p.Config.Limiter
	if cfg.RedisAddr == "" {
		p.Log.Info("kid login limiter disabled, no redis address configured")
		return &Limiter{}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			return client.Close()
		},
	})

	return newLimiter(client, cfg), nil
}

func newLimiter(client redis.UniversalClient, cfg config.Limiter) *Limiter {
	return &Limiter{
		redis:       client,
		maxAttempts: cfg.MaxAttempts,
		cooldown:    cfg.Cooldown,
	}
}

func (l *Limiter) enabled() bool {
	return l != nil && l.redis != nil
}

// Check returns ErrRateLimited once childID has used up its attempts.
func (l *Limiter) Check(ctx context.Context, childID string) error {
	if !l.enabled() {
		return nil
	}

	count, err := l.redis.Get(ctx, key(childID)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	if count >= int64(l.maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Fail records a failed attempt. The counter expires cooldown after the
// first failure.
func (l *Limiter) Fail(ctx context.Context, childID string) error {
	if !l.enabled() {
		return nil
	}

	k := key(childID)
	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.cooldown).Err(); err != nil {
			return err
		}
	}

	if count >= int64(l.maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter after a successful login.
func (l *Limiter) Reset(ctx context.Context, childID string) error {
	if !l.enabled() {
		return nil
	}
	return l.redis.Del(ctx, key(childID)).Err()
}

func key(childID string) string {
	return "envelope:kid_login:" + childID
}
