package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ghaggin/envelope/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return newLimiter(client, config.Limiter{MaxAttempts: 3, Cooldown: time.Minute}), mr
}

func Test_Limiter_locksAfterMaxAttempts(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()
	l, _ := newTestLimiter(t)

	require.NoError(l.Check(ctx, "abc123"))
	require.NoError(l.Fail(ctx, "abc123"))
	require.NoError(l.Fail(ctx, "abc123"))
	require.NoError(l.Check(ctx, "abc123"))

	assert.ErrorIs(l.Fail(ctx, "abc123"), ErrRateLimited)
	assert.ErrorIs(l.Check(ctx, "abc123"), ErrRateLimited)

	// other children are unaffected
	assert.NoError(l.Check(ctx, "xyz789"))
}

func Test_Limiter_cooldown(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t)

	for i := 0; i < 3; i++ {
		_ = l.Fail(ctx, "abc123")
	}
	require.ErrorIs(t, l.Check(ctx, "abc123"), ErrRateLimited)

	mr.FastForward(time.Minute)
	assert.NoError(t, l.Check(ctx, "abc123"))
}

func Test_Limiter_Reset(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t)

	for i := 0; i < 3; i++ {
		_ = l.Fail(ctx, "abc123")
	}
	require.NoError(t, l.Reset(ctx, "abc123"))
	assert.NoError(t, l.Check(ctx, "abc123"))
}

func Test_Limiter_redisError(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t)

	mr.SetError("boom")
	assert.Error(t, l.Check(ctx, "abc123"))
	assert.Error(t, l.Fail(ctx, "abc123"))
}

func Test_New_disabled(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	l, err := New(Params{LC: fxtest.NewLifecycle(t), Config: cfg, Log: zap.NewNop()})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Fail(ctx, "abc123"))
	}
	assert.NoError(t, l.Check(ctx, "abc123"))
	assert.NoError(t, l.Reset(ctx, "abc123"))

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Check(ctx, "abc123"))
}

func Test_New_redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Limiter.RedisAddr = mr.Addr()
	lc := fxtest.NewLifecycle(t)

	l, err := New(Params{LC: lc, Config: cfg, Log: zap.NewNop()})
	require.NoError(t, err)
	lc.RequireStart()
	defer lc.RequireStop()

	require.NoError(t, l.Fail(context.Background(), "abc123"))
	assert.Equal(t, "1", mustGet(t, mr, key("abc123")))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, k string) string {
	t.Helper()
	v, err := mr.Get(k)
	require.NoError(t, err)
	return v
}
