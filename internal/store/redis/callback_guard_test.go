package redis_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"masjidpay/internal/store/redis"
)

func TestCallbackGuard(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := redis.NewCallbackGuard(client, time.Minute)
	ctx := context.Background()

	seen, err := guard.Seen(ctx, "billplz:c1:fp")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, guard.Remember(ctx, "billplz:c1:fp"))
	seen, err = guard.Seen(ctx, "billplz:c1:fp")
	require.NoError(t, err)
	require.True(t, seen)
	require.True(t, mr.Exists("masjidpay:callback:billplz:c1:fp"))

	mr.FastForward(2 * time.Minute)
	seen, err = guard.Seen(ctx, "billplz:c1:fp")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestCallbackGuardUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	guard := redis.NewCallbackGuard(client, 0)
	require.Equal(t, 24*time.Hour, guard.TTL)
	_, err = guard.Seen(context.Background(), "k")
	require.Error(t, err)
	require.Error(t, guard.Remember(context.Background(), "k"))

	_, err = (&redis.CallbackGuard{}).Seen(context.Background(), "k")
	require.Error(t, err)
}
