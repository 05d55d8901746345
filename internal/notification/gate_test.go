package notification

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*RedisGate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisGate(client), mr
}

func TestRedisGateReserveAndHit(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()
	window := 30 * time.Minute

	hit, err := gate.AlreadyReserved(ctx, "key-1", "sms", window)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, gate.MarkReserved(ctx, "key-1", "sms", window))

	hit, err = gate.AlreadyReserved(ctx, "key-1", "sms", window)
	require.NoError(t, err)
	assert.True(t, hit)

	// Different channel is an independent key
	hit, err = gate.AlreadyReserved(ctx, "key-1", "email", window)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisGateExpiresWithWindow(t *testing.T) {
	gate, mr := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, gate.MarkReserved(ctx, "key-1", "sms", time.Minute))

	mr.FastForward(2 * time.Minute)

	hit, err := gate.AlreadyReserved(ctx, "key-1", "sms", time.Minute)
	require.NoError(t, err)
	assert.False(t, hit, "entry expires with the throttle window")
}

func TestRedisGateFailureWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gate := NewRedisGate(client)
	mr.Close()

	_, err := gate.AlreadyReserved(context.Background(), "key-1", "sms", time.Minute)
	assert.Error(t, err)
}
