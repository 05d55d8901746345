package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Gate is a fast-path throttle check consulted before the authoritative
// dispatch reservation in the repository. A positive answer (already
// reserved) short-circuits the database round trip; a gate failure or miss
// falls through to the repository, which remains the source of truth.
type Gate interface {
	AlreadyReserved(ctx context.Context, dedupeKey, channel string, window time.Duration) (bool, error)
	MarkReserved(ctx context.Context, dedupeKey, channel string, window time.Duration) error
}

// RedisGate implements Gate with per-key SETNX entries that expire with the
// throttle window.
type RedisGate struct {
	client *redis.Client
}

// NewRedisGate creates a Redis-backed throttle gate.
func NewRedisGate(client *redis.Client) *RedisGate {
	return &RedisGate{client: client}
}

func gateKey(dedupeKey, channel string) string {
	return fmt.Sprintf("notify:throttle:%s:%s", dedupeKey, channel)
}

func (g *RedisGate) AlreadyReserved(ctx context.Context, dedupeKey, channel string, _ time.Duration) (bool, error) {
	n, err := g.client.Exists(ctx, gateKey(dedupeKey, channel)).Result()
	if err != nil {
		return false, fmt.Errorf("throttle gate lookup: %w", err)
	}
	return n > 0, nil
}

func (g *RedisGate) MarkReserved(ctx context.Context, dedupeKey, channel string, window time.Duration) error {
	if err := g.client.SetNX(ctx, gateKey(dedupeKey, channel), "1", window).Err(); err != nil {
		return fmt.Errorf("throttle gate mark: %w", err)
	}
	return nil
}

// NoopGate never short-circuits; every check goes to the repository.
type NoopGate struct{}

func (NoopGate) AlreadyReserved(context.Context, string, string, time.Duration) (bool, error) {
	return false, nil
}

func (NoopGate) MarkReserved(context.Context, string, string, time.Duration) error {
	return nil
}
