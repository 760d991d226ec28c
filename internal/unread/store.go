package unread

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const counterKeyPrefix = "unread:"

// Commands is the subset of redis commands the store uses.
type Commands interface {
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	DecrBy(ctx context.Context, key string, decrement int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store keeps per-recipient unread badge counts in Redis. Counts are
// best-effort and may drift from true mailbox depth under failure; they are
// never consulted for delivery-correctness decisions.
type Store struct {
	client Commands
	ttl    time.Duration
}

func NewStore(client Commands, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Increment adds delta to the recipient's counter, creating it with the
// configured TTL if absent and refreshing the TTL otherwise.
func (s *Store) Increment(ctx context.Context, recipientID string, delta int64) error {
	key := counterKeyPrefix + recipientID

	if err := s.client.IncrBy(ctx, key, delta).Err(); err != nil {
		return fmt.Errorf("failed to increment unread counter: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh unread counter TTL: %w", err)
	}
	return nil
}

// Decrement subtracts delta from the recipient's counter, clamping at zero
// and refreshing the TTL. The clamp is best-effort: a concurrent increment
// between the decrement and the reset may be overwritten, which is within
// the counter's drift tolerance.
func (s *Store) Decrement(ctx context.Context, recipientID string, delta int64) error {
	key := counterKeyPrefix + recipientID

	value, err := s.client.DecrBy(ctx, key, delta).Result()
	if err != nil {
		return fmt.Errorf("failed to decrement unread counter: %w", err)
	}
	if value < 0 {
		if err := s.client.Set(ctx, key, 0, s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to clamp unread counter: %w", err)
		}
		return nil
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh unread counter TTL: %w", err)
	}
	return nil
}

// Read returns the recipient's current badge count. A missing counter reads
// as zero.
func (s *Store) Read(ctx context.Context, recipientID string) (int64, error) {
	value, err := s.client.Get(ctx, counterKeyPrefix+recipientID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read unread counter: %w", err)
	}
	if value < 0 {
		return 0, nil
	}
	return value, nil
}

// Reset clears the recipient's counter.
func (s *Store) Reset(ctx context.Context, recipientID string) error {
	if err := s.client.Del(ctx, counterKeyPrefix+recipientID).Err(); err != nil {
		return fmt.Errorf("failed to reset unread counter: %w", err)
	}
	return nil
}
