package presence

import (
	"context"
	"fmt"
	"time"

	"carefeed/internal/constants"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// Keys is the subset of redis commands the source uses.
type Keys interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisSource reads session keys written by the session subsystem. A
// recipient is considered online while their session key exists.
type RedisSource struct {
	client        Keys
	lookupTimeout time.Duration
}

func NewRedisSource(client Keys) *RedisSource {
	return &RedisSource{
		client:        client,
		lookupTimeout: time.Duration(constants.DefaultPresenceLookupTimeoutMs) * time.Millisecond,
	}
}

func (s *RedisSource) IsOnline(ctx context.Context, recipientID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	exists, err := s.client.Exists(ctx, sessionKeyPrefix+recipientID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session key: %w", err)
	}
	return exists > 0, nil
}
