package directory

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const displayNameKeyPrefix = "displayname:"

// Resolver maps a participant identity to a display name for delivery
// envelopes.
type Resolver interface {
	DisplayName(ctx context.Context, userID string) string
}

// Getter is the subset of redis commands the resolver uses.
type Getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisResolver reads display names published to Redis by the directory
// (doctor/patient CRUD) collaborator. A miss or error falls back to the raw
// identity so delivery never blocks on the directory.
type RedisResolver struct {
	client Getter
	logger *logrus.Logger
}

func NewRedisResolver(client Getter, logger *logrus.Logger) *RedisResolver {
	return &RedisResolver{client: client, logger: logger}
}

func (r *RedisResolver) DisplayName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}

	name, err := r.client.Get(ctx, displayNameKeyPrefix+userID).Result()
	if err == redis.Nil {
		return userID
	}
	if err != nil {
		r.logger.WithError(err).WithField("user", userID).Debug("Display name lookup failed")
		return userID
	}
	return name
}
