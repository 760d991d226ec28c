package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"carefeed/internal/constants"
	"carefeed/internal/models"
	"carefeed/internal/security"
)

var (
	ErrMissingBrokerURL = models.ConfigError{Message: "missing broker URL"}
	ErrMissingRedisAddr = models.ConfigError{Message: "missing Redis address"}
	ErrMissingDBPath    = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Broker.URL == "" {
		return ErrMissingBrokerURL
	}
	if c.Redis.Addr == "" {
		return ErrMissingRedisAddr
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.LivePushTimeoutSec <= 0 {
		c.Server.LivePushTimeoutSec = constants.DefaultLivePushTimeoutSec
	}

	if c.Broker.MailboxTTLDays <= 0 {
		c.Broker.MailboxTTLDays = constants.DefaultMailboxTTLDays
	}
	if c.Broker.OverflowMailboxTTLDays <= 0 {
		c.Broker.OverflowMailboxTTLDays = constants.DefaultOverflowMailboxTTLDays
	}
	if c.Broker.OverflowMailboxTTLDays < c.Broker.MailboxTTLDays {
		return models.ConfigError{Message: "overflow mailbox TTL must not be shorter than the mailbox TTL"}
	}

	if c.Redis.DialTimeoutSec <= 0 {
		c.Redis.DialTimeoutSec = constants.DefaultRedisDialTimeoutSec
	}
	if c.Redis.UnreadCounterTTLDays <= 0 {
		c.Redis.UnreadCounterTTLDays = constants.DefaultUnreadCounterTTLDays
	}

	if c.Drain.BatchSize <= 0 {
		c.Drain.BatchSize = constants.DefaultDrainBatchSize
	}
	if c.Drain.ReceiveTimeoutMs <= 0 {
		c.Drain.ReceiveTimeoutMs = constants.DefaultDrainReceiveTimeoutMs
	}
	if c.Drain.WorkerPoolSize <= 0 {
		c.Drain.WorkerPoolSize = constants.DefaultDrainWorkerPoolSize
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("CAREFEED_BROKER_URL"); url != "" {
		c.Broker.URL = url
	}
	if addr := os.Getenv("CAREFEED_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}

	// SECURITY: the Redis password should be set via environment variables
	if password := os.Getenv("CAREFEED_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}

	if path := os.Getenv("CAREFEED_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("CAREFEED_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
}
