package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Broker   BrokerConfig   `json:"broker"`
	Redis    RedisConfig    `json:"redis"`
	Database DatabaseConfig `json:"database"`
	Drain    DrainConfig    `json:"drain"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// ServerConfig holds HTTP server related configurations
type ServerConfig struct {
	Port               int `json:"port"`
	ReadTimeoutSec     int `json:"readTimeoutSec"`
	WriteTimeoutSec    int `json:"writeTimeoutSec"`
	IdleTimeoutSec     int `json:"idleTimeoutSec"`
	LivePushTimeoutSec int `json:"livePushTimeoutSec"`
}

// BrokerConfig holds RabbitMQ related configurations
type BrokerConfig struct {
	URL                    string `json:"url"`
	MailboxTTLDays         int    `json:"mailboxTTLDays"`
	OverflowMailboxTTLDays int    `json:"overflowMailboxTTLDays"`
}

// RedisConfig holds Redis related configurations
type RedisConfig struct {
	Addr                 string `json:"addr"`
	Password             string `json:"password"`
	DB                   int    `json:"db"`
	DialTimeoutSec       int    `json:"dialTimeoutSec"`
	UnreadCounterTTLDays int    `json:"unreadCounterTTLDays"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// DrainConfig holds backlog drain worker configurations
type DrainConfig struct {
	BatchSize        int `json:"batchSize"`
	ReceiveTimeoutMs int `json:"receiveTimeoutMs"`
	WorkerPoolSize   int `json:"workerPoolSize"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry related configurations
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
