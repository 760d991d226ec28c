package constants

// Default delivery pipeline configuration values
const (
	DefaultDrainBatchSize          = 20
	DefaultDrainReceiveTimeoutMs   = 50
	DefaultDrainWorkerPoolSize     = 4
	DefaultMailboxTTLDays          = 7
	DefaultOverflowMailboxTTLDays  = 30
	DefaultUnreadCounterTTLDays    = 30
	DefaultLivePushTimeoutSec      = 5
)

// Broker naming conventions
const (
	FeedbackExchange        = "feedback.exchange"
	DeadLetterExchange      = "feedback.dlx"
	DeadLetterQueue         = "feedback.dlx.queue"
	DeadLetterRoutingKey    = "feedback.deadletter"
	MailboxRoutingKeyPrefix = "user."
	MailboxQueuePrefix      = "user.queue."
	LiveTopicPrefix         = "/queue/feedback/"
)

// Default retry configuration values
const (
	DefaultRetryBackoffMs       = 1000
	DefaultMaxBackoffMs         = 60000
	DefaultMaxAttempts          = 5
	DefaultConnectRetryAttempts = 3
	DefaultServerPort           = 8084
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec          = 30
	DefaultGracefulShutdownSec     = 30
	DefaultServerReadTimeoutSec    = 15
	DefaultServerWriteTimeoutSec   = 15
	DefaultServerIdleTimeoutSec    = 60
	DefaultRedisDialTimeoutSec     = 5
	DefaultPresenceLookupTimeoutMs = 200
	ServerErrorChannelSize         = 1
)

// Encryption settings for at-rest message body protection
const (
	EncryptionSalt = "carefeed-db-salt-v1"
)

// Privacy settings
const (
	DefaultRecipientMaskLength = 4
	DefaultMessageIDLength     = 8
)
