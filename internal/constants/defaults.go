package constants

// Lifecycle windows. Every message uses the same windows regardless of type or length.
const (
	CountingWindowSec = 120
	DeletingWindowSec = 120
	UndoWindowSec     = 5
	TickIntervalMs    = 1000
)

// DeletionReasonTimerExpired is recorded on every archive record written by the engine.
const DeletionReasonTimerExpired = "ephemeral_timer_expired"

// Default retry configuration values
const (
	DefaultRetryBackoffMs         = 1000
	DefaultMaxBackoffMs           = 60000
	DefaultMaxAttempts            = 5
	DefaultDatabaseRetryAttempts  = 3
	DefaultDatabaseRetryBackoffMs = 50
)

// Default timeout values
const (
	DefaultServerPort             = 8082
	DefaultGracefulShutdownSec    = 30
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 15
	DefaultServerIdleTimeoutSec   = 60
	DefaultCommitTimeoutSec       = 10
	DefaultSessionCloseTimeoutSec = 5
	ServerErrorChannelSize        = 1
)

// Archive retention
const (
	DefaultArchiveRetentionDays     = 0 // keep forever
	DefaultArchiveSweepIntervalHour = 24
)

// Realtime
const (
	DefaultSubscriberBufferSize = 16
	DefaultWebsocketWriteSec    = 5
	WebhookSignatureHeader      = "X-Fadeout-Signature"
	MaxWebhookBodyBytes         = 64 * 1024
)

// Webhook rate limiting, per client IP
const (
	DefaultWebhookRatePerSec = 20
	DefaultWebhookBurst      = 40
	RateLimiterIdleTTLMin    = 10
)

// Store read circuit breaker
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerTimeoutSec  = 30
	CBHalfOpenMaxCalls        = 3
)

// Input limits
const (
	MaxIDLength = 128
)

// Privacy settings
const (
	DefaultIDMaskLength = 4
)

// EncryptionSalt is the PBKDF2 salt for archive snapshot encryption
const EncryptionSalt = "fadeout-archive-v1"
