package luckydraw

import "time"

const (
	// DefaultLockWaitTimeout bounds how long a decrement waits for the per-prize lock
	DefaultLockWaitTimeout = 3 * time.Second

	// DefaultLockExpiration is the TTL of a distributed prize lock
	DefaultLockExpiration = 30 * time.Second

	// DefaultRetryAttempts is the default number of store retry attempts
	DefaultRetryAttempts = 3

	// DefaultRetryInterval is the poll interval while waiting for a lock
	DefaultRetryInterval = 20 * time.Millisecond

	// DefaultMaxDrawCount is the largest batch a single request may ask for
	DefaultMaxDrawCount = 10

	// MaxDrawCountLimit is the hard cap for max_draw_count
	MaxDrawCountLimit = 10

	// MaxRetryAttempts is the maximum number of retry attempts allowed
	MaxRetryAttempts = 10

	// MinLockWaitTimeout is the minimum lock wait allowed
	MinLockWaitTimeout = 10 * time.Millisecond

	// MaxLockWaitTimeout is the maximum lock wait allowed
	MaxLockWaitTimeout = 5 * time.Minute
)

const (
	// KeyPrefix is the prefix of every Redis key written by this package
	KeyPrefix = "luckydraw:"

	// LockKeyPrefix is the prefix for Redis lock keys
	LockKeyPrefix = KeyPrefix + "lock:"
)

// Loss outcome text returned for a draw that won nothing
const (
	LossPrizeName        = "Thank You"
	LossPrizeDescription = "Better luck next time!"
)

const (
	// DefaultCircuitBreakerName is the default name for Circuit Breaker
	DefaultCircuitBreakerName = "luckydraw-engine"

	// DefaultCircuitBreakerMaxRequests is the default max requests
	DefaultCircuitBreakerMaxRequests = 3

	// DefaultCircuitBreakerInterval is the default interval
	DefaultCircuitBreakerInterval = 60 * time.Second

	// DefaultCircuitBreakerTimeout is the default timeout
	DefaultCircuitBreakerTimeout = 30 * time.Second

	// DefaultCircuitBreakerFailureRatio is the default failure ratio
	DefaultCircuitBreakerFailureRatio = 0.6

	// DefaultCircuitBreakerMinRequests is the default min requests
	DefaultCircuitBreakerMinRequests = 3
)

const (
	DefaultRedisAddr         = "localhost:6379"
	DefaultRedisPassword     = ""
	DefaultRedisDB           = 0
	DefaultRedisPoolSize     = 50
	DefaultRedisMinIdleConns = 10
	DefaultRedisMaxRetries   = 3
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultRedisReadTimeout  = 3 * time.Second
	DefaultRedisWriteTimeout = 3 * time.Second
	DefaultRedisPoolTimeout  = 4 * time.Second
)

const (
	StorageDriverMemory = "memory"
	StorageDriverRedis  = "redis"
	StorageDriverSQLite = "sqlite"

	DefaultSQLiteDSN = "file:luckydraw.db?_busy_timeout=3000&_txlock=immediate"
	DefaultHTTPAddr  = ":8080"
)
