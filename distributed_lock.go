package luckydraw

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Distributed Lock Implementation Strategy:
// - Lock Acquisition: Use Redis SET NX (single network call)
// - Lock Release: Use Lua script so only the lock owner can release

const (
	// releaseLockScript deletes the key only if it still holds our value.
	// Without the check an expired holder could delete a lock it no longer owns.
	releaseLockScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
)

// DistributedLockManager manages Redis distributed locks
type DistributedLockManager struct {
	redisClient   *redis.Client
	lockTimeout   time.Duration
	retryAttempts int
	retryInterval time.Duration

	mu                 sync.RWMutex
	performanceMonitor *PerformanceMonitor
}

// NewLockManager creates a new distributed lock manager
func NewLockManager(redisClient *redis.Client, lockTimeout time.Duration) *DistributedLockManager {
	return &DistributedLockManager{
		redisClient:   redisClient,
		lockTimeout:   lockTimeout,
		retryAttempts: DefaultRetryAttempts,
		retryInterval: DefaultRetryInterval,

		performanceMonitor: NewPerformanceMonitor(),
	}
}

// NewLockManagerWithRetry creates a new distributed lock manager with custom retry settings
func NewLockManagerWithRetry(
	redisClient *redis.Client,
	lockTimeout time.Duration, retryAttempts int, retryInterval time.Duration,
) *DistributedLockManager {
	return &DistributedLockManager{
		redisClient:   redisClient,
		lockTimeout:   lockTimeout,
		retryAttempts: retryAttempts,
		retryInterval: retryInterval,

		performanceMonitor: NewPerformanceMonitor(),
	}
}

// TryAcquireLock makes a single SET NX attempt
func (m *DistributedLockManager) TryAcquireLock(ctx context.Context, lockKey, lockValue string, expireTime time.Duration) (bool, error) {
	if lockKey == "" || lockValue == "" {
		return false, ErrInvalidRequest.WithDetails("lock key and value are required")
	}
	if expireTime <= 0 {
		expireTime = DefaultLockExpiration
	}

	acquired, err := m.redisClient.SetNX(ctx, LockKeyPrefix+lockKey, lockValue, expireTime).Result()
	if err != nil {
		m.metrics().RecordStoreError()
		return false, ErrStoreUnavailable.WithOperation("TryAcquireLock").WithCause(err)
	}

	return acquired, nil
}

// AcquireLockWithTimeout polls SET NX every retryInterval until the lock is
// taken or timeout elapses. Elapsed timeout yields ErrLockTimeout.
func (m *DistributedLockManager) AcquireLockWithTimeout(ctx context.Context, lockKey, lockValue string, expireTime, timeout time.Duration) (bool, error) {
	if lockKey == "" || lockValue == "" {
		return false, ErrInvalidRequest.WithDetails("lock key and value are required")
	}
	if expireTime <= 0 {
		expireTime = DefaultLockExpiration
	}
	if timeout <= 0 {
		timeout = m.lockTimeout
	}

	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullLockKey := LockKeyPrefix + lockKey
	for {
		select {
		case <-timeoutCtx.Done():
			m.metrics().RecordLockAcquisition(false, time.Since(start))
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, ErrLockTimeout.WithMetadata("lock_key", lockKey)
		default:
		}

		acquired, err := m.redisClient.SetNX(timeoutCtx, fullLockKey, lockValue, expireTime).Result()
		if err != nil {
			if timeoutCtx.Err() != nil {
				continue // 由上面的 select 处理超时
			}
			m.metrics().RecordStoreError()
		} else if acquired {
			m.metrics().RecordLockAcquisition(true, time.Since(start))
			return true, nil
		}

		// Lock is held by someone else, wait and retry
		select {
		case <-timeoutCtx.Done():
		case <-time.After(m.retryInterval):
		}
	}
}

// ReleaseLock releases a lock if lockValue still owns it
func (m *DistributedLockManager) ReleaseLock(ctx context.Context, lockKey, lockValue string) (bool, error) {
	if lockKey == "" || lockValue == "" {
		return false, ErrInvalidRequest.WithDetails("lock key and value are required")
	}

	fullLockKey := LockKeyPrefix + lockKey
	var lastErr error
	for attempt := 0; attempt <= m.retryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		result, err := m.redisClient.Eval(ctx, releaseLockScript, []string{fullLockKey}, lockValue).Int64()
		if err != nil {
			lastErr = err
			m.metrics().RecordStoreError()
			if attempt < m.retryAttempts {
				time.Sleep(m.retryInterval)
			}
			continue
		}

		if result == 1 {
			m.metrics().RecordLockRelease()
			return true, nil
		}

		// Lock expired or taken over, no need to retry
		return false, nil
	}

	return false, ErrStoreUnavailable.WithOperation("ReleaseLock").WithCause(lastErr)
}

// GetPerformanceMetrics 获取性能指标
func (m *DistributedLockManager) GetPerformanceMetrics() PerformanceMetrics {
	return m.metrics().GetMetrics()
}

// SetPerformanceMonitor 设置性能监控器
func (m *DistributedLockManager) SetPerformanceMonitor(monitor *PerformanceMonitor) {
	if monitor == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.performanceMonitor = monitor
}

func (m *DistributedLockManager) metrics() *PerformanceMonitor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.performanceMonitor
}
