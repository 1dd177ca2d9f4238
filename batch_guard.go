package luckydraw

import (
	"context"
	"sync"
	"time"
)

// BatchGuard serializes batches of one user on one activity, closing the
// window between the quota count and the last record append
type BatchGuard interface {
	Acquire(ctx context.Context, userID, activityID int64) (release func(), err error)
}

// KeyedBatchGuard is an in-process BatchGuard: one mutex per (user, activity)
type KeyedBatchGuard struct {
	mu    sync.Mutex
	locks map[string]*guardEntry
	wait  time.Duration
}

type guardEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedBatchGuard creates a guard that waits at most wait for a key
func NewKeyedBatchGuard(wait time.Duration) *KeyedBatchGuard {
	if wait <= 0 {
		wait = DefaultLockWaitTimeout
	}
	return &KeyedBatchGuard{locks: make(map[string]*guardEntry), wait: wait}
}

// SetWait changes the wait bound for later Acquire calls
func (g *KeyedBatchGuard) SetWait(wait time.Duration) {
	if wait <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.wait = wait
}

// Acquire returns ErrSystemBusy if the key stays held longer than the wait bound
func (g *KeyedBatchGuard) Acquire(ctx context.Context, userID, activityID int64) (func(), error) {
	key := batchLockKey(userID, activityID)

	g.mu.Lock()
	e, ok := g.locks[key]
	if !ok {
		e = &guardEntry{ch: make(chan struct{}, 1)}
		g.locks[key] = e
	}
	e.refs++
	wait := g.wait
	g.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				g.unref(key, e)
			})
		}, nil
	case <-timer.C:
		g.unref(key, e)
		return nil, ErrSystemBusy.WithOperation("BatchGuard.Acquire").WithDetails("another batch for this user is in progress")
	case <-ctx.Done():
		g.unref(key, e)
		return nil, ErrSystemBusy.WithOperation("BatchGuard.Acquire").WithCause(ctx.Err())
	}
}

// unref drops idle entries so the map does not grow with every user
func (g *KeyedBatchGuard) unref(key string, e *guardEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(g.locks, key)
	}
}

// RedisBatchGuard serializes batches across processes with a distributed lock
type RedisBatchGuard struct {
	lockManager *DistributedLockManager
	expiration  time.Duration
	wait        time.Duration
	logger      Logger
	lockValue   func() string
}

// NewRedisBatchGuard creates a guard on top of a DistributedLockManager
func NewRedisBatchGuard(lm *DistributedLockManager, expiration, wait time.Duration, logger Logger) *RedisBatchGuard {
	if logger == nil {
		logger = NewSilentLogger()
	}
	return &RedisBatchGuard{
		lockManager: lm,
		expiration:  expiration,
		wait:        wait,
		logger:      logger,
		lockValue:   generateLockValue,
	}
}

// Acquire takes the (user, activity) lock, ErrSystemBusy on timeout
func (g *RedisBatchGuard) Acquire(ctx context.Context, userID, activityID int64) (func(), error) {
	key := batchLockKey(userID, activityID)
	value := g.lockValue()

	acquired, err := g.lockManager.AcquireLockWithTimeout(ctx, key, value, g.expiration, g.wait)
	if err != nil || !acquired {
		if err == nil {
			err = ErrLockAcquisitionFailed
		}
		return nil, ErrSystemBusy.WithOperation("BatchGuard.Acquire").WithCause(err)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), g.wait)
		defer cancel()
		if _, err := g.lockManager.ReleaseLock(releaseCtx, key, value); err != nil {
			g.logger.Error("BatchGuard release failed: key=%s, error=%v", key, err)
		}
	}, nil
}
