package luckydraw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// Redis key layout:
//
//	luckydraw:activities                       zset of activity ids
//	luckydraw:activity:{id}                    hash name/description/max_draws
//	luckydraw:activity:{id}:prizes             zset of prize ids
//	luckydraw:prize:{id}                       hash activity_id/name/description/quantity/probability
//	luckydraw:records:{activityID}             list of JSON records, all users
//	luckydraw:records:{activityID}:{userID}    list of JSON records, one user
//	luckydraw:seq:{activity|prize|record}      id sequences
func activitiesKey() string { return KeyPrefix + "activities" }
func activityKey(id int64) string { return fmt.Sprintf("%sactivity:%d", KeyPrefix, id) }
func activityPrizesKey(id int64) string { return fmt.Sprintf("%sactivity:%d:prizes", KeyPrefix, id) }
func prizeKey(id int64) string { return fmt.Sprintf("%sprize:%d", KeyPrefix, id) }
func activityRecordsKey(aid int64) string { return fmt.Sprintf("%srecords:%d", KeyPrefix, aid) }
func userRecordsKey(aid, uid int64) string { return fmt.Sprintf("%srecords:%d:%d", KeyPrefix, aid, uid) }
func sequenceKey(name string) string { return KeyPrefix + "seq:" + name }

const fieldQuantity = "quantity"

// RedisStore keeps activities, prizes and draw records in Redis. Prize
// decrements are serialized by a DistributedLockManager lock per prize.
type RedisStore struct {
	client      *redis.Client
	lockManager *DistributedLockManager
	logger      Logger

	mu              sync.RWMutex // 保护 lockWaitTimeout 和 monitor
	lockWaitTimeout time.Duration
	lockExpiration  time.Duration
	retryAttempts   int
	retryBaseDelay  time.Duration

	lockValue func() string
	monitor   *PerformanceMonitor
}

// NewRedisStore creates a store with default lock and retry settings
func NewRedisStore(client *redis.Client, logger Logger) *RedisStore {
	return NewRedisStoreWithConfig(client, logger, DefaultEngineConfig())
}

// NewRedisStoreWithConfig creates a store using the engine's lock and retry settings
func NewRedisStoreWithConfig(client *redis.Client, logger Logger, cfg *EngineConfig) *RedisStore {
	if logger == nil {
		logger = NewSilentLogger()
	}
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}

	monitor := NewPerformanceMonitor()
	lm := NewLockManagerWithRetry(client, cfg.LockWaitTimeout, cfg.RetryAttempts, cfg.RetryInterval)
	lm.SetPerformanceMonitor(monitor)

	return &RedisStore{
		client:          client,
		lockManager:     lm,
		logger:          logger,
		lockWaitTimeout: cfg.LockWaitTimeout,
		lockExpiration:  cfg.LockExpiration,
		retryAttempts:   cfg.RetryAttempts,
		retryBaseDelay:  cfg.RetryInterval,
		lockValue:       generateLockValue,
		monitor:         monitor,
	}
}

// SetLockWaitTimeout changes the bound on waiting for a prize lock
func (s *RedisStore) SetLockWaitTimeout(d time.Duration) {
	if d <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockWaitTimeout = d
}

// SetPerformanceMonitor 设置性能监控器
func (s *RedisStore) SetPerformanceMonitor(monitor *PerformanceMonitor) {
	if monitor == nil {
		return
	}
	s.mu.Lock()
	s.monitor = monitor
	s.mu.Unlock()

	s.lockManager.SetPerformanceMonitor(monitor)
}

func (s *RedisStore) lockWait() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockWaitTimeout
}

func (s *RedisStore) metrics() *PerformanceMonitor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.monitor
}

// LockManager exposes the store's lock manager so other components can share it
func (s *RedisStore) LockManager() *DistributedLockManager { return s.lockManager }

// executeWithRetry retries fn on retryable errors with exponential backoff.
// Only idempotent reads go through here: a retried HINCRBY or RPUSH could apply twice.
func (s *RedisStore) executeWithRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.retryAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * s.retryBaseDelay
			if delay > 5*time.Second {
				delay = 5 * time.Second
			}
			s.logger.Debug("Retrying %s (attempt %d/%d) after %v", operation, attempt, s.retryAttempts, delay)

			select {
			case <-ctx.Done():
				return classifyStoreError(operation, ctx.Err())
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}

		lastErr = err
		if !IsRetryableError(err) {
			break
		}
	}

	s.metrics().RecordStoreError()
	s.logger.Error("%s failed: %v", operation, lastErr)
	return classifyStoreError(operation, lastErr)
}

// SaveActivity inserts or replaces an activity
func (s *RedisStore) SaveActivity(ctx context.Context, a *Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}

	if a.ID == 0 {
		id, err := s.client.Incr(ctx, sequenceKey("activity")).Result()
		if err != nil {
			return classifyStoreError("SaveActivity", err)
		}
		a.ID = id
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, activityKey(a.ID), map[string]any{
			"name":        a.Name,
			"description": a.Description,
			"max_draws":   a.MaxDraws,
		})
		pipe.ZAdd(ctx, activitiesKey(), &redis.Z{Score: float64(a.ID), Member: a.ID})
		return nil
	})
	return classifyStoreError("SaveActivity", err)
}

// SavePrize inserts or replaces a prize
func (s *RedisStore) SavePrize(ctx context.Context, p *Prize) error {
	if _, err := s.GetActivity(ctx, p.ActivityID); err != nil {
		return err
	}
	existing, err := s.ListPrizes(ctx, p.ActivityID)
	if err != nil {
		return err
	}
	if err := mergePrizeForSave(existing, p); err != nil {
		return err
	}

	if p.ID == 0 {
		id, err := s.client.Incr(ctx, sequenceKey("prize")).Result()
		if err != nil {
			return classifyStoreError("SavePrize", err)
		}
		p.ID = id
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, prizeKey(p.ID), map[string]any{
			"activity_id": p.ActivityID,
			"name":        p.Name,
			"description": p.Description,
			fieldQuantity: p.Quantity,
			"probability": p.Probability.String(),
		})
		pipe.ZAdd(ctx, activityPrizesKey(p.ActivityID), &redis.Z{Score: float64(p.ID), Member: p.ID})
		return nil
	})
	return classifyStoreError("SavePrize", err)
}

// GetActivity returns an activity by id
func (s *RedisStore) GetActivity(ctx context.Context, activityID int64) (*Activity, error) {
	var fields map[string]string
	err := s.executeWithRetry(ctx, "GetActivity", func() error {
		var err error
		fields, err = s.client.HGetAll(ctx, activityKey(activityID)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrActivityNotFound.WithDetails(fmt.Sprintf("activity %d", activityID))
	}

	maxDraws, err := strconv.Atoi(fields["max_draws"])
	if err != nil {
		return nil, ErrInternal.WithOperation("GetActivity").WithCause(err)
	}
	return &Activity{
		ID:          activityID,
		Name:        fields["name"],
		Description: fields["description"],
		MaxDraws:    maxDraws,
	}, nil
}

// ListActivities returns all activities ordered by id
func (s *RedisStore) ListActivities(ctx context.Context) ([]Activity, error) {
	ids, err := s.rangeIDs(ctx, "ListActivities", activitiesKey())
	if err != nil {
		return nil, err
	}

	list := make([]Activity, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetActivity(ctx, id)
		if err != nil {
			if IsDomainError(err) {
				continue // 索引中残留的已删除活动
			}
			return nil, err
		}
		list = append(list, *a)
	}
	return list, nil
}

// ListPrizes returns the activity's prizes ordered by id
func (s *RedisStore) ListPrizes(ctx context.Context, activityID int64) ([]Prize, error) {
	ids, err := s.rangeIDs(ctx, "ListPrizes", activityPrizesKey(activityID))
	if err != nil {
		return nil, err
	}

	list := make([]Prize, 0, len(ids))
	for _, id := range ids {
		var fields map[string]string
		err := s.executeWithRetry(ctx, "ListPrizes", func() error {
			var err error
			fields, err = s.client.HGetAll(ctx, prizeKey(id)).Result()
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}

		p, err := parsePrize(id, fields)
		if err != nil {
			return nil, ErrInternal.WithOperation("ListPrizes").WithCause(err)
		}
		list = append(list, *p)
	}
	return list, nil
}

func (s *RedisStore) rangeIDs(ctx context.Context, op, key string) ([]int64, error) {
	var members []string
	err := s.executeWithRetry(ctx, op, func() error {
		var err error
		members, err = s.client.ZRange(ctx, key, 0, -1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, ErrInternal.WithOperation(op).WithCause(err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parsePrize(id int64, fields map[string]string) (*Prize, error) {
	activityID, err := strconv.ParseInt(fields["activity_id"], 10, 64)
	if err != nil {
		return nil, err
	}
	quantity, err := strconv.Atoi(fields[fieldQuantity])
	if err != nil {
		return nil, err
	}
	probability, err := decimal.NewFromString(fields["probability"])
	if err != nil {
		return nil, err
	}

	return &Prize{
		ID:          id,
		ActivityID:  activityID,
		Name:        fields["name"],
		Description: fields["description"],
		Quantity:    quantity,
		Probability: probability,
	}, nil
}

// DecrementPrize takes the prize lock, re-reads the quantity and decrements it
func (s *RedisStore) DecrementPrize(ctx context.Context, prizeID int64) error {
	return s.withPrizeLock(ctx, "DecrementPrize", prizeID, func() error {
		quantity, err := s.client.HGet(ctx, prizeKey(prizeID), fieldQuantity).Int()
		if errors.Is(err, redis.Nil) {
			return ErrPrizeNotFound.WithDetails(fmt.Sprintf("prize %d", prizeID))
		}
		if err != nil {
			s.metrics().RecordStoreError()
			return classifyStoreError("DecrementPrize", err)
		}

		if quantity <= 0 {
			return ErrPrizeExhausted.WithDetails(fmt.Sprintf("prize %d", prizeID))
		}

		if err := s.client.HIncrBy(ctx, prizeKey(prizeID), fieldQuantity, -1).Err(); err != nil {
			s.metrics().RecordStoreError()
			return classifyStoreError("DecrementPrize", err)
		}
		return nil
	})
}

// RestorePrize gives one unit back to a prize
func (s *RedisStore) RestorePrize(ctx context.Context, prizeID int64) error {
	return s.withPrizeLock(ctx, "RestorePrize", prizeID, func() error {
		if err := s.client.HIncrBy(ctx, prizeKey(prizeID), fieldQuantity, 1).Err(); err != nil {
			s.metrics().RecordStoreError()
			return classifyStoreError("RestorePrize", err)
		}
		return nil
	})
}

// withPrizeLock runs fn while holding the prize's distributed lock
func (s *RedisStore) withPrizeLock(ctx context.Context, op string, prizeID int64, fn func() error) error {
	lockKey := prizeLockKey(prizeID)
	lockValue := s.lockValue()

	wait := s.lockWait()
	acquired, err := s.lockManager.AcquireLockWithTimeout(ctx, lockKey, lockValue, s.lockExpiration, wait)
	if err != nil {
		s.logger.Error("%s lock failed: prize=%d, error=%v", op, prizeID, err)
		if errors.Is(err, ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ErrSystemBusy.WithOperation(op).WithCause(err)
		}
		return classifyStoreError(op, err)
	}
	if !acquired {
		return ErrSystemBusy.WithOperation(op)
	}

	defer func() {
		// 使用独立的上下文释放锁, 避免调用方取消导致锁滞留到过期
		releaseCtx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		if _, err := s.lockManager.ReleaseLock(releaseCtx, lockKey, lockValue); err != nil {
			s.logger.Error("%s lock release failed: prize=%d, error=%v", op, prizeID, err)
		}
	}()

	return fn()
}

// AppendDrawRecord writes the record to both the per-user and per-activity lists
func (s *RedisStore) AppendDrawRecord(ctx context.Context, rec *DrawRecord) error {
	id, err := s.client.Incr(ctx, sequenceKey("record")).Result()
	if err != nil {
		s.metrics().RecordStoreError()
		return classifyStoreError("AppendDrawRecord", err)
	}
	rec.ID = id

	data, err := json.Marshal(rec)
	if err != nil {
		return ErrInternal.WithOperation("AppendDrawRecord").WithCause(err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, userRecordsKey(rec.ActivityID, rec.UserID), data)
		pipe.RPush(ctx, activityRecordsKey(rec.ActivityID), data)
		return nil
	})
	if err != nil {
		s.metrics().RecordStoreError()
		return classifyStoreError("AppendDrawRecord", err)
	}
	return nil
}

// CountDrawRecords counts records for (user, activity)
func (s *RedisStore) CountDrawRecords(ctx context.Context, userID, activityID int64) (int, error) {
	var n int64
	err := s.executeWithRetry(ctx, "CountDrawRecords", func() error {
		var err error
		n, err = s.client.LLen(ctx, userRecordsKey(activityID, userID)).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListDrawRecords returns records newest first; userID 0 selects all users
func (s *RedisStore) ListDrawRecords(ctx context.Context, userID, activityID int64) ([]DrawRecord, error) {
	key := activityRecordsKey(activityID)
	if userID != 0 {
		key = userRecordsKey(activityID, userID)
	}

	var raw []string
	err := s.executeWithRetry(ctx, "ListDrawRecords", func() error {
		var err error
		raw, err = s.client.LRange(ctx, key, 0, -1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	list := make([]DrawRecord, 0, len(raw))
	for _, item := range raw {
		var rec DrawRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, ErrInternal.WithOperation("ListDrawRecords").WithCause(err)
		}
		list = append(list, rec)
	}
	sortRecordsNewestFirst(list)
	return list, nil
}

// WithinBatch runs fn inline. Redis has no multi-command rollback for this
// workload; each decrement and append is individually atomic.
func (s *RedisStore) WithinBatch(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
