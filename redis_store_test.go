package luckydraw

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLockValue = "test-lock-value"

func newMockRedisStore(t *testing.T) (*RedisStore, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	t.Cleanup(func() { _ = db.Close() })

	cfg := DefaultEngineConfig()
	cfg.LockWaitTimeout = 100 * time.Millisecond
	cfg.RetryInterval = 5 * time.Millisecond
	cfg.RetryAttempts = 0

	s := NewRedisStoreWithConfig(db, nil, cfg)
	s.lockValue = func() string { return testLockValue }
	return s, mock
}

func expectPrizeLock(mock redismock.ClientMock, prizeID int64) string {
	key := LockKeyPrefix + prizeLockKey(prizeID)
	mock.ExpectSetNX(key, testLockValue, DefaultLockExpiration).SetVal(true)
	return key
}

func expectPrizeUnlock(mock redismock.ClientMock, key string) {
	mock.ExpectEval(releaseLockScript, []string{key}, testLockValue).SetVal(int64(1))
}

func TestRedisStore_DecrementPrize(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		s, mock := newMockRedisStore(t)
		key := expectPrizeLock(mock, 1)
		mock.ExpectHGet(prizeKey(1), fieldQuantity).SetVal("5")
		mock.ExpectHIncrBy(prizeKey(1), fieldQuantity, -1).SetVal(4)
		expectPrizeUnlock(mock, key)

		require.NoError(t, s.DecrementPrize(ctx, 1))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exhausted", func(t *testing.T) {
		s, mock := newMockRedisStore(t)
		key := expectPrizeLock(mock, 1)
		mock.ExpectHGet(prizeKey(1), fieldQuantity).SetVal("0")
		expectPrizeUnlock(mock, key)

		err := s.DecrementPrize(ctx, 1)
		assert.ErrorIs(t, err, ErrPrizeExhausted)
		assert.True(t, IsDomainError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("prize not found", func(t *testing.T) {
		s, mock := newMockRedisStore(t)
		key := expectPrizeLock(mock, 2)
		mock.ExpectHGet(prizeKey(2), fieldQuantity).RedisNil()
		expectPrizeUnlock(mock, key)

		assert.ErrorIs(t, s.DecrementPrize(ctx, 2), ErrPrizeNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("store error is systemic", func(t *testing.T) {
		s, mock := newMockRedisStore(t)
		key := expectPrizeLock(mock, 1)
		mock.ExpectHGet(prizeKey(1), fieldQuantity).SetErr(errors.New("connection reset by peer"))
		expectPrizeUnlock(mock, key)

		err := s.DecrementPrize(ctx, 1)
		assert.ErrorIs(t, err, ErrSystemBusy)
		assert.False(t, IsDomainError(err))
		assert.Equal(t, int64(1), s.monitor.GetMetrics().StoreErrors)
	})

	t.Run("lock wait exceeded", func(t *testing.T) {
		s, mock := newMockRedisStore(t)
		s.SetLockWaitTimeout(30 * time.Millisecond)
		mock.ExpectSetNX(LockKeyPrefix+prizeLockKey(1), testLockValue, DefaultLockExpiration).SetVal(false)

		start := time.Now()
		err := s.DecrementPrize(ctx, 1)
		assert.ErrorIs(t, err, ErrSystemBusy)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, int64(1), s.monitor.GetMetrics().LockTimeouts)
	})
}

func TestRedisStore_RestorePrize(t *testing.T) {
	s, mock := newMockRedisStore(t)
	key := expectPrizeLock(mock, 3)
	mock.ExpectHIncrBy(prizeKey(3), fieldQuantity, 1).SetVal(1)
	expectPrizeUnlock(mock, key)

	require.NoError(t, s.RestorePrize(context.Background(), 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_GetActivity(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockRedisStore(t)

	mock.ExpectHGetAll(activityKey(1)).SetVal(map[string]string{
		"name": "Spring", "description": "d", "max_draws": "5",
	})
	a, err := s.GetActivity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, &Activity{ID: 1, Name: "Spring", Description: "d", MaxDraws: 5}, a)

	mock.ExpectHGetAll(activityKey(9)).SetVal(map[string]string{})
	_, err = s.GetActivity(ctx, 9)
	assert.ErrorIs(t, err, ErrActivityNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ListPrizes(t *testing.T) {
	s, mock := newMockRedisStore(t)

	mock.ExpectZRange(activityPrizesKey(1), 0, -1).SetVal([]string{"1", "2"})
	mock.ExpectHGetAll(prizeKey(1)).SetVal(map[string]string{
		"activity_id": "1", "name": "Gold", "description": "", "quantity": "3", "probability": "0.1",
	})
	mock.ExpectHGetAll(prizeKey(2)).SetVal(map[string]string{
		"activity_id": "1", "name": "Silver", "description": "", "quantity": "0", "probability": "0.2",
	})

	prizes, err := s.ListPrizes(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, prizes, 2)
	assert.Equal(t, "Gold", prizes[0].Name)
	assert.Equal(t, 3, prizes[0].Quantity)
	assert.True(t, prizes[1].Probability.Equal(dec("0.2")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_DrawRecords(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockRedisStore(t)

	drawTime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prizeID := int64(7)

	mock.ExpectIncr(sequenceKey("record")).SetVal(11)
	want := DrawRecord{ID: 11, UserID: 5, ActivityID: 1, PrizeID: &prizeID, DrawTime: drawTime}
	data, err := json.Marshal(want)
	require.NoError(t, err)
	mock.ExpectTxPipeline()
	mock.ExpectRPush(userRecordsKey(1, 5), data).SetVal(1)
	mock.ExpectRPush(activityRecordsKey(1), data).SetVal(1)
	mock.ExpectTxPipelineExec()

	rec := &DrawRecord{UserID: 5, ActivityID: 1, PrizeID: &prizeID, DrawTime: drawTime}
	require.NoError(t, s.AppendDrawRecord(ctx, rec))
	assert.Equal(t, int64(11), rec.ID)

	mock.ExpectLLen(userRecordsKey(1, 5)).SetVal(3)
	n, err := s.CountDrawRecords(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	older, _ := json.Marshal(DrawRecord{ID: 10, UserID: 5, ActivityID: 1, DrawTime: drawTime.Add(-time.Minute)})
	mock.ExpectLRange(userRecordsKey(1, 5), 0, -1).SetVal([]string{string(older), string(data)})
	list, err := s.ListDrawRecords(ctx, 5, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(11), list[0].ID)
	assert.True(t, list[0].Won())
	assert.False(t, list[1].Won())

	mock.ExpectLRange(activityRecordsKey(1), 0, -1).SetVal([]string{})
	list, err = s.ListDrawRecords(ctx, 0, 1)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ReadRetry(t *testing.T) {
	s, mock := newMockRedisStore(t)
	s.retryAttempts = 2

	mock.ExpectLLen(userRecordsKey(1, 5)).SetErr(errors.New("i/o timeout"))
	mock.ExpectLLen(userRecordsKey(1, 5)).SetVal(2)

	n, err := s.CountDrawRecords(context.Background(), 5, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_SettersAreSafeConcurrently(t *testing.T) {
	s, _ := newMockRedisStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.SetLockWaitTimeout(time.Duration(i*50+j+1) * time.Millisecond)
				s.SetPerformanceMonitor(NewPerformanceMonitor())
				assert.Positive(t, s.lockWait())
				s.metrics().RecordStoreError()
			}
		}()
	}
	wg.Wait()

	s.SetLockWaitTimeout(0)
	s.SetLockWaitTimeout(time.Second)
	assert.Equal(t, time.Second, s.lockWait())
}
