package luckydraw

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Each prize has a one-slot lease
// channel; holding the slot is holding the prize's exclusive lock.
type MemoryStore struct {
	mu         sync.RWMutex
	activities map[int64]Activity
	prizes     map[int64]*Prize
	records    []DrawRecord
	leases     map[int64]chan struct{}

	nextActivityID int64
	nextPrizeID    int64
	nextRecordID   int64

	lockWaitTimeout time.Duration
	monitor         *PerformanceMonitor
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithTimeout(DefaultLockWaitTimeout)
}

// NewMemoryStoreWithTimeout creates an empty store with a custom lock wait bound
func NewMemoryStoreWithTimeout(lockWaitTimeout time.Duration) *MemoryStore {
	if lockWaitTimeout <= 0 {
		lockWaitTimeout = DefaultLockWaitTimeout
	}
	return &MemoryStore{
		activities:      make(map[int64]Activity),
		prizes:          make(map[int64]*Prize),
		leases:          make(map[int64]chan struct{}),
		lockWaitTimeout: lockWaitTimeout,
		monitor:         NewPerformanceMonitor(),
	}
}

// SetLockWaitTimeout changes the bound on waiting for a prize lease
func (s *MemoryStore) SetLockWaitTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.lockWaitTimeout = d
	}
}

// SetPerformanceMonitor 设置性能监控器
func (s *MemoryStore) SetPerformanceMonitor(monitor *PerformanceMonitor) {
	if monitor == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitor = monitor
}

// SaveActivity inserts or replaces an activity
func (s *MemoryStore) SaveActivity(_ context.Context, a *Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == 0 {
		s.nextActivityID++
		a.ID = s.nextActivityID
	} else if a.ID > s.nextActivityID {
		s.nextActivityID = a.ID
	}
	s.activities[a.ID] = *a
	return nil
}

// SavePrize inserts or replaces a prize
func (s *MemoryStore) SavePrize(_ context.Context, p *Prize) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activities[p.ActivityID]; !ok {
		return ErrActivityNotFound.WithDetails(fmt.Sprintf("activity %d", p.ActivityID))
	}
	if err := mergePrizeForSave(s.prizesOfLocked(p.ActivityID), p); err != nil {
		return err
	}

	if p.ID == 0 {
		s.nextPrizeID++
		p.ID = s.nextPrizeID
	} else if p.ID > s.nextPrizeID {
		s.nextPrizeID = p.ID
	}
	stored := *p
	s.prizes[p.ID] = &stored
	return nil
}

// GetActivity returns an activity by id
func (s *MemoryStore) GetActivity(_ context.Context, activityID int64) (*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.activities[activityID]
	if !ok {
		return nil, ErrActivityNotFound.WithDetails(fmt.Sprintf("activity %d", activityID))
	}
	return &a, nil
}

// ListActivities returns all activities ordered by id
func (s *MemoryStore) ListActivities(context.Context) ([]Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Activity, 0, len(s.activities))
	for _, a := range s.activities {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// ListPrizes returns a snapshot copy of the activity's prizes ordered by id
func (s *MemoryStore) ListPrizes(_ context.Context, activityID int64) ([]Prize, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prizesOfLocked(activityID), nil
}

func (s *MemoryStore) prizesOfLocked(activityID int64) []Prize {
	list := make([]Prize, 0)
	for _, p := range s.prizes {
		if p.ActivityID == activityID {
			list = append(list, *p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// lease returns the prize's one-slot lock channel
func (s *MemoryStore) lease(prizeID int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.leases[prizeID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.leases[prizeID] = ch
	}
	return ch
}

// acquire blocks until the prize's lease is held or the wait bound elapses
func (s *MemoryStore) acquire(ctx context.Context, prizeID int64) (func(), error) {
	s.mu.RLock()
	wait, monitor := s.lockWaitTimeout, s.monitor
	s.mu.RUnlock()

	ch := s.lease(prizeID)
	start := time.Now()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		monitor.RecordLockAcquisition(true, time.Since(start))
		return func() {
			<-ch
			monitor.RecordLockRelease()
		}, nil
	case <-timer.C:
		monitor.RecordLockAcquisition(false, time.Since(start))
		return nil, ErrSystemBusy.WithOperation("DecrementPrize").
			WithDetails(fmt.Sprintf("lock wait for prize %d exceeded %s", prizeID, wait))
	case <-ctx.Done():
		return nil, ErrSystemBusy.WithOperation("DecrementPrize").WithCause(ctx.Err())
	}
}

// DecrementPrize decrements a prize's quantity under its lease
func (s *MemoryStore) DecrementPrize(ctx context.Context, prizeID int64) error {
	release, err := s.acquire(ctx, prizeID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prizes[prizeID]
	if !ok {
		return ErrPrizeNotFound.WithDetails(fmt.Sprintf("prize %d", prizeID))
	}
	if p.Quantity <= 0 {
		return ErrPrizeExhausted.WithDetails(fmt.Sprintf("prize %d", prizeID))
	}
	p.Quantity--
	return nil
}

// RestorePrize gives one unit back to a prize
func (s *MemoryStore) RestorePrize(ctx context.Context, prizeID int64) error {
	release, err := s.acquire(ctx, prizeID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prizes[prizeID]
	if !ok {
		return ErrPrizeNotFound.WithDetails(fmt.Sprintf("prize %d", prizeID))
	}
	p.Quantity++
	return nil
}

// AppendDrawRecord appends a record and assigns its id
func (s *MemoryStore) AppendDrawRecord(_ context.Context, rec *DrawRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRecordID++
	rec.ID = s.nextRecordID
	s.records = append(s.records, *rec)
	return nil
}

// CountDrawRecords counts records for (user, activity)
func (s *MemoryStore) CountDrawRecords(_ context.Context, userID, activityID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for i := range s.records {
		if s.records[i].UserID == userID && s.records[i].ActivityID == activityID {
			n++
		}
	}
	return n, nil
}

// ListDrawRecords returns records newest first; userID 0 selects all users
func (s *MemoryStore) ListDrawRecords(_ context.Context, userID, activityID int64) ([]DrawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]DrawRecord, 0)
	for _, r := range s.records {
		if r.ActivityID != activityID || (userID != 0 && r.UserID != userID) {
			continue
		}
		list = append(list, r)
	}
	sortRecordsNewestFirst(list)
	return list, nil
}

// WithinBatch runs fn inline; every write is visible as soon as it is made
func (s *MemoryStore) WithinBatch(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func sortRecordsNewestFirst(list []DrawRecord) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].DrawTime.Equal(list[j].DrawTime) {
			return list[i].ID > list[j].ID
		}
		return list[i].DrawTime.After(list[j].DrawTime)
	})
}
