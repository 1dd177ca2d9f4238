package luckydraw

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type txKey struct{}

// SQLStore persists activities, prizes and draw records through gorm.
//
// A batch runs in one database transaction threaded through the context.
// With SQLite and _txlock=immediate the write lock is taken at BEGIN, so the
// per-prize row lock degrades to a database-wide one; busy_timeout bounds the wait.
type SQLStore struct {
	db     *gorm.DB
	logger Logger

	mu              sync.RWMutex // 保护运行时可调整的字段
	lockWaitTimeout time.Duration
	monitor         *PerformanceMonitor
}

// NewSQLiteStore opens (and migrates) a SQLite database
func NewSQLiteStore(dsn string, logger Logger) (*SQLStore, error) {
	if dsn == "" {
		dsn = DefaultSQLiteDSN
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, ErrStoreUnavailable.WithOperation("NewSQLiteStore").WithCause(err)
	}

	return NewSQLStore(db, logger)
}

// NewSQLStore wraps an open gorm connection and migrates the schema
func NewSQLStore(db *gorm.DB, logger Logger) (*SQLStore, error) {
	if logger == nil {
		logger = NewSilentLogger()
	}

	if err := db.AutoMigrate(&Activity{}, &Prize{}, &DrawRecord{}); err != nil {
		return nil, ErrInternal.WithOperation("NewSQLStore").WithCause(err)
	}

	return &SQLStore{
		db:              db,
		logger:          logger,
		lockWaitTimeout: DefaultLockWaitTimeout,
		monitor:         NewPerformanceMonitor(),
	}, nil
}

// SetLockWaitTimeout changes the bound on a single decrement statement
func (s *SQLStore) SetLockWaitTimeout(d time.Duration) {
	if d <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockWaitTimeout = d
}

// SetPerformanceMonitor 设置性能监控器
func (s *SQLStore) SetPerformanceMonitor(monitor *PerformanceMonitor) {
	if monitor == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitor = monitor
}

// settings returns the lock wait bound and monitor currently in effect
func (s *SQLStore) settings() (time.Duration, *PerformanceMonitor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockWaitTimeout, s.monitor
}

// Close closes the underlying connection pool
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// conn returns the batch transaction carried by ctx, or the base handle
func (s *SQLStore) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func (s *SQLStore) fail(op string, err error) error {
	if _, ok := AsDrawError(err); !ok {
		_, monitor := s.settings()
		monitor.RecordStoreError()
		s.logger.Error("%s failed: %v", op, err)
	}
	return classifyStoreError(op, err)
}

// WithinBatch runs fn inside one transaction; fn's nil return commits
func (s *SQLStore) WithinBatch(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	if err != nil {
		return s.fail("WithinBatch", err)
	}
	return nil
}

// SaveActivity inserts or updates an activity
func (s *SQLStore) SaveActivity(ctx context.Context, a *Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := s.conn(ctx).Save(a).Error; err != nil {
		return s.fail("SaveActivity", err)
	}
	return nil
}

// SavePrize inserts or updates a prize after checking the activity's probability sum
func (s *SQLStore) SavePrize(ctx context.Context, p *Prize) error {
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Activity{}).Where("id = ?", p.ActivityID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrActivityNotFound.WithDetails(fmt.Sprintf("activity %d", p.ActivityID))
		}

		var existing []Prize
		if err := tx.Where("activity_id = ?", p.ActivityID).Order("id asc").Find(&existing).Error; err != nil {
			return err
		}
		if err := mergePrizeForSave(existing, p); err != nil {
			return err
		}

		return tx.Save(p).Error
	})
	if err != nil {
		return s.fail("SavePrize", err)
	}
	return nil
}

// GetActivity returns an activity by id
func (s *SQLStore) GetActivity(ctx context.Context, activityID int64) (*Activity, error) {
	var a Activity
	if err := s.conn(ctx).First(&a, activityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActivityNotFound.WithDetails(fmt.Sprintf("activity %d", activityID))
		}
		return nil, s.fail("GetActivity", err)
	}
	return &a, nil
}

// ListActivities returns all activities ordered by id
func (s *SQLStore) ListActivities(ctx context.Context) ([]Activity, error) {
	var list []Activity
	if err := s.conn(ctx).Order("id asc").Find(&list).Error; err != nil {
		return nil, s.fail("ListActivities", err)
	}
	return list, nil
}

// ListPrizes returns the activity's prizes ordered by id
func (s *SQLStore) ListPrizes(ctx context.Context, activityID int64) ([]Prize, error) {
	var list []Prize
	if err := s.conn(ctx).Where("activity_id = ?", activityID).Order("id asc").Find(&list).Error; err != nil {
		return nil, s.fail("ListPrizes", err)
	}
	return list, nil
}

// DecrementPrize locks the prize row, re-reads the quantity and decrements it
func (s *SQLStore) DecrementPrize(ctx context.Context, prizeID int64) error {
	return s.adjustQuantity(ctx, "DecrementPrize", prizeID, -1)
}

// RestorePrize gives one unit back to a prize
func (s *SQLStore) RestorePrize(ctx context.Context, prizeID int64) error {
	return s.adjustQuantity(ctx, "RestorePrize", prizeID, 1)
}

func (s *SQLStore) adjustQuantity(ctx context.Context, op string, prizeID int64, delta int) error {
	wait, monitor := s.settings()
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	start := time.Now()
	err := s.conn(lockCtx).Transaction(func(tx *gorm.DB) error {
		var p Prize
		// SELECT ... FOR UPDATE; the SQLite dialect omits the clause and relies on the write lock
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, prizeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPrizeNotFound.WithDetails(fmt.Sprintf("prize %d", prizeID))
			}
			return err
		}
		monitor.RecordLockAcquisition(true, time.Since(start))

		if delta < 0 && p.Quantity <= 0 {
			return ErrPrizeExhausted.WithDetails(fmt.Sprintf("prize %d", prizeID))
		}

		return tx.Model(&Prize{}).
			Where("id = ?", prizeID).
			Update("quantity", gorm.Expr("quantity + ?", delta)).Error
	})
	if err == nil {
		return nil
	}

	if _, ok := AsDrawError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || IsRetryableError(err) {
		monitor.RecordLockAcquisition(false, time.Since(start))
		return ErrSystemBusy.WithOperation(op).WithCause(err)
	}
	return s.fail(op, err)
}

// AppendDrawRecord inserts a record and assigns its id
func (s *SQLStore) AppendDrawRecord(ctx context.Context, rec *DrawRecord) error {
	rec.ID = 0
	if err := s.conn(ctx).Create(rec).Error; err != nil {
		return s.fail("AppendDrawRecord", err)
	}
	return nil
}

// CountDrawRecords counts records for (user, activity)
func (s *SQLStore) CountDrawRecords(ctx context.Context, userID, activityID int64) (int, error) {
	var n int64
	err := s.conn(ctx).Model(&DrawRecord{}).
		Where("user_id = ? AND activity_id = ?", userID, activityID).
		Count(&n).Error
	if err != nil {
		return 0, s.fail("CountDrawRecords", err)
	}
	return int(n), nil
}

// ListDrawRecords returns records newest first; userID 0 selects all users
func (s *SQLStore) ListDrawRecords(ctx context.Context, userID, activityID int64) ([]DrawRecord, error) {
	q := s.conn(ctx).Where("activity_id = ?", activityID)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}

	var list []DrawRecord
	if err := q.Order("draw_time desc, id desc").Find(&list).Error; err != nil {
		return nil, s.fail("ListDrawRecords", err)
	}
	return list, nil
}
