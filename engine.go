package luckydraw

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine is the draw execution coordinator. One call to PerformMultipleDraws
// is one batch: validate the quota, snapshot the prizes once, then draw N
// times against that snapshot, committing each win through a locked decrement.
type Engine struct {
	store         Store
	identity      IdentityResolver
	configManager *ConfigManager
	logger        Logger
	mu            sync.RWMutex // 保护配置和可替换组件的并发访问

	selector  *PrizeSelector
	validator *DrawLimitValidator
	guard     BatchGuard
	guardSet  bool // guard 由调用方显式设置, 配置更新时不覆盖
	now       func() time.Time

	performanceMonitor *PerformanceMonitor
}

// lockWaitConfigurer is implemented by stores whose lock wait can be tuned at runtime
type lockWaitConfigurer interface {
	SetLockWaitTimeout(time.Duration)
}

// monitoredStore is implemented by stores that report lock and error metrics
type monitoredStore interface {
	SetPerformanceMonitor(*PerformanceMonitor)
}

// NewEngine creates an engine with the default configuration
func NewEngine(store Store, identity IdentityResolver) *Engine {
	return NewEngineWithConfigAndLogger(store, identity, NewDefaultConfigManager(), NewSilentLogger())
}

// NewEngineWithConfig creates an engine with a custom configuration
func NewEngineWithConfig(store Store, identity IdentityResolver, cm *ConfigManager) *Engine {
	return NewEngineWithConfigAndLogger(store, identity, cm, NewSilentLogger())
}

// NewEngineWithLogger creates an engine with a custom logger
func NewEngineWithLogger(store Store, identity IdentityResolver, logger Logger) *Engine {
	return NewEngineWithConfigAndLogger(store, identity, NewDefaultConfigManager(), logger)
}

// NewEngineWithConfigAndLogger creates an engine with custom configuration and logger
func NewEngineWithConfigAndLogger(store Store, identity IdentityResolver, cm *ConfigManager, logger Logger) *Engine {
	if cm == nil || cm.GetConfig() == nil {
		cm = NewDefaultConfigManager()
	}
	if logger == nil {
		logger = NewSilentLogger()
	}
	if identity == nil {
		identity = NewContextIdentityResolver()
	}

	e := &Engine{
		store:              store,
		identity:           identity,
		configManager:      cm,
		logger:             logger,
		selector:           NewPrizeSelector(nil),
		validator:          NewDrawLimitValidator(identity, store, logger),
		now:                time.Now,
		performanceMonitor: NewPerformanceMonitor(),
	}

	if ms, ok := store.(monitoredStore); ok {
		ms.SetPerformanceMonitor(e.performanceMonitor)
	}
	e.applyEngineConfig(cm.GetConfig().Engine)
	return e
}

// applyEngineConfig pushes engine settings to the store and guard; caller holds e.mu or owns e
func (e *Engine) applyEngineConfig(cfg *EngineConfig) {
	if lc, ok := e.store.(lockWaitConfigurer); ok {
		lc.SetLockWaitTimeout(cfg.LockWaitTimeout)
	}

	if e.guardSet {
		return
	}
	if !cfg.SerializeUserBatches {
		e.guard = nil
		return
	}

	// 已有的 guard 可能正被进行中的批次持有, 重载配置时只调整等待时间
	if kg, ok := e.guard.(*KeyedBatchGuard); ok {
		kg.SetWait(cfg.LockWaitTimeout)
		return
	}
	e.guard = NewKeyedBatchGuard(cfg.LockWaitTimeout)
}

// GetConfig returns the current configuration
func (e *Engine) GetConfig() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.configManager.GetConfig()
}

// UpdateConfig updates the engine configuration at runtime
func (e *Engine) UpdateConfig(newConfig *Config) error {
	e.logger.Debug("UpdateConfig called")

	if newConfig == nil {
		e.logger.Error("UpdateConfig failed: nil configuration")
		return ErrConfigInvalid.WithDetails("config cannot be nil")
	}
	if err := newConfig.Validate(); err != nil {
		e.logger.Error("UpdateConfig validation failed: %v", err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.configManager.setConfig(newConfig)
	e.applyEngineConfig(newConfig.Engine)

	e.logger.Info("Configuration updated: lockWait=%v, maxDrawCount=%d, serializeUserBatches=%t",
		newConfig.Engine.LockWaitTimeout, newConfig.Engine.MaxDrawCount, newConfig.Engine.SerializeUserBatches)
	return nil
}

// SetLogger sets a custom logger for the engine
func (e *Engine) SetLogger(logger Logger) {
	if logger == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger
	e.validator = NewDrawLimitValidator(e.identity, e.store, logger)
}

// SetRandomSource replaces the selector's random source
func (e *Engine) SetRandomSource(source RandomSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selector = NewPrizeSelector(source)
}

// SetBatchGuard installs a custom guard; nil disables per-user batch serialization
func (e *Engine) SetBatchGuard(guard BatchGuard) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.guard = guard
	e.guardSet = true
}

// SetClock replaces the time source used for draw timestamps
func (e *Engine) SetClock(now func() time.Time) {
	if now == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// PerformanceMetrics returns a snapshot of the engine's metrics
func (e *Engine) PerformanceMetrics() PerformanceMetrics {
	return e.performanceMonitor.GetMetrics()
}

// ResetPerformanceMetrics clears the engine's metrics
func (e *Engine) ResetPerformanceMetrics() {
	e.performanceMonitor.ResetMetrics()
}

// batchDeps is a consistent view of the swappable components for one batch
type batchDeps struct {
	cfg       *EngineConfig
	logger    Logger
	selector  *PrizeSelector
	validator *DrawLimitValidator
	guard     BatchGuard
	now       func() time.Time
}

func (e *Engine) deps() batchDeps {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return batchDeps{
		cfg:       e.configManager.GetConfig().Engine,
		logger:    e.logger,
		selector:  e.selector,
		validator: e.validator,
		guard:     e.guard,
		now:       e.now,
	}
}

// PerformDraw executes a batch of one draw
func (e *Engine) PerformDraw(ctx context.Context, activityID int64) (*DrawResult, error) {
	result, err := e.PerformMultipleDraws(ctx, activityID, 1)
	if err != nil {
		return nil, err
	}
	return &result.Results[0], nil
}

// PerformMultipleDraws executes drawCount draws as one batch.
//
// Quota and empty-prize failures reject the batch before any draw. Inside the
// loop a domain failure (e.g. the prize ran out at decrement time) becomes a
// loss; a systemic failure stops the loop and the draws made so far are
// returned together with the error, PartialSuccess set.
func (e *Engine) PerformMultipleDraws(ctx context.Context, activityID int64, drawCount int) (*MultiDrawResult, error) {
	d := e.deps()
	start := time.Now()
	batchID := uuid.NewString()

	d.logger.Debug("PerformMultipleDraws called with activityID=%d, drawCount=%d, batch=%s", activityID, drawCount, batchID)

	// Validating
	if err := ValidateActivityID(activityID); err != nil {
		return nil, e.reject(d, "PerformMultipleDraws", batchID, err)
	}
	if err := ValidateDrawCount(drawCount, d.cfg.MaxDrawCount); err != nil {
		return nil, e.reject(d, "PerformMultipleDraws", batchID, err)
	}

	userID, err := e.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, e.reject(d, "PerformMultipleDraws", batchID, err)
	}

	activity, err := e.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, e.reject(d, "PerformMultipleDraws", batchID, err)
	}

	if d.guard != nil {
		release, err := d.guard.Acquire(ctx, userID, activityID)
		if err != nil {
			return nil, e.reject(d, "PerformMultipleDraws", batchID, err)
		}
		defer release()
	}

	result := &MultiDrawResult{
		BatchID:        batchID,
		TotalRequested: drawCount,
		Results:        make([]DrawResult, 0, drawCount),
	}

	var abortErr error
	err = e.store.WithinBatch(ctx, func(ctx context.Context) error {
		if _, err := d.validator.validateUser(ctx, userID, activityID, drawCount, activity.MaxDraws); err != nil {
			return err
		}

		// SnapshotPrizes: read once, never refreshed within the batch
		prizes, err := e.store.ListPrizes(ctx, activityID)
		if err != nil {
			return err
		}
		if len(prizes) == 0 {
			return ErrNoPrizesAvailable.WithDetails("activity has no prizes configured")
		}

		// Drawing
		for i := 1; i <= drawCount; i++ {
			outcome, err := e.drawOnce(ctx, d, userID, activityID, prizes, i, result)
			if err != nil {
				abortErr = err
				result.Failures = append(result.Failures, newDrawFailure(i, err, false, d.now()))
				break
			}
			result.Results = append(result.Results, *outcome)
		}

		// 截断的批次同样提交已完成的抽奖
		return nil
	})
	if err != nil {
		if len(result.Results) > 0 {
			// 事务提交失败, 已完成的抽奖未持久化
			d.logger.Error("PerformMultipleDraws commit failed: batch=%s, user=%d, activity=%d, draws=%d, error=%v",
				batchID, userID, activityID, len(result.Results), err)
			e.performanceMonitor.RecordBatch(true, time.Since(start))
			return nil, err
		}
		return nil, e.reject(d, "PerformMultipleDraws", batchID, err)
	}

	result.TotalDraws = len(result.Results)
	duration := time.Since(start)

	if abortErr != nil {
		result.PartialSuccess = true
		result.LastError = abortErr
		e.performanceMonitor.RecordBatch(true, duration)
		d.logger.Error("PerformMultipleDraws aborted: batch=%s, user=%d, activity=%d, completed=%d/%d, error=%v",
			batchID, userID, activityID, result.TotalDraws, drawCount, abortErr)
		return result, abortErr
	}

	e.performanceMonitor.RecordBatch(false, duration)
	d.logger.Info("PerformMultipleDraws completed: batch=%s, user=%d, activity=%d, draws=%d, wins=%d, duration=%v",
		batchID, userID, activityID, result.TotalDraws, result.Wins(), duration)
	return result, nil
}

// drawOnce runs one iteration: select, decrement on a candidate, append the record.
// A returned error is systemic and aborts the batch.
func (e *Engine) drawOnce(
	ctx context.Context, d batchDeps, userID, activityID int64, prizes []Prize, index int, result *MultiDrawResult,
) (*DrawResult, error) {
	now := d.now()
	rec := &DrawRecord{UserID: userID, ActivityID: activityID, DrawTime: now}
	outcome := newLossResult(now)

	candidate, err := d.selector.SelectPrize(prizes)
	if err != nil {
		return nil, ErrInternal.WithOperation("SelectPrize").WithCause(err)
	}

	if candidate != nil {
		err := e.store.DecrementPrize(ctx, candidate.ID)
		switch {
		case err == nil:
			id := candidate.ID
			rec.PrizeID = &id
			outcome = newWinResult(candidate, now)
		case IsDomainError(err):
			if errors.Is(err, ErrPrizeExhausted) {
				e.performanceMonitor.RecordExhausted()
			}
			d.logger.Debug("Draw %d of batch %s absorbed as loss: prize=%d, reason=%v", index, result.BatchID, candidate.ID, err)
			result.Failures = append(result.Failures, newDrawFailure(index, err, true, now))
		default:
			return nil, err
		}
	}

	if err := e.store.AppendDrawRecord(ctx, rec); err != nil {
		if rec.PrizeID != nil {
			// 记录写入失败, 归还已扣减的库存
			if rerr := e.store.RestorePrize(context.WithoutCancel(ctx), *rec.PrizeID); rerr != nil {
				d.logger.Error("RestorePrize failed after append error: prize=%d, batch=%s, error=%v",
					*rec.PrizeID, result.BatchID, rerr)
			}
		}
		return nil, err
	}

	e.performanceMonitor.RecordDraw(outcome.Won())
	return &outcome, nil
}

func (e *Engine) reject(d batchDeps, op, batchID string, err error) error {
	e.performanceMonitor.RecordRejectedBatch()
	if de, ok := AsDrawError(err); ok && de.Kind != KindSystemic {
		d.logger.Info("%s rejected: batch=%s, code=%s, reason=%v", op, batchID, de.Code, err)
	} else {
		d.logger.Error("%s failed: batch=%s, error=%v", op, batchID, err)
	}
	return err
}

func newDrawFailure(index int, err error, absorbed bool, at time.Time) DrawFailure {
	f := DrawFailure{
		DrawIndex: index,
		Code:      PublicCode(err),
		Message:   err.Error(),
		Absorbed:  absorbed,
		Timestamp: at,
	}
	if de, ok := AsDrawError(err); ok {
		f.Code = de.Code
	}
	return f
}

// GetUserActivityInfo reports the current user's quota usage for an activity
func (e *Engine) GetUserActivityInfo(ctx context.Context, activityID int64) (*UserActivityInfo, error) {
	d := e.deps()
	d.logger.Debug("GetUserActivityInfo called with activityID=%d", activityID)

	userID, err := e.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}

	activity, err := e.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}

	used, err := e.store.CountDrawRecords(ctx, userID, activityID)
	if err != nil {
		d.logger.Error("GetUserActivityInfo failed: %v", err)
		return nil, err
	}

	return &UserActivityInfo{
		UserID:         userID,
		ActivityID:     activityID,
		MaxDraws:       activity.MaxDraws,
		CurrentDraws:   used,
		RemainingDraws: max(activity.MaxDraws-used, 0),
	}, nil
}

// ListActivities returns every activity with its prizes
func (e *Engine) ListActivities(ctx context.Context) ([]ActivityInfo, error) {
	activities, err := e.store.ListActivities(ctx)
	if err != nil {
		e.deps().logger.Error("ListActivities failed: %v", err)
		return nil, err
	}

	list := make([]ActivityInfo, 0, len(activities))
	for _, a := range activities {
		prizes, err := e.store.ListPrizes(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		list = append(list, ActivityInfo{Activity: a, Prizes: prizes})
	}
	return list, nil
}

// GetDrawHistory returns every user's draws for an activity, newest first
func (e *Engine) GetDrawHistory(ctx context.Context, activityID int64) ([]DrawHistoryItem, error) {
	return e.history(ctx, 0, activityID)
}

// GetUserDrawHistory returns the current user's draws for an activity, newest first
func (e *Engine) GetUserDrawHistory(ctx context.Context, activityID int64) ([]DrawHistoryItem, error) {
	userID, err := e.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	return e.history(ctx, userID, activityID)
}

func (e *Engine) history(ctx context.Context, userID, activityID int64) ([]DrawHistoryItem, error) {
	d := e.deps()
	d.logger.Debug("history called with userID=%d, activityID=%d", userID, activityID)

	if _, err := e.store.GetActivity(ctx, activityID); err != nil {
		return nil, err
	}

	prizes, err := e.store.ListPrizes(ctx, activityID)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(prizes))
	for _, p := range prizes {
		names[p.ID] = p.Name
	}

	records, err := e.store.ListDrawRecords(ctx, userID, activityID)
	if err != nil {
		d.logger.Error("history failed: %v", err)
		return nil, err
	}

	items := make([]DrawHistoryItem, 0, len(records))
	for _, r := range records {
		item := DrawHistoryItem{
			RecordID:   r.ID,
			UserID:     r.UserID,
			ActivityID: r.ActivityID,
			PrizeID:    r.PrizeID,
			PrizeName:  LossPrizeName,
			DrawTime:   r.DrawTime,
		}
		if r.PrizeID != nil {
			item.PrizeName = names[*r.PrizeID]
		}
		items = append(items, item)
	}
	return items, nil
}
