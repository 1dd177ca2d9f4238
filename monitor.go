package luckydraw

import (
	"time"

	"go.uber.org/atomic"
)

// PerformanceMetrics 性能指标快照
type PerformanceMetrics struct {
	// 批次统计
	TotalBatches    int64 `json:"total_batches"`    // 执行的批次数
	RejectedBatches int64 `json:"rejected_batches"` // 校验阶段被拒绝的批次数
	AbortedBatches  int64 `json:"aborted_batches"`  // 因系统错误截断的批次数

	// 抽奖统计
	TotalDraws        int64 `json:"total_draws"`         // 总抽奖次数
	Wins              int64 `json:"wins"`                // 中奖次数
	Losses            int64 `json:"losses"`              // 未中奖次数
	ExhaustedAtCommit int64 `json:"exhausted_at_commit"` // 扣减时库存已空的次数

	// 锁统计
	LockAcquisitions    int64 `json:"lock_acquisitions"`     // 锁获取次数
	LockAcquisitionTime int64 `json:"lock_acquisition_time"` // 锁获取总时间(纳秒)
	LockReleases        int64 `json:"lock_releases"`         // 锁释放次数
	LockTimeouts        int64 `json:"lock_timeouts"`         // 锁等待超时次数

	// 存储统计
	StoreErrors int64 `json:"store_errors"` // 存储层错误数

	TotalBatchTime int64 `json:"total_batch_time"` // 批次总耗时(纳秒)

	// 时间戳
	StartTime      int64 `json:"start_time"`
	LastUpdateTime int64 `json:"last_update_time"`
}

// WinRate 中奖率 (百分比)
func (pm PerformanceMetrics) WinRate() float64 {
	if pm.TotalDraws == 0 {
		return 0.0
	}
	return float64(pm.Wins) / float64(pm.TotalDraws) * 100.0
}

// AverageLockTime 平均锁获取时间
func (pm PerformanceMetrics) AverageLockTime() time.Duration {
	if pm.LockAcquisitions == 0 {
		return 0
	}
	return time.Duration(pm.LockAcquisitionTime / pm.LockAcquisitions)
}

// AverageBatchTime 平均批次耗时
func (pm PerformanceMetrics) AverageBatchTime() time.Duration {
	if pm.TotalBatches == 0 {
		return 0
	}
	return time.Duration(pm.TotalBatchTime / pm.TotalBatches)
}

// Throughput 吞吐量(每秒抽奖次数)
func (pm PerformanceMetrics) Throughput() float64 {
	if pm.StartTime == 0 || pm.LastUpdateTime <= pm.StartTime {
		return 0.0
	}
	return float64(pm.TotalDraws) / time.Duration(pm.LastUpdateTime-pm.StartTime).Seconds()
}

// ================================================================================

// PerformanceMonitor 性能监控器
type PerformanceMonitor struct {
	enabled *atomic.Bool

	totalBatches      *atomic.Int64
	rejectedBatches   *atomic.Int64
	abortedBatches    *atomic.Int64
	totalDraws        *atomic.Int64
	wins              *atomic.Int64
	losses            *atomic.Int64
	exhaustedAtCommit *atomic.Int64
	lockAcquisitions  *atomic.Int64
	lockTime          *atomic.Int64
	lockReleases      *atomic.Int64
	lockTimeouts      *atomic.Int64
	storeErrors       *atomic.Int64
	totalBatchTime    *atomic.Int64
	startTime         *atomic.Int64
	lastUpdate        *atomic.Int64
}

// NewPerformanceMonitor 创建新的性能监控器
func NewPerformanceMonitor() *PerformanceMonitor {
	now := time.Now().UnixNano()
	return &PerformanceMonitor{
		enabled:           atomic.NewBool(true),
		totalBatches:      atomic.NewInt64(0),
		rejectedBatches:   atomic.NewInt64(0),
		abortedBatches:    atomic.NewInt64(0),
		totalDraws:        atomic.NewInt64(0),
		wins:              atomic.NewInt64(0),
		losses:            atomic.NewInt64(0),
		exhaustedAtCommit: atomic.NewInt64(0),
		lockAcquisitions:  atomic.NewInt64(0),
		lockTime:          atomic.NewInt64(0),
		lockReleases:      atomic.NewInt64(0),
		lockTimeouts:      atomic.NewInt64(0),
		storeErrors:       atomic.NewInt64(0),
		totalBatchTime:    atomic.NewInt64(0),
		startTime:         atomic.NewInt64(now),
		lastUpdate:        atomic.NewInt64(now),
	}
}

// Enable 启用性能监控
func (pm *PerformanceMonitor) Enable() { pm.enabled.Store(true) }

// Disable 禁用性能监控
func (pm *PerformanceMonitor) Disable() { pm.enabled.Store(false) }

// IsEnabled 检查是否启用了性能监控
func (pm *PerformanceMonitor) IsEnabled() bool { return pm.enabled.Load() }

func (pm *PerformanceMonitor) touch() { pm.lastUpdate.Store(time.Now().UnixNano()) }

// RecordBatch 记录一次完成(或截断)的批次
func (pm *PerformanceMonitor) RecordBatch(aborted bool, duration time.Duration) {
	if !pm.IsEnabled() {
		return
	}

	pm.totalBatches.Inc()
	pm.totalBatchTime.Add(int64(duration))
	if aborted {
		pm.abortedBatches.Inc()
	}
	pm.touch()
}

// RecordRejectedBatch 记录校验阶段被拒绝的批次
func (pm *PerformanceMonitor) RecordRejectedBatch() {
	if !pm.IsEnabled() {
		return
	}

	pm.rejectedBatches.Inc()
	pm.touch()
}

// RecordDraw 记录单次抽奖结果
func (pm *PerformanceMonitor) RecordDraw(won bool) {
	if !pm.IsEnabled() {
		return
	}

	pm.totalDraws.Inc()
	if won {
		pm.wins.Inc()
	} else {
		pm.losses.Inc()
	}
	pm.touch()
}

// RecordExhausted 记录扣减时库存已空
func (pm *PerformanceMonitor) RecordExhausted() {
	if !pm.IsEnabled() {
		return
	}

	pm.exhaustedAtCommit.Inc()
	pm.touch()
}

// RecordLockAcquisition 记录锁获取操作
func (pm *PerformanceMonitor) RecordLockAcquisition(success bool, duration time.Duration) {
	if !pm.IsEnabled() {
		return
	}

	if success {
		pm.lockAcquisitions.Inc()
		pm.lockTime.Add(int64(duration))
	} else {
		pm.lockTimeouts.Inc()
	}
	pm.touch()
}

// RecordLockRelease 记录锁释放操作
func (pm *PerformanceMonitor) RecordLockRelease() {
	if !pm.IsEnabled() {
		return
	}

	pm.lockReleases.Inc()
	pm.touch()
}

// RecordStoreError 记录存储层错误
func (pm *PerformanceMonitor) RecordStoreError() {
	if !pm.IsEnabled() {
		return
	}

	pm.storeErrors.Inc()
	pm.touch()
}

// GetMetrics 获取性能指标的副本
func (pm *PerformanceMonitor) GetMetrics() PerformanceMetrics {
	return PerformanceMetrics{
		TotalBatches:        pm.totalBatches.Load(),
		RejectedBatches:     pm.rejectedBatches.Load(),
		AbortedBatches:      pm.abortedBatches.Load(),
		TotalDraws:          pm.totalDraws.Load(),
		Wins:                pm.wins.Load(),
		Losses:              pm.losses.Load(),
		ExhaustedAtCommit:   pm.exhaustedAtCommit.Load(),
		LockAcquisitions:    pm.lockAcquisitions.Load(),
		LockAcquisitionTime: pm.lockTime.Load(),
		LockReleases:        pm.lockReleases.Load(),
		LockTimeouts:        pm.lockTimeouts.Load(),
		StoreErrors:         pm.storeErrors.Load(),
		TotalBatchTime:      pm.totalBatchTime.Load(),
		StartTime:           pm.startTime.Load(),
		LastUpdateTime:      pm.lastUpdate.Load(),
	}
}

// ResetMetrics 重置性能指标
func (pm *PerformanceMonitor) ResetMetrics() {
	for _, c := range []*atomic.Int64{
		pm.totalBatches, pm.rejectedBatches, pm.abortedBatches,
		pm.totalDraws, pm.wins, pm.losses, pm.exhaustedAtCommit,
		pm.lockAcquisitions, pm.lockTime, pm.lockReleases, pm.lockTimeouts,
		pm.storeErrors, pm.totalBatchTime,
	} {
		c.Store(0)
	}

	now := time.Now().UnixNano()
	pm.startTime.Store(now)
	pm.lastUpdate.Store(now)
}
