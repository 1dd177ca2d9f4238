package luckydraw

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceMonitor(t *testing.T) {
	pm := NewPerformanceMonitor()

	pm.RecordBatch(false, 10*time.Millisecond)
	pm.RecordBatch(true, 30*time.Millisecond)
	pm.RecordRejectedBatch()
	pm.RecordDraw(true)
	pm.RecordDraw(false)
	pm.RecordDraw(false)
	pm.RecordDraw(true)
	pm.RecordExhausted()
	pm.RecordLockAcquisition(true, 4*time.Millisecond)
	pm.RecordLockAcquisition(true, 2*time.Millisecond)
	pm.RecordLockAcquisition(false, time.Second)
	pm.RecordLockRelease()
	pm.RecordStoreError()

	m := pm.GetMetrics()
	assert.Equal(t, int64(2), m.TotalBatches)
	assert.Equal(t, int64(1), m.AbortedBatches)
	assert.Equal(t, int64(1), m.RejectedBatches)
	assert.Equal(t, int64(4), m.TotalDraws)
	assert.Equal(t, 50.0, m.WinRate())
	assert.Equal(t, int64(1), m.ExhaustedAtCommit)
	assert.Equal(t, int64(2), m.LockAcquisitions)
	assert.Equal(t, int64(1), m.LockTimeouts)
	assert.Equal(t, 3*time.Millisecond, m.AverageLockTime())
	assert.Equal(t, 20*time.Millisecond, m.AverageBatchTime())
	assert.Equal(t, int64(1), m.StoreErrors)

	pm.ResetMetrics()
	m = pm.GetMetrics()
	assert.Zero(t, m.TotalBatches)
	assert.Zero(t, m.TotalDraws)
	assert.Zero(t, m.WinRate())
	assert.Zero(t, m.AverageLockTime())
}

func TestPerformanceMonitor_Disabled(t *testing.T) {
	pm := NewPerformanceMonitor()
	pm.Disable()
	assert.False(t, pm.IsEnabled())

	pm.RecordBatch(false, time.Millisecond)
	pm.RecordDraw(true)
	assert.Zero(t, pm.GetMetrics().TotalBatches)
	assert.Zero(t, pm.GetMetrics().TotalDraws)

	pm.Enable()
	pm.RecordDraw(true)
	assert.Equal(t, int64(1), pm.GetMetrics().TotalDraws)
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger("luckydraw-test", &buf, false)
	defer l.Close()

	l.Info("batch %s completed", "b-1")
	l.Error("store failed: %v", "boom")
	l.Debug("hidden %d", 1)
	assert.Contains(t, buf.String(), "batch b-1 completed")
	assert.Contains(t, buf.String(), "store failed: boom")
	assert.NotContains(t, buf.String(), "hidden")

	l.SetDebug(true)
	l.Debug("visible %d", 2)
	assert.Contains(t, buf.String(), "[DEBUG] visible 2")
}

func TestDefaultLogger_ToggleDebugConcurrently(t *testing.T) {
	l := NewDefaultLogger("luckydraw-toggle", io.Discard, false)
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(enabled bool) {
			defer wg.Done()
			for iter := 0; iter < 100; iter++ {
				l.SetDebug(enabled)
				l.Debug("draw %d", 1)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	l.SetDebug(true)
	assert.True(t, l.debug.Load())
}
