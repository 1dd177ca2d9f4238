package luckydraw

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerEngine 带熔断器的抽奖引擎.
// 只有系统错误计入失败; 额度不足, 活动不存在等业务结果不会触发熔断.
type CircuitBreakerEngine struct {
	engine Drawer

	mu      sync.RWMutex
	breaker *gobreaker.CircuitBreaker
	logger  Logger
	config  *CircuitBreakerConfig
}

// NewCircuitBreakerEngine 创建带熔断器的抽奖引擎
func NewCircuitBreakerEngine(engine Drawer, config *CircuitBreakerConfig, logger Logger) *CircuitBreakerEngine {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	if logger == nil {
		logger = NewSilentLogger()
	}

	c := &CircuitBreakerEngine{
		engine: engine,
		logger: logger,
		config: config,
	}
	if config.Enabled {
		// 未启用时为透传包装器
		c.breaker = gobreaker.NewCircuitBreaker(c.settings())
	}
	return c
}

func (c *CircuitBreakerEngine) settings() gobreaker.Settings {
	config, logger := c.config, c.logger
	return gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// 当请求数达到最小要求且失败率超过阈值时触发熔断
			return counts.Requests >= config.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= config.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if config.OnStateChange {
				logger.Info("Circuit breaker '%s' state changed from %s to %s", name, from, to)
			}
		},
		IsSuccessful: isBreakerSuccess,
	}
}

// isBreakerSuccess treats everything but systemic failures as success
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if de, ok := AsDrawError(err); ok {
		return de.Kind != KindSystemic
	}
	return false
}

// executeWithBreaker 使用熔断器执行操作; 操作的结果与错误一并返回, 截断的批次结果不会丢失
func (c *CircuitBreakerEngine) executeWithBreaker(operation func() (any, error)) (any, error) {
	c.mu.RLock()
	breaker := c.breaker
	c.mu.RUnlock()

	if breaker == nil {
		return operation()
	}

	result, err := breaker.Execute(operation)
	if errors.Is(err, gobreaker.ErrOpenState) {
		return nil, ErrCircuitBreakerOpen.WithDetails("circuit breaker is open, requests are being rejected")
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitBreakerOpen.WithDetails("too many requests, circuit breaker is half-open")
	}
	return result, err
}

// PerformDraw 单次抽奖
func (c *CircuitBreakerEngine) PerformDraw(ctx context.Context, activityID int64) (*DrawResult, error) {
	result, err := c.executeWithBreaker(func() (any, error) {
		return c.engine.PerformDraw(ctx, activityID)
	})
	r, _ := result.(*DrawResult)
	return r, err
}

// PerformMultipleDraws 多次抽奖
func (c *CircuitBreakerEngine) PerformMultipleDraws(ctx context.Context, activityID int64, drawCount int) (*MultiDrawResult, error) {
	result, err := c.executeWithBreaker(func() (any, error) {
		return c.engine.PerformMultipleDraws(ctx, activityID, drawCount)
	})
	r, _ := result.(*MultiDrawResult)
	return r, err
}

// GetUserActivityInfo 查询用户活动额度
func (c *CircuitBreakerEngine) GetUserActivityInfo(ctx context.Context, activityID int64) (*UserActivityInfo, error) {
	result, err := c.executeWithBreaker(func() (any, error) {
		return c.engine.GetUserActivityInfo(ctx, activityID)
	})
	r, _ := result.(*UserActivityInfo)
	return r, err
}

// ListActivities 查询活动列表
func (c *CircuitBreakerEngine) ListActivities(ctx context.Context) ([]ActivityInfo, error) {
	result, err := c.executeWithBreaker(func() (any, error) {
		return c.engine.ListActivities(ctx)
	})
	r, _ := result.([]ActivityInfo)
	return r, err
}

// GetUserDrawHistory 查询用户抽奖记录
func (c *CircuitBreakerEngine) GetUserDrawHistory(ctx context.Context, activityID int64) ([]DrawHistoryItem, error) {
	result, err := c.executeWithBreaker(func() (any, error) {
		return c.engine.GetUserDrawHistory(ctx, activityID)
	})
	r, _ := result.([]DrawHistoryItem)
	return r, err
}

// GetCircuitBreakerState 获取熔断器状态
func (c *CircuitBreakerEngine) GetCircuitBreakerState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// GetCircuitBreakerCounts 获取熔断器统计信息
func (c *CircuitBreakerEngine) GetCircuitBreakerCounts() gobreaker.Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.breaker == nil {
		return gobreaker.Counts{}
	}
	return c.breaker.Counts()
}

// ResetCircuitBreaker 重置熔断器 (gobreaker 没有 Reset 方法, 重新创建实例)
func (c *CircuitBreakerEngine) ResetCircuitBreaker() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.breaker == nil {
		return
	}
	c.breaker = gobreaker.NewCircuitBreaker(c.settings())
	c.logger.Info("Circuit breaker '%s' has been reset", c.config.Name)
}

// HealthCheck 熔断器健康检查
func (c *CircuitBreakerEngine) HealthCheck() map[string]any {
	result := map[string]any{
		"circuit_breaker_enabled": c.config.Enabled,
		"timestamp":               time.Now().Unix(),
	}

	state := c.GetCircuitBreakerState()
	result["state"] = state
	if state == "disabled" {
		result["healthy"] = true
		return result
	}

	counts := c.GetCircuitBreakerCounts()
	result["requests"] = counts.Requests
	result["total_successes"] = counts.TotalSuccesses
	result["total_failures"] = counts.TotalFailures
	result["consecutive_failures"] = counts.ConsecutiveFailures

	if counts.Requests > 0 {
		result["failure_rate"] = float64(counts.TotalFailures) / float64(counts.Requests)
	} else {
		result["failure_rate"] = 0.0
	}

	// 半开状态下连续失败过多同样视为不健康
	healthy := state != "open" && !(state == "half-open" && counts.ConsecutiveFailures > 2)
	result["healthy"] = healthy
	return result
}
