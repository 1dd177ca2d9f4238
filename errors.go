package luckydraw

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 对外错误代码 (调用方可见)
const (
	ErrCodeActivityNotFound ErrorCode = "ACTIVITY_NOT_FOUND"
	ErrCodeNoPrizesAvailable ErrorCode = "NO_PRIZES_AVAILABLE"
	ErrCodeDrawLimitReached  ErrorCode = "USER_MULTIPLE_DRAW_LIMIT_REACHED"
	ErrCodeSystemBusy        ErrorCode = "SYSTEM_BUSY"
	ErrCodeInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrCodeInternal          ErrorCode = "INTERNAL_SERVER_ERROR"
)

// 内部错误代码 (映射到对外代码)
const (
	ErrCodePrizeExhausted        ErrorCode = "PRIZE_EXHAUSTED"
	ErrCodePrizeNotFound         ErrorCode = "PRIZE_NOT_FOUND"
	ErrCodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidRandomValue    ErrorCode = "INVALID_RANDOM_VALUE"
	ErrCodeInvalidProbability    ErrorCode = "INVALID_PROBABILITY"
	ErrCodeInvalidActivity       ErrorCode = "INVALID_ACTIVITY"
	ErrCodeInvalidPrize          ErrorCode = "INVALID_PRIZE"
	ErrCodeLockAcquisitionFailed ErrorCode = "LOCK_ACQUISITION_FAILED"
	ErrCodeLockTimeout           ErrorCode = "LOCK_TIMEOUT"
	ErrCodeStoreUnavailable      ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeCircuitBreakerOpen    ErrorCode = "CIRCUIT_BREAKER_OPEN"
	ErrCodeConfigInvalid         ErrorCode = "CONFIG_INVALID"
)

// ErrorKind classifies how the batch coordinator reacts to an error
type ErrorKind string

const (
	// KindValidation errors are rejected before any state mutation
	KindValidation ErrorKind = "validation"
	// KindDomain errors are business outcomes; mid-batch they become a loss
	KindDomain ErrorKind = "domain"
	// KindSystemic errors abort the remaining draws of a batch
	KindSystemic ErrorKind = "systemic"
)

// ErrorSeverity 错误严重程度
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityHigh     ErrorSeverity = "high"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityLow      ErrorSeverity = "low"
)

// DrawError 抽奖系统的结构化错误
type DrawError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    string         `json:"details,omitempty"`
	Kind       ErrorKind      `json:"kind"`
	Severity   ErrorSeverity  `json:"severity"`
	Timestamp  time.Time      `json:"timestamp"`
	Operation  string         `json:"operation,omitempty"`
	StackTrace string         `json:"stack_trace,omitempty"`
	Cause      error          `json:"-"`
	Retryable  bool           `json:"retryable"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Error 实现 error 接口
func (e *DrawError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap 接口
func (e *DrawError) Unwrap() error { return e.Cause }

// Is 按错误代码比较
func (e *DrawError) Is(target error) bool {
	if t, ok := target.(*DrawError); ok {
		return e.Code == t.Code
	}
	return false
}

// clone returns a copy so the predefined errors below are never mutated
func (e *DrawError) clone() *DrawError {
	c := *e
	c.Timestamp = time.Now()
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// WithCause 添加原因错误
func (e *DrawError) WithCause(cause error) *DrawError {
	c := e.clone()
	c.Cause = cause
	return c
}

// WithDetails 添加详细信息
func (e *DrawError) WithDetails(details string) *DrawError {
	c := e.clone()
	c.Details = details
	return c
}

// WithOperation 添加操作信息
func (e *DrawError) WithOperation(operation string) *DrawError {
	c := e.clone()
	c.Operation = operation
	return c
}

// WithMetadata 添加元数据
func (e *DrawError) WithMetadata(key string, value any) *DrawError {
	c := e.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
	return c
}

// WithStackTrace 添加堆栈跟踪
func (e *DrawError) WithStackTrace() *DrawError {
	c := e.clone()
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	c.StackTrace = string(buf[:n])
	return c
}

// NewError 创建新的错误
func NewError(code ErrorCode, kind ErrorKind, message string) *DrawError {
	return &DrawError{
		Code:      code,
		Message:   message,
		Kind:      kind,
		Severity:  SeverityMedium,
		Timestamp: time.Now(),
	}
}

// NewRetryableError 创建可重试的系统错误
func NewRetryableError(code ErrorCode, message string) *DrawError {
	return &DrawError{
		Code:      code,
		Message:   message,
		Kind:      KindSystemic,
		Severity:  SeverityHigh,
		Timestamp: time.Now(),
		Retryable: true,
	}
}

// NewCriticalError 创建严重错误
func NewCriticalError(code ErrorCode, message string) *DrawError {
	return &DrawError{
		Code:      code,
		Message:   message,
		Kind:      KindSystemic,
		Severity:  SeverityCritical,
		Timestamp: time.Now(),
	}
}

// 预定义的错误实例
var (
	// 校验错误
	ErrInvalidRequest     = NewError(ErrCodeInvalidRequest, KindValidation, "invalid request")
	ErrInvalidRandomValue = NewError(ErrCodeInvalidRandomValue, KindValidation, "random value must be in [0, 1)")
	ErrInvalidProbability = NewError(ErrCodeInvalidProbability, KindValidation, "invalid probability")
	ErrInvalidActivity    = NewError(ErrCodeInvalidActivity, KindValidation, "invalid activity")
	ErrInvalidPrize       = NewError(ErrCodeInvalidPrize, KindValidation, "invalid prize")
	ErrUnauthorized       = NewError(ErrCodeUnauthorized, KindValidation, "user identity not available")

	// 业务错误
	ErrActivityNotFound  = NewError(ErrCodeActivityNotFound, KindDomain, "activity not found")
	ErrNoPrizesAvailable = NewError(ErrCodeNoPrizesAvailable, KindDomain, "no prizes available for this activity")
	ErrDrawLimitExceeded = NewError(ErrCodeDrawLimitReached, KindDomain,
		"you cannot perform this many draws, you have reached your limit for this activity")
	ErrPrizeExhausted = NewError(ErrCodePrizeExhausted, KindDomain, "prize inventory exhausted")
	ErrPrizeNotFound  = NewError(ErrCodePrizeNotFound, KindDomain, "prize not found")

	// 系统错误
	ErrSystemBusy            = NewRetryableError(ErrCodeSystemBusy, "system is busy, please retry")
	ErrLockAcquisitionFailed = NewRetryableError(ErrCodeLockAcquisitionFailed, "failed to acquire prize lock")
	ErrLockTimeout           = NewRetryableError(ErrCodeLockTimeout, "lock acquisition timeout")
	ErrStoreUnavailable      = NewRetryableError(ErrCodeStoreUnavailable, "store temporarily unavailable")
	ErrCircuitBreakerOpen    = NewRetryableError(ErrCodeCircuitBreakerOpen, "circuit breaker is open")
	ErrInternal              = NewCriticalError(ErrCodeInternal, "an internal server error occurred")
	ErrConfigInvalid         = NewCriticalError(ErrCodeConfigInvalid, "configuration is invalid")

	// 配置错误
	ErrInvalidLockWaitTimeout = NewError(ErrCodeConfigInvalid, KindValidation, "invalid lock wait timeout: must be between 10ms and 5m")
	ErrInvalidRetryAttempts   = NewError(ErrCodeConfigInvalid, KindValidation, "invalid retry attempts: must be between 0 and 10")
	ErrInvalidRetryInterval   = NewError(ErrCodeConfigInvalid, KindValidation, "invalid retry interval: cannot be negative")
	ErrInvalidMaxDrawCount    = NewError(ErrCodeConfigInvalid, KindValidation, "invalid max draw count: must be between 1 and 10")
)

// AsDrawError extracts a *DrawError from the chain
func AsDrawError(err error) (*DrawError, bool) {
	var de *DrawError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsDomainError reports whether err is a business outcome that a batch absorbs as a loss
func IsDomainError(err error) bool {
	de, ok := AsDrawError(err)
	return ok && de.Kind == KindDomain
}

// IsRetryable reports whether the caller may retry the failed request
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := AsDrawError(err); ok {
		return de.Retryable
	}
	return IsRetryableError(err)
}

// PublicCode maps any error onto the caller-facing error code set
func PublicCode(err error) ErrorCode {
	de, ok := AsDrawError(err)
	if !ok {
		if IsRetryableError(err) {
			return ErrCodeSystemBusy
		}
		return ErrCodeInternal
	}

	switch de.Code {
	case ErrCodeActivityNotFound, ErrCodeNoPrizesAvailable, ErrCodeDrawLimitReached,
		ErrCodeSystemBusy, ErrCodeInvalidRequest, ErrCodeInternal, ErrCodeUnauthorized:
		return de.Code
	case ErrCodeInvalidRandomValue, ErrCodeInvalidProbability, ErrCodeInvalidActivity, ErrCodeInvalidPrize:
		return ErrCodeInvalidRequest
	case ErrCodePrizeExhausted:
		return ErrCodeNoPrizesAvailable
	case ErrCodePrizeNotFound:
		return ErrCodeActivityNotFound
	}

	if de.Retryable {
		return ErrCodeSystemBusy
	}
	return ErrCodeInternal
}

// IsRetryableError 检查是否为可重试错误 (按错误文本匹配驱动层错误)
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"network is unreachable",
		"temporary failure",
		"server closed",
		"broken pipe",
		"i/o timeout",
		"dial tcp",
		"connection timed out",
		"no route to host",
		"redis: connection pool timeout",
		"redis: client is closed",
		"context deadline exceeded",
		"database is locked",
		"database table is locked",
		"sqlite_busy",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// classifyStoreError wraps a raw driver error: contention becomes SYSTEM_BUSY,
// anything else is an internal failure
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsDrawError(err); ok {
		return err
	}
	if IsRetryableError(err) {
		return ErrSystemBusy.WithOperation(op).WithCause(err)
	}
	return ErrInternal.WithOperation(op).WithCause(err)
}
