package luckydraw

import "context"

// Drawer defines the caller-facing draw operations
type Drawer interface {
	// PerformDraw executes a batch of exactly one draw
	PerformDraw(ctx context.Context, activityID int64) (*DrawResult, error)

	// PerformMultipleDraws executes a batch of drawCount draws as one unit
	PerformMultipleDraws(ctx context.Context, activityID int64, drawCount int) (*MultiDrawResult, error)

	// GetUserActivityInfo reports the current user's quota usage for an activity
	GetUserActivityInfo(ctx context.Context, activityID int64) (*UserActivityInfo, error)

	// ListActivities returns every activity with its prizes
	ListActivities(ctx context.Context) ([]ActivityInfo, error)

	// GetUserDrawHistory returns the current user's draws for an activity, newest first
	GetUserDrawHistory(ctx context.Context, activityID int64) ([]DrawHistoryItem, error)
}

// RandomSource supplies uniformly distributed values in [0, 1)
type RandomSource interface {
	Float64() (float64, error)
}

// Logger defines the interface for logging operations
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}
