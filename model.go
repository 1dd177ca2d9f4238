package luckydraw

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Activity is a draw campaign with a per-user draw cap
type Activity struct {
	ID          int64  `json:"id" gorm:"primaryKey"`
	Name        string `json:"name" gorm:"size:128;not null"`
	Description string `json:"description" gorm:"size:512"`
	MaxDraws    int    `json:"maxDraws" gorm:"not null;default:1"`
}

// Validate validates the activity data
func (a *Activity) Validate() error {
	if a.Name == "" {
		return ErrInvalidActivity.WithDetails("name cannot be empty")
	}
	if a.MaxDraws < 1 {
		return ErrInvalidActivity.WithDetails(fmt.Sprintf("maxDraws must be at least 1, got %d", a.MaxDraws))
	}
	return nil
}

// Prize is an awardable item with inventory and win probability
type Prize struct {
	ID          int64           `json:"id" gorm:"primaryKey"`
	ActivityID  int64           `json:"activityId" gorm:"index;not null"`
	Name        string          `json:"name" gorm:"size:128;not null"`
	Description string          `json:"description" gorm:"size:512"`
	Quantity    int             `json:"quantity" gorm:"not null"`
	Probability decimal.Decimal `json:"probability" gorm:"type:varchar(32);not null"`
}

// Validate validates the prize data
func (p *Prize) Validate() error {
	if p.Name == "" {
		return ErrInvalidPrize.WithDetails("name cannot be empty")
	}
	if p.Quantity < 0 {
		return ErrInvalidPrize.WithDetails(fmt.Sprintf("quantity cannot be negative, got %d", p.Quantity))
	}
	if p.Probability.IsNegative() || p.Probability.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidProbability.WithDetails(fmt.Sprintf("probability %s outside [0, 1]", p.Probability))
	}
	return nil
}

// ValidatePrizeProbabilities checks the admin-time invariant that the
// probabilities of one activity's prizes sum to at most 1
func ValidatePrizeProbabilities(prizes []Prize) error {
	total := decimal.Zero
	for i := range prizes {
		if err := prizes[i].Validate(); err != nil {
			return err
		}
		total = total.Add(prizes[i].Probability)
	}

	if total.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidProbability.WithDetails(fmt.Sprintf("total probability %s exceeds 1.0", total))
	}
	return nil
}

// DrawRecord is one append-only entry per draw attempt, win or lose.
// A nil PrizeID means nothing was won.
type DrawRecord struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	UserID     int64     `json:"userId" gorm:"index:idx_draw_user_activity;not null"`
	ActivityID int64     `json:"activityId" gorm:"index:idx_draw_user_activity;not null"`
	PrizeID    *int64    `json:"prizeId"`
	DrawTime   time.Time `json:"drawTime" gorm:"index;not null"`
}

// Won reports whether the record is a win
func (r *DrawRecord) Won() bool { return r.PrizeID != nil }

// UserActivityInfo summarizes a user's quota usage for one activity
type UserActivityInfo struct {
	UserID         int64 `json:"userId"`
	ActivityID     int64 `json:"activityId"`
	MaxDraws       int   `json:"maxDraws"`
	CurrentDraws   int   `json:"currentDraws"`
	RemainingDraws int   `json:"remainingDraws"`
}

// ActivityInfo is the public view of an activity and its prizes
type ActivityInfo struct {
	Activity
	Prizes []Prize `json:"prizes"`
}
