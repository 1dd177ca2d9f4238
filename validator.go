package luckydraw

import (
	"context"
	"fmt"
)

// DrawLimitValidator enforces the per-user, per-activity draw quota
type DrawLimitValidator struct {
	identity IdentityResolver
	records  DrawRecordStore
	logger   Logger
}

// NewDrawLimitValidator creates a validator
func NewDrawLimitValidator(identity IdentityResolver, records DrawRecordStore, logger Logger) *DrawLimitValidator {
	if logger == nil {
		logger = NewSilentLogger()
	}
	return &DrawLimitValidator{identity: identity, records: records, logger: logger}
}

// Validate fails with ErrDrawLimitExceeded when existing + requested > maxDraws.
// It is checked once per batch; a batch is accepted or rejected as a whole.
func (v *DrawLimitValidator) Validate(ctx context.Context, activityID int64, requested, maxDraws int) error {
	userID, err := v.identity.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	_, err = v.validateUser(ctx, userID, activityID, requested, maxDraws)
	return err
}

// validateUser is Validate for an already resolved user; it returns the existing count
func (v *DrawLimitValidator) validateUser(ctx context.Context, userID, activityID int64, requested, maxDraws int) (int, error) {
	used, err := v.records.CountDrawRecords(ctx, userID, activityID)
	if err != nil {
		return 0, err
	}

	if used+requested > maxDraws {
		v.logger.Info("Draw limit reached: user=%d, activity=%d, used=%d, requested=%d, max=%d",
			userID, activityID, used, requested, maxDraws)
		return used, ErrDrawLimitExceeded.
			WithDetails(fmt.Sprintf("used %d, requested %d, max %d", used, requested, maxDraws)).
			WithMetadata("remaining", max(maxDraws-used, 0))
	}

	return used, nil
}
