package luckydraw

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ValidateDrawCount validates the number of draws requested in one batch
func ValidateDrawCount(count, maxDrawCount int) error {
	if count < 1 || count > maxDrawCount {
		return ErrInvalidRequest.WithDetails(fmt.Sprintf("drawCount must be between 1 and %d, got %d", maxDrawCount, count))
	}
	return nil
}

// ValidateActivityID validates an activity reference
func ValidateActivityID(activityID int64) error {
	if activityID <= 0 {
		return ErrInvalidRequest.WithDetails(fmt.Sprintf("activityId must be positive, got %d", activityID))
	}
	return nil
}

// generateLockValue generates a unique lock value using crypto/rand
func generateLockValue() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based value if crypto/rand fails
		return fmt.Sprintf("lock_%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// prizeLockKey is the lock key guarding one prize's inventory
func prizeLockKey(prizeID int64) string {
	return fmt.Sprintf("prize:%d", prizeID)
}

// batchLockKey is the lock key serializing one user's batches on one activity
func batchLockKey(userID, activityID int64) string {
	return fmt.Sprintf("batch:%d:%d", userID, activityID)
}
