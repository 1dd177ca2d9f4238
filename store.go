package luckydraw

import "context"

// ActivityReader supplies activity metadata and prize snapshots
type ActivityReader interface {
	// GetActivity returns ErrActivityNotFound when no such activity exists
	GetActivity(ctx context.Context, activityID int64) (*Activity, error)

	ListActivities(ctx context.Context) ([]Activity, error)

	// ListPrizes returns the activity's prizes in stable id order
	ListPrizes(ctx context.Context, activityID int64) ([]Prize, error)
}

// PrizeInventory is the single owner of prize quantity mutation
type PrizeInventory interface {
	// DecrementPrize takes the prize's exclusive lock, re-reads the quantity
	// and decrements it by one. A quantity ≤ 0 yields ErrPrizeExhausted; a
	// lock wait beyond the configured bound yields ErrSystemBusy.
	DecrementPrize(ctx context.Context, prizeID int64) error

	// RestorePrize gives one unit back, used when the matching record could not be written
	RestorePrize(ctx context.Context, prizeID int64) error
}

// DrawRecordStore is the append-only draw log
type DrawRecordStore interface {
	// AppendDrawRecord stores rec and assigns its ID
	AppendDrawRecord(ctx context.Context, rec *DrawRecord) error

	CountDrawRecords(ctx context.Context, userID, activityID int64) (int, error)

	// ListDrawRecords returns records newest first; userID 0 means all users
	ListDrawRecords(ctx context.Context, userID, activityID int64) ([]DrawRecord, error)
}

// Transactor runs one batch inside the store's transactional boundary
type Transactor interface {
	// WithinBatch commits everything fn wrote when fn returns nil
	WithinBatch(ctx context.Context, fn func(ctx context.Context) error) error
}

// PrizeSeeder writes activities and prizes; used for seeding and admin tooling
type PrizeSeeder interface {
	SaveActivity(ctx context.Context, a *Activity) error

	// SavePrize rejects a prize that would push its activity's probability sum above 1
	SavePrize(ctx context.Context, p *Prize) error
}

// Store is everything the engine needs from persistence
type Store interface {
	ActivityReader
	PrizeInventory
	DrawRecordStore
	Transactor
	PrizeSeeder
}

// mergePrizeForSave replaces or appends p within prizes and validates the sum
func mergePrizeForSave(prizes []Prize, p *Prize) error {
	merged := make([]Prize, 0, len(prizes)+1)
	replaced := false
	for _, existing := range prizes {
		if p.ID != 0 && existing.ID == p.ID {
			merged = append(merged, *p)
			replaced = true
			continue
		}
		merged = append(merged, existing)
	}
	if !replaced {
		merged = append(merged, *p)
	}
	return ValidatePrizeProbabilities(merged)
}
