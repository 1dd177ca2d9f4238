package luckydraw

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrawLimitValidator(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for iter := 0; iter < 3; iter++ {
		require.NoError(t, store.AppendDrawRecord(ctx, &DrawRecord{UserID: 1, ActivityID: 10, DrawTime: time.Now()}))
	}

	v := NewDrawLimitValidator(StaticIdentityResolver{UserID: 1}, store, nil)

	tests := []struct {
		name      string
		requested int
		max       int
		wantErr   bool
	}{
		{"within quota", 2, 5, false},
		{"exceeds quota", 3, 5, true},
		{"exactly at quota", 1, 4, false},
		{"already at quota", 1, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(ctx, 10, tt.requested, tt.max)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrDrawLimitExceeded)
			de, _ := AsDrawError(err)
			assert.Equal(t, max(tt.max-3, 0), de.Metadata["remaining"])
		})
	}

	t.Run("other users are independent", func(t *testing.T) {
		other := NewDrawLimitValidator(StaticIdentityResolver{UserID: 2}, store, nil)
		assert.NoError(t, other.Validate(ctx, 10, 5, 5))
	})

	t.Run("missing identity", func(t *testing.T) {
		cv := NewDrawLimitValidator(NewContextIdentityResolver(), store, nil)
		assert.ErrorIs(t, cv.Validate(ctx, 10, 1, 5), ErrUnauthorized)
	})
}

func TestValidateDrawCount(t *testing.T) {
	assert.NoError(t, ValidateDrawCount(1, 10))
	assert.NoError(t, ValidateDrawCount(10, 10))
	assert.ErrorIs(t, ValidateDrawCount(0, 10), ErrInvalidRequest)
	assert.ErrorIs(t, ValidateDrawCount(-1, 10), ErrInvalidRequest)
	assert.ErrorIs(t, ValidateDrawCount(11, 10), ErrInvalidRequest)

	assert.NoError(t, ValidateActivityID(1))
	assert.ErrorIs(t, ValidateActivityID(0), ErrInvalidRequest)
}

func TestIdentity(t *testing.T) {
	ctx := WithUserID(context.Background(), 5)
	id, ok := UserIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(5), id)

	id, err := NewContextIdentityResolver().CurrentUserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)

	_, err = NewContextIdentityResolver().CurrentUserID(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}
