package luckydraw

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testPrizes() []Prize {
	return []Prize{
		{ID: 1, Name: "A", Quantity: 10, Probability: dec("0.1")},
		{ID: 2, Name: "B", Quantity: 10, Probability: dec("0.2")},
		{ID: 3, Name: "C", Quantity: 10, Probability: dec("0.3")},
	}
}

func TestSelectPrizeWithValue(t *testing.T) {
	ps := NewPrizeSelector(nil)

	tests := []struct {
		name   string
		r      string
		wantID int64 // 0 means no prize
	}{
		{"zero selects first", "0", 1},
		{"inside first", "0.05", 1},
		{"boundary is inclusive", "0.1", 1},
		{"just above boundary", "0.1000001", 2},
		{"second boundary", "0.3", 2},
		{"last prize", "0.6", 3},
		{"unassigned mass", "0.61", 0},
		{"close to one", "0.9999", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ps.SelectPrizeWithValue(testPrizes(), dec(tt.r))
			require.NoError(t, err)
			if tt.wantID == 0 {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.wantID, p.ID)
		})
	}
}

func TestSelectPrizeWithValue_DecimalExactness(t *testing.T) {
	// 0.1 + 0.2 必须精确等于 0.3
	prizes := []Prize{
		{ID: 1, Name: "A", Quantity: 1, Probability: dec("0.1")},
		{ID: 2, Name: "B", Quantity: 1, Probability: dec("0.2")},
	}
	p, err := NewPrizeSelector(nil).SelectPrizeWithValue(prizes, dec("0.3"))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(2), p.ID)
}

func TestSelectPrizeWithValue_NoFallThrough(t *testing.T) {
	prizes := testPrizes()
	prizes[0].Quantity = 0

	p, err := NewPrizeSelector(nil).SelectPrizeWithValue(prizes, dec("0.05"))
	require.NoError(t, err)
	assert.Nil(t, p, "an exhausted candidate must not fall through to the next prize")
}

func TestSelectPrizeWithValue_InvalidValue(t *testing.T) {
	ps := NewPrizeSelector(nil)

	for _, r := range []string{"-0.1", "1", "1.5"} {
		_, err := ps.SelectPrizeWithValue(testPrizes(), dec(r))
		assert.ErrorIs(t, err, ErrInvalidRandomValue, r)
	}
}

func TestSelectPrizeWithValue_ReturnsCopy(t *testing.T) {
	prizes := testPrizes()
	p, err := NewPrizeSelector(nil).SelectPrizeWithValue(prizes, dec("0.05"))
	require.NoError(t, err)
	p.Quantity = 0
	assert.Equal(t, 10, prizes[0].Quantity)
}

func TestSelectPrize(t *testing.T) {
	t.Run("empty list", func(t *testing.T) {
		p, err := NewPrizeSelector(NewFixedRandomSource(0.5)).SelectPrize(nil)
		assert.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("uses source", func(t *testing.T) {
		ps := NewPrizeSelector(NewFixedRandomSource(0.25, 0.5, 0.7))
		var ids []int64
		for iter := 0; iter < 3; iter++ {
			p, err := ps.SelectPrize(testPrizes())
			require.NoError(t, err)
			if p != nil {
				ids = append(ids, p.ID)
			} else {
				ids = append(ids, 0)
			}
		}
		assert.Equal(t, []int64{2, 3, 0}, ids)
	})

	t.Run("source error", func(t *testing.T) {
		_, err := NewPrizeSelector(NewFixedRandomSource()).SelectPrize(testPrizes())
		assert.Error(t, err)
	})

	t.Run("source out of range", func(t *testing.T) {
		_, err := NewPrizeSelector(NewFixedRandomSource(1.0)).SelectPrize(testPrizes())
		assert.ErrorIs(t, err, ErrInvalidRandomValue)
	})
}

func TestSelectPrize_Distribution(t *testing.T) {
	ps := NewPrizeSelector(NewMathRandomSource(42))
	prizes := []Prize{
		{ID: 1, Name: "A", Quantity: 1, Probability: dec("0.2")},
		{ID: 2, Name: "B", Quantity: 1, Probability: dec("0.3")},
	}

	const n = 20000
	counts := map[int64]int{}
	for iter := 0; iter < n; iter++ {
		p, err := ps.SelectPrize(prizes)
		require.NoError(t, err)
		if p == nil {
			counts[0]++
			continue
		}
		counts[p.ID]++
	}

	assert.InDelta(t, 0.2, float64(counts[1])/n, 0.02)
	assert.InDelta(t, 0.3, float64(counts[2])/n, 0.02)
	assert.InDelta(t, 0.5, float64(counts[0])/n, 0.02)
}

func TestCumulativeProbabilities(t *testing.T) {
	sums := CumulativeProbabilities(testPrizes())
	require.Len(t, sums, 3)
	assert.True(t, sums[0].Equal(dec("0.1")))
	assert.True(t, sums[1].Equal(dec("0.3")))
	assert.True(t, sums[2].Equal(dec("0.6")))
}
