package luckydraw

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureRandomGenerator(t *testing.T) {
	g := NewSecureRandomGenerator(8)

	seen := map[float64]bool{}
	for iter := 0; iter < 100; iter++ {
		v, err := g.Float64()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
		seen[v] = true
	}
	assert.Greater(t, len(seen), 90)
}

func TestSecureRandomGenerator_Concurrent(t *testing.T) {
	g := NewSecureRandomGenerator()

	var wg sync.WaitGroup
	for iter := 0; iter < 16; iter++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for iter := 0; iter < 200; iter++ {
				v, err := g.Float64()
				assert.NoError(t, err)
				assert.Less(t, v, 1.0)
			}
		}()
	}
	wg.Wait()
}

func TestMathRandomSource_Reproducible(t *testing.T) {
	a, b := NewMathRandomSource(7), NewMathRandomSource(7)
	for iter := 0; iter < 10; iter++ {
		va, _ := a.Float64()
		vb, _ := b.Float64()
		assert.Equal(t, va, vb)
	}
}

func TestFixedRandomSource(t *testing.T) {
	f := NewFixedRandomSource(0.1, 0.2)
	for _, want := range []float64{0.1, 0.2, 0.1} {
		v, err := f.Float64()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	_, err := NewFixedRandomSource().Float64()
	assert.ErrorIs(t, err, ErrInvalidRandomValue)
}
