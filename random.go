package luckydraw

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"sync"
)

// DefaultRandomCacheSize is the number of values a SecureRandomGenerator pre-generates
const DefaultRandomCacheSize = 256

// SecureRandomGenerator produces values in [0, 1) from crypto/rand, cached in blocks
type SecureRandomGenerator struct {
	mtx   sync.Mutex
	cache []float64
	index int
}

// NewSecureRandomGenerator creates a generator with an optional cache size
func NewSecureRandomGenerator(cacheSize ...int) *SecureRandomGenerator {
	size := DefaultRandomCacheSize
	if len(cacheSize) > 0 && cacheSize[0] > 0 {
		size = cacheSize[0]
	}

	g := &SecureRandomGenerator{cache: make([]float64, size)}
	g.index = size // 首次调用时填充
	return g
}

// Float64 returns the next secure random value in [0, 1)
func (g *SecureRandomGenerator) Float64() (float64, error) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.index >= len(g.cache) {
		if err := g.refill(); err != nil {
			return 0, err
		}
	}

	v := g.cache[g.index]
	g.index++
	return v, nil
}

func (g *SecureRandomGenerator) refill() error {
	for i := range g.cache {
		v, err := secureFloat()
		if err != nil {
			return ErrInternal.WithOperation("SecureRandomGenerator.refill").WithCause(err)
		}
		g.cache[i] = v
	}
	g.index = 0
	return nil
}

// secureFloat uses 53 random bits, the full float64 mantissa
func secureFloat() (float64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0, err
	}
	return float64(n.Int64()) / float64(1<<53), nil
}

// MathRandomSource is a seeded, reproducible source for simulations and tests
type MathRandomSource struct {
	mtx sync.Mutex
	rng *mrand.Rand
}

// NewMathRandomSource creates a source that yields the same sequence for the same seed
func NewMathRandomSource(seed int64) *MathRandomSource {
	return &MathRandomSource{rng: mrand.New(mrand.NewSource(seed))}
}

// Float64 returns the next pseudo-random value in [0, 1)
func (m *MathRandomSource) Float64() (float64, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.rng.Float64(), nil
}

// FixedRandomSource replays a fixed sequence of values, cycling when exhausted
type FixedRandomSource struct {
	mtx    sync.Mutex
	values []float64
	next   int
}

// NewFixedRandomSource creates a source replaying values in order
func NewFixedRandomSource(values ...float64) *FixedRandomSource {
	return &FixedRandomSource{values: values}
}

// Float64 returns the next configured value
func (f *FixedRandomSource) Float64() (float64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if len(f.values) == 0 {
		return 0, ErrInvalidRandomValue.WithDetails("fixed random source has no values")
	}

	v := f.values[f.next%len(f.values)]
	f.next++
	return v, nil
}
