package routing

import (
	"math/rand/v2"
	"slices"
	"sync"
)

// OrderStrategy orders the fallback candidates that follow the target.
// Implementations must not modify ids.
type OrderStrategy interface {
	Order(ids []string) []string
}

// OrderFunc adapts a function to OrderStrategy
type OrderFunc func(ids []string) []string

// Order implements OrderStrategy
func (f OrderFunc) Order(ids []string) []string {
	return f(slices.Clone(ids))
}

// ShuffleStrategy returns a fresh uniform permutation per call
type ShuffleStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewShuffleStrategy uses src for randomness; a nil src uses the
// runtime-seeded global generator
func NewShuffleStrategy(src rand.Source) *ShuffleStrategy {
	s := &ShuffleStrategy{}
	if src != nil {
		s.rng = rand.New(src)
	}
	return s
}

// Order implements OrderStrategy
func (s *ShuffleStrategy) Order(ids []string) []string {
	out := slices.Clone(ids)
	swap := func(i, j int) { out[i], out[j] = out[j], out[i] }

	if s.rng == nil {
		rand.Shuffle(len(out), swap)
		return out
	}

	// *rand.Rand is not safe for concurrent use
	s.mu.Lock()
	s.rng.Shuffle(len(out), swap)
	s.mu.Unlock()
	return out
}

// RegistrationOrder keeps candidates in registration order
type RegistrationOrder struct{}

// Order implements OrderStrategy
func (RegistrationOrder) Order(ids []string) []string {
	return slices.Clone(ids)
}
