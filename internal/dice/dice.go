// Package dice draws uniform die rolls for the player-facing surface.
// The dispatcher never rolls; results always come from here or a test.
package dice

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrInvalidSpec indicates a die specification has non-positive fields.
var ErrInvalidSpec = errors.New("dice must have positive sides and count")

// Spec describes Count dice with Sides faces.
type Spec struct {
	Sides int
	Count int
}

// Roll is the outcome of rolling a Spec.
type Roll struct {
	Sides   int
	Results []int
	Total   int
}

// Roller draws rolls from a seeded source. It is safe for concurrent use.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller creates a roller. A seed of 0 picks a time-based seed.
func NewRoller(seed int64) *Roller {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

// Roll draws every die uniformly over [1, Sides].
func (r *Roller) Roll(spec Spec) (Roll, error) {
	if spec.Sides <= 0 || spec.Count <= 0 {
		return Roll{}, ErrInvalidSpec
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]int, spec.Count)
	total := 0
	for i := range results {
		results[i] = r.rng.Intn(spec.Sides) + 1
		total += results[i]
	}
	return Roll{Sides: spec.Sides, Results: results, Total: total}, nil
}
