// Package sampler provides the per-epoch shuffled row order used in training.
package sampler

import (
	"errors"
	"fmt"
	"math/rand"

	"tinman/internal/model"
)

var ErrInvalidLength = fmt.Errorf("%w: sampler length must be >= 1", model.ErrConfiguration)

// Sampler yields a shuffled traversal of [0, n). The backing path only grows;
// shrinking moves the logical bound and leaves stale indices past it.
type Sampler struct {
	rng      *rand.Rand
	path     []int
	cursor   int
	maxIndex int
}

// New returns an empty sampler. Call Resize before consuming it.
func New(rng *rand.Rand) (*Sampler, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	return &Sampler{rng: rng, maxIndex: -1}, nil
}

// Resize sets the logical length to n and restores the identity order over
// [0, n).
func (s *Sampler) Resize(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	for len(s.path) < n {
		s.path = append(s.path, len(s.path))
	}
	s.maxIndex = n - 1
	for i := 0; i <= s.maxIndex; i++ {
		s.path[i] = i
	}
	s.cursor = 0
	return nil
}

// Len is the logical length.
func (s *Sampler) Len() int {
	return s.maxIndex + 1
}

// Cap is the size of the backing path.
func (s *Sampler) Cap() int {
	return len(s.path)
}

// Reset shuffles the logical range in place and rewinds the cursor.
func (s *Sampler) Reset() {
	for i := s.maxIndex; i > 0; i-- {
		j := s.rng.Intn(i + 1)
		s.path[i], s.path[j] = s.path[j], s.path[i]
	}
	s.cursor = 0
}

func (s *Sampler) HasNext() bool {
	return s.cursor <= s.maxIndex
}

// Next returns the next index. It must only be called while HasNext is true.
func (s *Sampler) Next() int {
	idx := s.path[s.cursor]
	s.cursor++
	return idx
}
