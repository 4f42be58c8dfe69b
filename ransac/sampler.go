package ransac

import (
	"fmt"
	"math/rand"
)

// Sampler draws minimal samples of correspondence indices
type Sampler interface {
	// Sample fills dst with k distinct indices from [0, n)
	Sample(n, k int, dst []int) error
}

// UniformSampler draws every k-subset with equal probability using a partial
// Fisher-Yates shuffle. It is not safe for concurrent use.
type UniformSampler struct {
	rng  *rand.Rand
	pool []int
}

// NewUniformSampler returns a sampler seeded with seed
func NewUniformSampler(seed int64) *UniformSampler {
	return &UniformSampler{rng: rand.New(rand.NewSource(seed))}
}

func (s *UniformSampler) Sample(n, k int, dst []int) error {
	if k > n || k < 0 {
		return fmt.Errorf("sampling %d of %d correspondences: %w", k, n, ErrEmptyInput)
	}
	if len(dst) < k {
		return fmt.Errorf("sample buffer holds %d, need %d", len(dst), k)
	}
	if len(s.pool) != n {
		s.pool = make([]int, n)
		for i := range s.pool {
			s.pool[i] = i
		}
	}
	for i := 0; i < k; i++ {
		j := i + s.rng.Intn(n-i)
		s.pool[i], s.pool[j] = s.pool[j], s.pool[i]
		dst[i] = s.pool[i]
	}
	return nil
}
