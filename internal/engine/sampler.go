package engine

import (
	"math/rand/v2"
	"sync"
)

// ReplyOdds is the denominator of the unprompted-reply gate: for messages
// that are not direct replies to the bot, generation is attempted with
// probability 1/ReplyOdds.
const ReplyOdds = 5

// Sampler decides whether an unprompted message gets a chance at a reply.
// Randomness is injected through this interface so tests stay deterministic.
type Sampler interface {
	// Sample draws one independent Bernoulli trial. True means attempt
	// generation.
	Sample() bool
}

// RandomSampler draws with probability 1/odds using a seeded PRNG.
type RandomSampler struct {
	mu   sync.Mutex
	rng  *rand.Rand
	odds int
}

// NewRandomSampler creates a sampler with probability 1/odds. A non-positive
// odds means every draw succeeds.
func NewRandomSampler(odds int, seed uint64) *RandomSampler {
	return &RandomSampler{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		odds: odds,
	}
}

func (s *RandomSampler) Sample() bool {
	if s.odds <= 1 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(s.odds) == 0
}

// FixedSampler always returns its configured value. Test helper and the
// implementation behind "always reply" configurations.
type FixedSampler bool

func (s FixedSampler) Sample() bool { return bool(s) }

var (
	_ Sampler = (*RandomSampler)(nil)
	_ Sampler = FixedSampler(false)
)
