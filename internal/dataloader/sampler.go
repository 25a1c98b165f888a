package dataloader

import (
	"math/rand/v2"
)

// Sampler yields the dataset indices visited in one epoch.
type Sampler interface {
	Indices() []int
	// Len is the number of indices per epoch.
	Len() int
	SetEpoch(epoch int)
}

type sequentialSampler struct {
	n int
}

func (s *sequentialSampler) Indices() []int {
	out := make([]int, s.n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (s *sequentialSampler) Len() int      { return s.n }
func (s *sequentialSampler) SetEpoch(int) {}

// permutation returns a shuffled 0..n-1 that depends only on seed and epoch.
func permutation(n int, seed uint64, epoch int) []int {
	r := rand.New(rand.NewPCG(seed, uint64(epoch)))
	return r.Perm(n)
}

type randomSampler struct {
	n     int
	seed  uint64
	epoch int
}

func (s *randomSampler) Indices() []int    { return permutation(s.n, s.seed, s.epoch) }
func (s *randomSampler) Len() int          { return s.n }
func (s *randomSampler) SetEpoch(epoch int) { s.epoch = epoch }

// distributedSampler gives each rank an equal-length, disjoint shard. The
// index list is padded by wrapping around so it divides evenly. Every rank
// draws the same permutation, so the seed must not depend on the rank.
type distributedSampler struct {
	n         int
	rank      int
	worldSize int
	shuffle   bool
	seed      uint64
	epoch     int
}

func (s *distributedSampler) numSamples() int {
	return (s.n + s.worldSize - 1) / s.worldSize
}

func (s *distributedSampler) Indices() []int {
	var all []int
	if s.shuffle {
		all = permutation(s.n, s.seed, s.epoch)
	} else {
		all = (&sequentialSampler{n: s.n}).Indices()
	}
	if len(all) == 0 {
		return nil
	}
	total := s.numSamples() * s.worldSize
	out := make([]int, 0, s.numSamples())
	for i := s.rank; i < total; i += s.worldSize {
		out = append(out, all[i%len(all)])
	}
	return out
}

func (s *distributedSampler) Len() int          { return s.numSamples() }
func (s *distributedSampler) SetEpoch(epoch int) { s.epoch = epoch }
