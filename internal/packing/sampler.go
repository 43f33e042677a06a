package packing

import (
	"fmt"
	"math/rand/v2"
)

// EpochPermutation returns the shared, deterministic index permutation for
// one epoch. Every rank and every data-loading worker derives the identical
// permutation from the shared seed and the epoch number, so the pack plan
// needs no cross-worker coordination.
func EpochPermutation(n int, seed int64, epoch int) []int {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(epoch)))
	return rng.Perm(n)
}

// ShardedSampler partitions one shared pack plan across distributed ranks.
//
// All ranks compute the same plan from the same permutation; rank r then
// takes packs r, r+world, r+2*world, ... so the shards are disjoint, cover
// the plan exactly, and every rank runs the same number of steps. Divergent
// step counts would deadlock collectives, so a plan that cannot be split
// evenly is rejected unless DropLast truncates it.
type ShardedSampler struct {
	packer *Packer
	rank   int
	world  int
	seed   int64
}

// NewShardedSampler wraps a packer for one rank of a world.
func NewShardedSampler(p *Packer, rank, world int, seed int64) (*ShardedSampler, error) {
	if world <= 0 {
		return nil, fmt.Errorf("packing: world size must be positive, got %d", world)
	}
	if rank < 0 || rank >= world {
		return nil, fmt.Errorf("packing: rank %d out of range for world size %d", rank, world)
	}
	return &ShardedSampler{packer: p, rank: rank, world: world, seed: seed}, nil
}

// Rank returns the local rank.
func (s *ShardedSampler) Rank() int { return s.rank }

// WorldSize returns the total number of ranks.
func (s *ShardedSampler) WorldSize() int { return s.world }

// Epoch computes the local rank's packs for the given epoch.
//
// With DropLast set the shared plan is truncated to a multiple of the world
// size; otherwise an indivisible plan returns ErrUnevenShard.
func (s *ShardedSampler) Epoch(epoch int) ([]Pack, error) {
	perm := EpochPermutation(s.packer.Len(), s.seed, epoch)
	packs := s.packer.PackAll(perm)

	if rem := len(packs) % s.world; rem != 0 {
		if !s.packer.cfg.DropLast {
			return nil, fmt.Errorf("%w: %d packs across %d ranks",
				ErrUnevenShard, len(packs), s.world)
		}
		packs = packs[:len(packs)-rem]
	}

	local := make([]Pack, 0, len(packs)/s.world)
	for i := s.rank; i < len(packs); i += s.world {
		local = append(local, packs[i])
	}
	return local, nil
}

// EstimateSteps estimates the per-rank step count for one epoch without
// materializing a plan. Like Packer.EstimateTotalPacks, this is an
// approximation controlled by the configured efficiency estimate.
func (s *ShardedSampler) EstimateSteps() int {
	return (s.packer.EstimateTotalPacks() + s.world - 1) / s.world
}
