// Package pipeline wires the dataset, packer, sharded sampler and collator
// into an epoch-oriented batch loader for one rank.
package pipeline

import (
	"fmt"
	"io"

	"github.com/samcharles93/multipack/internal/collate"
	"github.com/samcharles93/multipack/internal/dataset"
	"github.com/samcharles93/multipack/internal/logger"
	"github.com/samcharles93/multipack/internal/packing"
)

// Config assembles the per-rank loader parameters.
type Config struct {
	Packing packing.Config
	Collate collate.Config

	// Rank and WorldSize place this loader in the distributed run.
	// WorldSize 0 means a single-process run (world of one).
	Rank      int
	WorldSize int

	// Seed feeds the shared epoch permutation.
	Seed int64

	// PacksPerBatch is the number of Packs collated into one batch (one
	// batch row per Pack). Defaults to 1.
	PacksPerBatch int

	// Prefetch is the number of collation workers materializing batches
	// ahead of Next. 0 or 1 collates synchronously.
	Prefetch int
}

// Loader walks one rank's packed batches for an epoch. Next returns io.EOF
// when the epoch is exhausted; Reset moves to another epoch and reshuffles.
// A Loader is not safe for concurrent use; its prefetch workers are internal.
type Loader struct {
	packer   *packing.Packer
	sampler  *packing.ShardedSampler
	collator *collate.Collator
	log      logger.Logger
	cfg      Config

	epoch int
	packs []packing.Pack
	next  int

	results chan chan batchResult
	stop    chan struct{}
}

type batchResult struct {
	batch *collate.Batch
	err   error
}

// New builds a loader over the dataset. Lengths are resolved once, up front,
// so packing never touches token payloads.
func New(ds dataset.Dataset, cfg Config, log logger.Logger) (*Loader, error) {
	if log == nil {
		log = logger.Default()
	}
	if cfg.WorldSize == 0 {
		cfg.WorldSize = 1
	}
	if cfg.PacksPerBatch <= 0 {
		cfg.PacksPerBatch = 1
	}

	lengths, err := dataset.Lengths(ds)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve lengths: %w", err)
	}
	packer, err := packing.NewPacker(lengths, cfg.Packing)
	if err != nil {
		return nil, err
	}
	sampler, err := packing.NewShardedSampler(packer, cfg.Rank, cfg.WorldSize, cfg.Seed)
	if err != nil {
		return nil, err
	}
	collator, err := collate.New(ds, cfg.Collate)
	if err != nil {
		return nil, err
	}

	l := &Loader{
		packer:   packer,
		sampler:  sampler,
		collator: collator,
		log:      log.With("rank", cfg.Rank, "world", cfg.WorldSize),
		cfg:      cfg,
	}
	if err := l.Reset(0); err != nil {
		return nil, err
	}
	return l, nil
}

// Packer exposes the underlying packer for plan inspection.
func (l *Loader) Packer() *packing.Packer { return l.packer }

// Reset recomputes the local pack plan for the given epoch and restarts
// iteration. Every rank calling Reset with the same epoch derives its shard
// of the same shared plan.
func (l *Loader) Reset(epoch int) error {
	l.drain()

	packs, err := l.sampler.Epoch(epoch)
	if err != nil {
		return err
	}
	l.epoch = epoch
	l.packs = packs
	l.next = 0

	l.log.Debug("epoch plan ready",
		"epoch", epoch,
		"local_packs", len(packs),
		"efficiency", l.packer.Efficiency(packs))

	if l.cfg.Prefetch > 1 {
		l.startPrefetch()
	}
	return nil
}

// Epoch returns the epoch the loader is currently iterating.
func (l *Loader) Epoch() int { return l.epoch }

// Steps returns the exact number of batches remaining plus consumed in the
// current epoch.
func (l *Loader) Steps() int {
	n := len(l.packs)
	per := l.cfg.PacksPerBatch
	return (n + per - 1) / per
}

// EstimateSteps predicts the per-rank step count for an epoch without
// materializing a plan, from the configured efficiency estimate.
func (l *Loader) EstimateSteps() int {
	per := l.cfg.PacksPerBatch
	return (l.sampler.EstimateSteps() + per - 1) / per
}

// Next returns the next packed batch, or io.EOF once the epoch is exhausted.
func (l *Loader) Next() (*collate.Batch, error) {
	if l.results != nil {
		slot, ok := <-l.results
		if !ok {
			return nil, io.EOF
		}
		res := <-slot
		return res.batch, res.err
	}

	if l.next >= len(l.packs) {
		return nil, io.EOF
	}
	end := min(l.next+l.cfg.PacksPerBatch, len(l.packs))
	batch, err := l.collator.Collate(l.packs[l.next:end]...)
	l.next = end
	return batch, err
}

// startPrefetch launches the collation workers. Each step owns a result
// slot; slots are handed to the consumer in step order, so batches arrive
// in plan order no matter which worker finishes first.
func (l *Loader) startPrefetch() {
	workers := l.cfg.Prefetch
	steps := l.Steps()

	type job struct {
		packs []packing.Pack
		slot  chan batchResult
	}
	jobs := make(chan job, workers)
	l.results = make(chan chan batchResult, workers)
	l.stop = make(chan struct{})

	for range workers {
		go func() {
			for j := range jobs {
				batch, err := l.collator.Collate(j.packs...)
				j.slot <- batchResult{batch: batch, err: err}
			}
		}()
	}

	stop := l.stop
	results := l.results
	go func() {
		defer close(jobs)
		defer close(results)
		for s := range steps {
			lo := s * l.cfg.PacksPerBatch
			hi := min(lo+l.cfg.PacksPerBatch, len(l.packs))
			// The job goes out before its slot: every slot the consumer
			// sees is guaranteed a result, even across a mid-epoch reset.
			slot := make(chan batchResult, 1)
			select {
			case jobs <- job{packs: l.packs[lo:hi], slot: slot}:
			case <-stop:
				return
			}
			select {
			case results <- slot:
			case <-stop:
				return
			}
		}
	}()
}

// drain tears down any running prefetch workers before a reset.
func (l *Loader) drain() {
	if l.results == nil {
		return
	}
	close(l.stop)
	for slot := range l.results {
		<-slot
	}
	l.results = nil
	l.stop = nil
}
