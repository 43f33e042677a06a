// Package packing schedules variable-length tokenized examples into
// fixed-budget training rows.
//
// The packer consumes an already-shuffled index stream and groups indices
// into Packs whose summed token lengths stay within a per-row budget. Bins
// are an intermediate, quality-improving grouping only; the Pack is the unit
// a training step consumes. The sharded sampler partitions one shared pack
// plan across distributed ranks so that every rank sees the same number of
// steps per epoch.
package packing

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"
)

// Pack is an ordered group of dataset indices scheduled into one training row.
type Pack []int

// Config holds the packing parameters. All values are plain data; there is
// no hidden global state.
type Config struct {
	// BatchMaxLen is the per-row token budget. Required.
	BatchMaxLen int

	// BatchSize caps the number of examples per Pack. 0 means uncapped.
	BatchSize int

	// GroupSize is the number of stream indices packed together in one
	// chunk. Larger groups approach optimal packing at the cost of holding
	// GroupSize lengths in memory at once.
	GroupSize int

	// BinSize is the capacity of the intermediate bins used to reorder a
	// group before packs are cut.
	BinSize int

	// Efficiency is the packing efficiency estimate used for step-count
	// estimation (valid tokens / row capacity). Defaults to 1.0.
	Efficiency float64

	// DropLast discards the trailing partial Pack at end of stream, and at
	// shard time truncates the plan to a multiple of the world size.
	DropLast bool
}

func (c *Config) validate() error {
	if c.BatchMaxLen <= 0 {
		return fmt.Errorf("packing: batch_max_len must be positive, got %d", c.BatchMaxLen)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("packing: batch_size must be >= 0, got %d", c.BatchSize)
	}
	if c.GroupSize <= 0 {
		return fmt.Errorf("packing: group_size must be positive, got %d", c.GroupSize)
	}
	if c.BinSize <= 0 {
		return fmt.Errorf("packing: bin_size must be positive, got %d", c.BinSize)
	}
	if c.Efficiency < 0 || c.Efficiency > 1 {
		return fmt.Errorf("packing: efficiency estimate must be in (0, 1], got %v", c.Efficiency)
	}
	return nil
}

// Packer turns a shuffled index stream into a sequence of Packs.
// It is pure and stateless per epoch; several data-loading workers may each
// hold their own Packer over the same immutable length table.
type Packer struct {
	cfg         Config
	lengths     []int
	totalTokens int
}

// NewPacker validates the configuration and the length table. An example
// whose length alone exceeds the row budget is rejected here, eagerly, so
// the error surfaces at construction rather than mid-epoch.
func NewPacker(lengths []int, cfg Config) (*Packer, error) {
	if cfg.Efficiency == 0 {
		cfg.Efficiency = 1.0
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	total := 0
	for i, n := range lengths {
		if n < 0 {
			return nil, fmt.Errorf("packing: negative length %d at index %d", n, i)
		}
		if n > cfg.BatchMaxLen {
			return nil, fmt.Errorf("%w: index %d has length %d, budget %d",
				ErrLengthExceedsBudget, i, n, cfg.BatchMaxLen)
		}
		total += n
	}
	return &Packer{cfg: cfg, lengths: lengths, totalTokens: total}, nil
}

// Len returns the number of examples in the length table.
func (p *Packer) Len() int { return len(p.lengths) }

// TotalTokens returns the summed length of every example.
func (p *Packer) TotalTokens() int { return p.totalTokens }

// Packs lazily yields the pack sequence for the given index stream.
// Indices are processed in chunks of GroupSize; within a chunk, a
// longest-first first-fit pass over bins of BinSize capacity reorders the
// indices before packs are cut greedily under the row budget.
//
// With DropLast set, a trailing Pack that was still open when the stream
// ended is discarded.
func (p *Packer) Packs(indices []int) iter.Seq[Pack] {
	return func(yield func(Pack) bool) {
		for start := 0; start < len(indices); start += p.cfg.GroupSize {
			end := min(start+p.cfg.GroupSize, len(indices))
			packs, open := p.packGroup(indices[start:end])
			if open && p.cfg.DropLast && end == len(indices) && len(packs) > 0 {
				packs = packs[:len(packs)-1]
			}
			for _, pk := range packs {
				if !yield(pk) {
					return
				}
			}
		}
	}
}

// PackAll materializes the full pack plan for the given index stream.
func (p *Packer) PackAll(indices []int) []Pack {
	return slices.Collect(p.Packs(indices))
}

// packGroup packs one chunk of the stream. The returned open flag reports
// whether the last pack was still under budget when the chunk ended (as
// opposed to being closed by the budget or the member cap).
func (p *Packer) packGroup(group []int) (packs []Pack, open bool) {
	if len(group) == 0 {
		return nil, false
	}

	// Longest-first decreasing order minimizes wasted bin capacity compared
	// to arrival order. The sort must be stable so equal lengths keep their
	// stream order and the plan stays deterministic across ranks.
	order := make([]int, len(group))
	copy(order, group)
	sort.SliceStable(order, func(a, b int) bool {
		return p.lengths[order[a]] > p.lengths[order[b]]
	})

	// First-fit into open bins.
	type bin struct {
		members []int
		filled  int
	}
	var bins []bin
	for _, idx := range order {
		n := p.lengths[idx]
		placed := false
		for b := range bins {
			if bins[b].filled+n <= p.cfg.BinSize {
				bins[b].members = append(bins[b].members, idx)
				bins[b].filled += n
				placed = true
				break
			}
		}
		if !placed {
			bins = append(bins, bin{members: []int{idx}, filled: n})
		}
	}

	// Flatten bins back into one queue, then cut packs greedily.
	var cur Pack
	curLen := 0
	for _, b := range bins {
		for _, idx := range b.members {
			n := p.lengths[idx]
			overBudget := curLen+n > p.cfg.BatchMaxLen
			overCount := p.cfg.BatchSize > 0 && len(cur) >= p.cfg.BatchSize
			if overBudget || overCount {
				packs = append(packs, cur)
				cur = nil
				curLen = 0
			}
			cur = append(cur, idx)
			curLen += n
		}
	}
	if len(cur) > 0 {
		packs = append(packs, cur)
		// A trailing pack is partial only if it still had room for more
		// members when the stream ended.
		underBudget := curLen < p.cfg.BatchMaxLen
		underCap := p.cfg.BatchSize == 0 || len(cur) < p.cfg.BatchSize
		open = underBudget && underCap
	}
	return packs, open
}

// PackTokens returns the summed length of the pack's members.
func (p *Packer) PackTokens(pk Pack) int {
	n := 0
	for _, idx := range pk {
		n += p.lengths[idx]
	}
	return n
}

// Efficiency reports the realized packing efficiency of a plan: the ratio of
// real tokens to total row capacity.
func (p *Packer) Efficiency(packs []Pack) float64 {
	if len(packs) == 0 {
		return 0
	}
	tokens := 0
	for _, pk := range packs {
		tokens += p.PackTokens(pk)
	}
	return float64(tokens) / float64(len(packs)*p.cfg.BatchMaxLen)
}

// EstimateTotalPacks estimates the epoch pack count without materializing a
// plan: ceil(total_tokens / (batch_max_len * efficiency_estimate)).
//
// This is an explicit approximation driven by the configured efficiency
// estimate, not an exact count; callers doing step accounting must treat it
// as such.
func (p *Packer) EstimateTotalPacks() int {
	if p.totalTokens == 0 {
		return 0
	}
	denom := float64(p.cfg.BatchMaxLen) * p.cfg.Efficiency
	return int(math.Ceil(float64(p.totalTokens) / denom))
}
