// Package collate materializes scheduled Packs into packed training batches:
// concatenated token rows with per-sub-sequence position ids and cu_seqlens
// boundary metadata.
package collate

import (
	"fmt"

	"github.com/samcharles93/multipack/internal/dataset"
	"github.com/samcharles93/multipack/internal/packing"
)

// PadPolicy selects how rows of a multi-row batch are brought to a common
// length.
type PadPolicy string

const (
	// PadLongest pads to the longest row actually produced by the call.
	PadLongest PadPolicy = "longest"

	// PadFixed pads every batch to one configured row length. Required for
	// statically compiled execution graphs, where every batch in a run must
	// share a single shape regardless of content.
	PadFixed PadPolicy = "fixed"
)

// Config holds collation parameters.
type Config struct {
	Padding    PadPolicy // defaults to PadLongest
	FixedLen   int       // row length under PadFixed
	PadTokenID int32     // token id written into padded positions
}

// Batch is the materialized tensor form of one or more Packs, one Pack per
// row. CuSeqlens[r] holds the prefix sums of row r's sub-sequence lengths,
// starting at 0; its final value is the row's non-padding length. Padded
// positions carry PadTokenID / IgnoreIndex / mask 0 and never contribute to
// the loss.
type Batch struct {
	InputIDs      [][]int32
	Labels        [][]int32
	AttentionMask [][]int32
	PositionIDs   [][]int32
	CuSeqlens     [][]int32

	// SeqLen is the common padded row length.
	SeqLen int

	// NumTokens counts non-padding tokens across all rows.
	NumTokens int
}

// Rows returns the number of rows in the batch.
func (b *Batch) Rows() int { return len(b.InputIDs) }

// RowLen returns row r's non-padding length.
func (b *Batch) RowLen(r int) int {
	cu := b.CuSeqlens[r]
	return int(cu[len(cu)-1])
}

// Collator materializes Packs against a dataset. Collators on disjoint
// Packs may run concurrently; the dataset is read-only for the epoch.
type Collator struct {
	ds  dataset.Dataset
	cfg Config
}

// New validates the padding configuration and returns a collator.
func New(ds dataset.Dataset, cfg Config) (*Collator, error) {
	if cfg.Padding == "" {
		cfg.Padding = PadLongest
	}
	switch cfg.Padding {
	case PadLongest:
	case PadFixed:
		if cfg.FixedLen <= 0 {
			return nil, fmt.Errorf("collate: fixed padding needs a positive FixedLen, got %d", cfg.FixedLen)
		}
	default:
		return nil, fmt.Errorf("collate: unknown padding policy %q", cfg.Padding)
	}
	return &Collator{ds: ds, cfg: cfg}, nil
}

type row struct {
	inputIDs []int32
	labels   []int32
	mask     []int32
	posIDs   []int32
	cu       []int32
}

// Collate materializes the given Packs into one Batch, one Pack per row.
// Fields are concatenated in Pack order; position ids restart at 0 at each
// sub-sequence start.
func (c *Collator) Collate(packs ...packing.Pack) (*Batch, error) {
	if len(packs) == 0 {
		return nil, fmt.Errorf("collate: no packs")
	}

	rows := make([]row, len(packs))
	longest := 0
	for r, pk := range packs {
		if len(pk) == 0 {
			return nil, fmt.Errorf("collate: pack %d is empty", r)
		}
		built, err := c.buildRow(pk)
		if err != nil {
			return nil, err
		}
		rows[r] = built
		longest = max(longest, len(built.inputIDs))
	}

	target := longest
	if c.cfg.Padding == PadFixed {
		target = c.cfg.FixedLen
		if longest > target {
			return nil, fmt.Errorf("collate: row length %d exceeds fixed target %d", longest, target)
		}
	}

	b := &Batch{
		InputIDs:      make([][]int32, len(rows)),
		Labels:        make([][]int32, len(rows)),
		AttentionMask: make([][]int32, len(rows)),
		PositionIDs:   make([][]int32, len(rows)),
		CuSeqlens:     make([][]int32, len(rows)),
		SeqLen:        target,
	}
	for r, built := range rows {
		b.NumTokens += len(built.inputIDs)
		b.InputIDs[r] = padTo(built.inputIDs, target, c.cfg.PadTokenID)
		b.Labels[r] = padTo(built.labels, target, dataset.IgnoreIndex)
		b.AttentionMask[r] = padTo(built.mask, target, 0)
		b.PositionIDs[r] = padTo(built.posIDs, target, 0)
		b.CuSeqlens[r] = built.cu
	}
	return b, nil
}

func (c *Collator) buildRow(pk packing.Pack) (row, error) {
	var built row
	built.cu = append(built.cu, 0)
	for _, idx := range pk {
		ex, err := c.ds.Get(idx)
		if err != nil {
			return row{}, fmt.Errorf("collate: fetch %d: %w", idx, err)
		}
		n := ex.Len()
		built.inputIDs = append(built.inputIDs, ex.InputIDs...)
		built.labels = append(built.labels, ex.Labels...)
		built.mask = append(built.mask, ex.AttentionMask...)
		for p := range n {
			built.posIDs = append(built.posIDs, int32(p))
		}
		built.cu = append(built.cu, built.cu[len(built.cu)-1]+int32(n))
	}
	return built, nil
}

func padTo(s []int32, n int, fill int32) []int32 {
	if len(s) >= n {
		return s
	}
	out := make([]int32, n)
	copy(out, s)
	for i := len(s); i < n; i++ {
		out[i] = fill
	}
	return out
}
