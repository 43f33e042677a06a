// Package varlen adapts packed-batch boundary metadata into the argument
// triple a variable-length attention kernel consumes, and guards the model
// families this substitution is known to be correct for.
//
// The central invariant: a token in a packed row attends only within its own
// sub-sequence as delimited by cu_seqlens. Packing must be numerically
// indistinguishable from running each sub-sequence independently.
package varlen

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samcharles93/multipack/internal/collate"
)

// ErrUnsupportedModel reports a model-type tag outside the allow-list.
// Falling back to the model's default full attention would silently leak
// information across sub-sequence boundaries in every packed batch, so this
// is fatal at configuration time.
var ErrUnsupportedModel = errors.New("model type not supported for packed attention")

// KernelSpec describes how one supported model family consumes
// variable-length attention metadata.
type KernelSpec struct {
	ModelType string

	// SlidingWindow marks families whose default attention is windowed.
	// The isolation contract is unchanged; the kernel additionally clamps
	// each query's key range to its window.
	SlidingWindow bool
}

// One variant per supported family, fail-fast for everything else. Keyed by
// the model-type tag from the model config.
var kernels = map[string]KernelSpec{
	"llama":      {ModelType: "llama"},
	"mistral":    {ModelType: "mistral", SlidingWindow: true},
	"mixtral":    {ModelType: "mixtral", SlidingWindow: true},
	"qwen2":      {ModelType: "qwen2"},
	"gemma":      {ModelType: "gemma"},
	"gemma2":     {ModelType: "gemma2", SlidingWindow: true},
	"falcon":     {ModelType: "falcon"},
	"phi":        {ModelType: "phi"},
	"starcoder2": {ModelType: "starcoder2", SlidingWindow: true},
}

// Supported returns the allow-listed model-type tags in sorted order.
func Supported() []string {
	out := make([]string, 0, len(kernels))
	for k := range kernels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Adapter installs variable-length attention for one model family.
type Adapter struct {
	spec KernelSpec
}

// NewAdapter resolves the model-type tag against the allow-list. Unknown
// tags fail here, at setup time, never at batch time.
func NewAdapter(modelType string) (*Adapter, error) {
	spec, ok := kernels[modelType]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedModel, modelType, Supported())
	}
	return &Adapter{spec: spec}, nil
}

// Spec returns the resolved kernel spec.
func (a *Adapter) Spec() KernelSpec { return a.spec }

// Args is the triple a variable-length attention kernel requires for one
// packed batch, flattened across rows.
type Args struct {
	// Indices are the positions of non-padding tokens in the flattened
	// rows*seq_len token grid, in row-major order.
	Indices []int32

	// CuSeqlens are sub-sequence boundaries across the flattened batch:
	// prefix sums starting at 0, final value equal to the batch's
	// non-padding token count.
	CuSeqlens []int32

	// MaxSeqLen is the longest sub-sequence in the batch.
	MaxSeqLen int32
}

// Args derives the kernel arguments from a packed batch's boundary metadata.
func (a *Adapter) Args(b *collate.Batch) (*Args, error) {
	out := &Args{CuSeqlens: []int32{0}}
	offset := int32(0)
	for r := range b.Rows() {
		cu := b.CuSeqlens[r]
		if len(cu) == 0 || cu[0] != 0 {
			return nil, fmt.Errorf("varlen: row %d has malformed cu_seqlens %v", r, cu)
		}
		rowLen := cu[len(cu)-1]
		if int(rowLen) > b.SeqLen {
			return nil, fmt.Errorf("varlen: row %d length %d exceeds seq_len %d", r, rowLen, b.SeqLen)
		}
		for j := int32(0); j < rowLen; j++ {
			out.Indices = append(out.Indices, int32(r*b.SeqLen)+j)
		}
		for s := 1; s < len(cu); s++ {
			segLen := cu[s] - cu[s-1]
			if segLen < 0 {
				return nil, fmt.Errorf("varlen: row %d has non-monotone cu_seqlens %v", r, cu)
			}
			out.CuSeqlens = append(out.CuSeqlens, offset+cu[s])
			out.MaxSeqLen = max(out.MaxSeqLen, segLen)
		}
		offset += rowLen
	}
	if int(offset) != b.NumTokens {
		return nil, fmt.Errorf("varlen: boundary metadata covers %d tokens, batch has %d", offset, b.NumTokens)
	}
	return out, nil
}
