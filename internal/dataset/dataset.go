// Package dataset defines the tokenized-example collaborators the packing
// pipeline consumes: a fetch-by-index dataset contract and the per-example
// length table derived from it.
package dataset

import "fmt"

// IgnoreIndex is the exclusive "exclude from loss" label sentinel. Padded
// positions always carry it.
const IgnoreIndex int32 = -100

// Example is one tokenized training record. Labels and AttentionMask are
// index-aligned with InputIDs; a label of IgnoreIndex excludes that position
// from the loss.
type Example struct {
	InputIDs      []int32
	Labels        []int32
	AttentionMask []int32
}

// Len returns the token length of the example.
func (e *Example) Len() int { return len(e.InputIDs) }

// Dataset is the fetch contract the collator uses. Get must be safe for
// concurrent use; the pipeline treats the dataset as immutable for the
// duration of an epoch.
type Dataset interface {
	Len() int
	Get(i int) (*Example, error)
}

// LengthsProvider is implemented by datasets that can report per-example
// token lengths without materializing examples.
type LengthsProvider interface {
	Lengths() []int
}

// Lengths returns the token length of every example, index-aligned with the
// dataset. Datasets implementing LengthsProvider answer from their index;
// otherwise every example is fetched once, which can be slow for large sets.
func Lengths(ds Dataset) ([]int, error) {
	if lp, ok := ds.(LengthsProvider); ok {
		return lp.Lengths(), nil
	}
	out := make([]int, ds.Len())
	for i := range out {
		ex, err := ds.Get(i)
		if err != nil {
			return nil, fmt.Errorf("dataset: length scan at %d: %w", i, err)
		}
		out[i] = ex.Len()
	}
	return out, nil
}

func validateExample(i int, ex *Example) error {
	if len(ex.Labels) != len(ex.InputIDs) {
		return fmt.Errorf("dataset: example %d: labels length %d != input length %d",
			i, len(ex.Labels), len(ex.InputIDs))
	}
	if len(ex.AttentionMask) != len(ex.InputIDs) {
		return fmt.Errorf("dataset: example %d: attention_mask length %d != input length %d",
			i, len(ex.AttentionMask), len(ex.InputIDs))
	}
	return nil
}

func onesMask(n int) []int32 {
	mask := make([]int32, n)
	for i := range mask {
		mask[i] = 1
	}
	return mask
}
