package toy

import (
	"strconv"
	"strings"
	"testing"

	"github.com/samcharles93/multipack/internal/collate"
	"github.com/samcharles93/multipack/internal/dataset"
	"github.com/samcharles93/multipack/internal/packing"
	"github.com/samcharles93/multipack/internal/varlen"
)

const (
	testVocab  = 32
	testHidden = 16
	testMaxPos = 64
)

func jsonlFor(t *testing.T, sequences [][]int32) dataset.Dataset {
	t.Helper()
	var lines []string
	for _, seq := range sequences {
		parts := make([]string, len(seq))
		for i, id := range seq {
			parts[i] = strconv.Itoa(int(id))
		}
		lines = append(lines, `{"input_ids":[`+strings.Join(parts, ",")+`]}`)
	}
	ds, err := dataset.ReadJSONL(strings.NewReader(strings.Join(lines, "\n")))
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	return ds
}

// TestPackedForwardMatchesSeparate is the pipeline's end-to-end contract:
// running several sub-sequences packed into one batch produces, token for
// token, the same logits as running each sub-sequence alone.
func TestPackedForwardMatchesSeparate(t *testing.T) {
	t.Parallel()

	sequences := [][]int32{
		{3, 7, 1, 12},
		{5, 5, 9},
		{21, 0, 14, 8, 2},
		{30},
		{11, 6},
	}
	ds := jsonlFor(t, sequences)

	c, err := collate.New(ds, collate.Config{})
	if err != nil {
		t.Fatalf("collator: %v", err)
	}
	// Two rows: examples 0..2 concatenated (12 tokens), 3..4 padded up.
	b, err := c.Collate(packing.Pack{0, 1, 2}, packing.Pack{3, 4})
	if err != nil {
		t.Fatalf("collate: %v", err)
	}

	adapter, err := varlen.NewAdapter("llama")
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	args, err := adapter.Args(b)
	if err != nil {
		t.Fatalf("args: %v", err)
	}

	m := NewLM(testVocab, testHidden, testMaxPos, 42)
	packed, err := m.ForwardBatch(b, args)
	if err != nil {
		t.Fatalf("packed forward: %v", err)
	}

	// Walk the flattened output sub-sequence by sub-sequence, in the
	// collator's concatenation order.
	off := 0
	for exIdx, seq := range sequences {
		alone, err := m.ForwardSequence(seq)
		if err != nil {
			t.Fatalf("separate forward %d: %v", exIdx, err)
		}
		for i := range seq {
			comparePackedRow(t, exIdx, i, packed[off+i], alone[i])
		}
		off += len(seq)
	}
	if off != len(packed) {
		t.Fatalf("consumed %d tokens, packed output has %d", off, len(packed))
	}
}

// TestLeakyBoundaryIsDetectable is the negative control: collapsing two
// sub-sequences into one attention segment changes the second one's logits,
// so the equivalence above is not vacuous.
func TestLeakyBoundaryIsDetectable(t *testing.T) {
	t.Parallel()

	m := NewLM(testVocab, testHidden, testMaxPos, 42)

	a := []int32{3, 7, 1, 12}
	b := []int32{5, 5, 9}

	alone, err := m.ForwardSequence(b)
	if err != nil {
		t.Fatalf("separate forward: %v", err)
	}

	// Same tokens, positions restarting at the boundary, but a single
	// attention segment spanning both.
	ids := append(append([]int32{}, a...), b...)
	positions := make([]int32, len(ids))
	for i := range a {
		positions[i] = int32(i)
	}
	for i := range b {
		positions[len(a)+i] = int32(i)
	}
	leaky, err := m.forward(ids, positions, []int32{0, int32(len(ids))})
	if err != nil {
		t.Fatalf("leaky forward: %v", err)
	}

	same := true
	for i := range b {
		for d := range alone[i] {
			if leaky[len(a)+i][d] != alone[i][d] {
				same = false
			}
		}
	}
	if same {
		t.Fatal("cross-boundary attention did not change the output")
	}
}

func TestForwardRejectsOutOfRangeToken(t *testing.T) {
	t.Parallel()

	m := NewLM(testVocab, testHidden, testMaxPos, 1)
	if _, err := m.ForwardSequence([]int32{int32(testVocab)}); err == nil {
		t.Fatal("expected error for out-of-vocab token")
	}
}

func TestForwardRejectsOverlongSequence(t *testing.T) {
	t.Parallel()

	m := NewLM(testVocab, testHidden, 4, 1)
	ids := []int32{1, 2, 3, 4, 5}
	if _, err := m.ForwardSequence(ids); err == nil {
		t.Fatal("expected error for position past the model limit")
	}
}

func comparePackedRow(t *testing.T, ex, tok int, got, want []float32) {
	t.Helper()
	const tol = 1e-5
	if len(got) != len(want) {
		t.Fatalf("example %d token %d: logit count %d != %d", ex, tok, len(got), len(want))
	}
	for d := range got {
		diff := got[d] - want[d]
		if diff < -tol || diff > tol {
			t.Fatalf("example %d token %d dim %d: packed %v, separate %v",
				ex, tok, d, got[d], want[d])
		}
	}
}
