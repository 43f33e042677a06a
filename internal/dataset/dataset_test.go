package dataset

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/samcharles93/multipack/pkg/mpk"
)

func TestReadJSONLDefaults(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"input_ids":[1,2,3],"labels":[-100,2,3],"attention_mask":[1,1,1]}`,
		``,
		`{"input_ids":[7,8]}`,
	}, "\n")

	ds, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read jsonl: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("len = %d, want 2", ds.Len())
	}
	if got := ds.Lengths(); !slices.Equal(got, []int{3, 2}) {
		t.Fatalf("lengths = %v", got)
	}

	ex, err := ds.Get(0)
	if err != nil {
		t.Fatalf("get 0: %v", err)
	}
	if !slices.Equal(ex.Labels, []int32{-100, 2, 3}) {
		t.Fatalf("labels = %v", ex.Labels)
	}

	// Missing labels default to input_ids; missing mask to all ones.
	ex, err = ds.Get(1)
	if err != nil {
		t.Fatalf("get 1: %v", err)
	}
	if !slices.Equal(ex.Labels, []int32{7, 8}) {
		t.Fatalf("default labels = %v", ex.Labels)
	}
	if !slices.Equal(ex.AttentionMask, []int32{1, 1}) {
		t.Fatalf("default mask = %v", ex.AttentionMask)
	}
}

func TestReadJSONLRejectsMismatchedColumns(t *testing.T) {
	t.Parallel()

	_, err := ReadJSONL(strings.NewReader(`{"input_ids":[1,2,3],"labels":[1]}`))
	if err == nil {
		t.Fatal("expected error for mismatched labels length")
	}
}

func TestReadJSONLRejectsEmptyStream(t *testing.T) {
	t.Parallel()

	if _, err := ReadJSONL(strings.NewReader("\n\n")); err == nil {
		t.Fatal("expected error for empty stream")
	}
}

func TestGetOutOfRange(t *testing.T) {
	t.Parallel()

	ds, err := ReadJSONL(strings.NewReader(`{"input_ids":[1]}`))
	if err != nil {
		t.Fatalf("read jsonl: %v", err)
	}
	if _, err := ds.Get(1); err == nil {
		t.Fatal("expected range error")
	}
	if _, err := ds.Get(-1); err == nil {
		t.Fatal("expected range error")
	}
}

func TestLengthsFallbackScansExamples(t *testing.T) {
	t.Parallel()

	ds := &fetchOnlyDataset{examples: []Example{
		{InputIDs: []int32{1, 2}, Labels: []int32{1, 2}, AttentionMask: []int32{1, 1}},
		{InputIDs: []int32{3}, Labels: []int32{3}, AttentionMask: []int32{1}},
	}}
	got, err := Lengths(ds)
	if err != nil {
		t.Fatalf("lengths: %v", err)
	}
	if !slices.Equal(got, []int{2, 1}) {
		t.Fatalf("lengths = %v", got)
	}
}

// fetchOnlyDataset deliberately does not implement LengthsProvider.
type fetchOnlyDataset struct {
	examples []Example
}

func (d *fetchOnlyDataset) Len() int { return len(d.examples) }

func (d *fetchOnlyDataset) Get(i int) (*Example, error) {
	return &d.examples[i], nil
}

func TestArchiveDatasetRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "train.mpk")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := mpk.NewWriter(f)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.Append([]int32{4, 5, 6}, []int32{-100, 5, 6}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append([]int32{9}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ds, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer func() { _ = ds.Close() }()

	if ds.Len() != 2 {
		t.Fatalf("len = %d, want 2", ds.Len())
	}
	if got := ds.Lengths(); !slices.Equal(got, []int{3, 1}) {
		t.Fatalf("lengths = %v", got)
	}
	ex, err := ds.Get(0)
	if err != nil {
		t.Fatalf("get 0: %v", err)
	}
	if !slices.Equal(ex.InputIDs, []int32{4, 5, 6}) {
		t.Fatalf("input_ids = %v", ex.InputIDs)
	}
	if !slices.Equal(ex.Labels, []int32{-100, 5, 6}) {
		t.Fatalf("labels = %v", ex.Labels)
	}
	if !slices.Equal(ex.AttentionMask, []int32{1, 1, 1}) {
		t.Fatalf("mask = %v", ex.AttentionMask)
	}
}
