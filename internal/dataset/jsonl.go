package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
)

// jsonlRecord mirrors the tokenized-example schema produced by dataset
// preprocessing: input_ids required, labels and attention_mask optional.
type jsonlRecord struct {
	InputIDs      []int32 `json:"input_ids"`
	Labels        []int32 `json:"labels"`
	AttentionMask []int32 `json:"attention_mask"`
}

// maxJSONLLine bounds a single tokenized example line (1M tokens easily fit).
const maxJSONLLine = 64 << 20

// JSONLDataset holds tokenized examples decoded from a JSON-lines file.
// Examples are kept in memory; use an MPK archive for datasets that don't fit.
type JSONLDataset struct {
	examples []Example
	lengths  []int
}

// OpenJSONL reads and validates a tokenized JSONL file. Missing labels
// default to a copy of input_ids; a missing attention_mask defaults to all
// ones.
func OpenJSONL(path string) (*JSONLDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadJSONL(f)
}

// ReadJSONL decodes a tokenized JSONL stream.
func ReadJSONL(r io.Reader) (*JSONLDataset, error) {
	ds := &JSONLDataset{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxJSONLLine)

	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("dataset: jsonl line %d: %w", line, err)
		}
		if len(rec.InputIDs) == 0 {
			return nil, fmt.Errorf("dataset: jsonl line %d: missing input_ids", line)
		}
		ex := Example{
			InputIDs:      rec.InputIDs,
			Labels:        rec.Labels,
			AttentionMask: rec.AttentionMask,
		}
		if ex.Labels == nil {
			ex.Labels = append([]int32(nil), ex.InputIDs...)
		}
		if ex.AttentionMask == nil {
			ex.AttentionMask = onesMask(len(ex.InputIDs))
		}
		if err := validateExample(line-1, &ex); err != nil {
			return nil, err
		}
		ds.examples = append(ds.examples, ex)
		ds.lengths = append(ds.lengths, len(ex.InputIDs))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dataset: jsonl scan: %w", err)
	}
	if len(ds.examples) == 0 {
		return nil, fmt.Errorf("dataset: jsonl stream holds no examples")
	}
	return ds, nil
}

// Len returns the number of examples.
func (d *JSONLDataset) Len() int { return len(d.examples) }

// Get returns the i-th example. The returned example shares backing slices
// with the dataset and must be treated as read-only.
func (d *JSONLDataset) Get(i int) (*Example, error) {
	if i < 0 || i >= len(d.examples) {
		return nil, fmt.Errorf("dataset: index %d out of range [0, %d)", i, len(d.examples))
	}
	return &d.examples[i], nil
}

// Lengths implements LengthsProvider.
func (d *JSONLDataset) Lengths() []int { return d.lengths }
