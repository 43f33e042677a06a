package dataset

import (
	"github.com/samcharles93/multipack/pkg/mpk"
)

// ArchiveDataset serves examples from an MPK token archive. Lengths come
// from the archive index without touching the token payload, so building the
// epoch length table is O(n) over the mmap'd index.
type ArchiveDataset struct {
	file *mpk.File
}

// OpenArchive opens an MPK archive as a dataset. Close releases the mapping.
func OpenArchive(path string) (*ArchiveDataset, error) {
	f, err := mpk.Open(path)
	if err != nil {
		return nil, err
	}
	return &ArchiveDataset{file: f}, nil
}

// NewArchiveDataset wraps an already-open archive. The dataset takes
// ownership; Close closes the archive.
func NewArchiveDataset(f *mpk.File) *ArchiveDataset {
	return &ArchiveDataset{file: f}
}

func (d *ArchiveDataset) Close() error { return d.file.Close() }

// Len returns the number of examples.
func (d *ArchiveDataset) Len() int { return d.file.Count() }

// Get decodes the i-th example. Archives store dense sequences, so the
// attention mask is synthesized as all ones.
func (d *ArchiveDataset) Get(i int) (*Example, error) {
	in, lab, err := d.file.Example(i)
	if err != nil {
		return nil, err
	}
	return &Example{
		InputIDs:      in,
		Labels:        lab,
		AttentionMask: onesMask(len(in)),
	}, nil
}

// Lengths implements LengthsProvider from the archive index.
func (d *ArchiveDataset) Lengths() []int { return d.file.Lengths() }
