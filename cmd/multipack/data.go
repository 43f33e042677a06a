package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/samcharles93/multipack/internal/dataset"
)

// openDataset resolves a dataset by file extension: .mpk archives are
// memory-mapped, anything else is treated as JSONL. The returned closer is
// nil for JSONL datasets, which are fully resident after the read.
func openDataset(path string) (dataset.Dataset, func() error, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, fmt.Errorf("no dataset given, pass --data or set data_path in %s", configPath())
	}
	if filepath.Ext(path) == ".mpk" {
		ds, err := dataset.OpenArchive(path)
		if err != nil {
			return nil, nil, err
		}
		return ds, ds.Close, nil
	}
	ds, err := dataset.OpenJSONL(path)
	if err != nil {
		return nil, nil, err
	}
	return ds, nil, nil
}
