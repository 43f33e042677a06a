package main

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/multipack/internal/dataset"
	"github.com/samcharles93/multipack/pkg/mpk"
)

func inspectCmd() *cli.Command {
	var showSections bool

	flags := append(dataFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.BoolFlag{
			Name:        "sections",
			Usage:       "list archive sections (.mpk only)",
			Destination: &showSections,
		},
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a dataset's length distribution",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyPackingConfig(cmd, LoadConfig())

			if filepath.Ext(dataPath) == ".mpk" && showSections {
				if err := printSections(dataPath); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			ds, closeDS, err := openDataset(dataPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open dataset: %v", err), 1)
			}
			if closeDS != nil {
				defer closeDS()
			}

			lengths, err := dataset.Lengths(ds)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve lengths: %v", err), 1)
			}
			if len(lengths) == 0 {
				return cli.Exit("error: dataset has no examples", 1)
			}

			sorted := slices.Clone(lengths)
			slices.Sort(sorted)
			total := 0
			for _, n := range sorted {
				total += n
			}

			fmt.Printf("examples: %d\n", len(sorted))
			fmt.Printf("tokens:   %d\n", total)
			fmt.Printf("min/max:  %d / %d\n", sorted[0], sorted[len(sorted)-1])
			fmt.Printf("mean:     %.1f\n", float64(total)/float64(len(sorted)))
			for _, p := range []struct {
				label string
				q     float64
			}{{"p50", 0.50}, {"p90", 0.90}, {"p99", 0.99}} {
				idx := max(int(p.q*float64(len(sorted)))-1, 0)
				fmt.Printf("%s:      %d\n", p.label, sorted[idx])
			}
			return nil
		},
	}
}

func printSections(path string) error {
	f, err := mpk.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := f.Header
	fmt.Printf("format:   MPK v%d.%d\n", h.Major, h.Minor)
	fmt.Printf("size:     %d bytes\n", h.FileSize)
	fmt.Printf("sections: %d\n", h.SectionCount)
	for _, s := range f.Sections {
		fmt.Printf("  type=0x%04x version=%d offset=%d size=%d\n",
			s.Type, s.Version, s.Offset, s.Size)
	}
	fmt.Println()
	return nil
}
