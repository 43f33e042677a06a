package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/multipack/internal/dataset"
	"github.com/samcharles93/multipack/pkg/mpk"
)

func convertCmd() *cli.Command {
	var outPath string

	flags := append(dataFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "path for the output .mpk archive",
			Required:    true,
			Destination: &outPath,
		},
	)

	return &cli.Command{
		Name:  "convert",
		Usage: "Convert a JSONL dataset into an .mpk token archive",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyPackingConfig(cmd, LoadConfig())
			log := newLog()

			ds, err := dataset.OpenJSONL(dataPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open dataset: %v", err), 1)
			}

			f, err := os.Create(outPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: create archive: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			w, err := mpk.NewWriter(f)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: create archive: %v", err), 1)
			}

			tokens := 0
			for i := range ds.Len() {
				ex, err := ds.Get(i)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: example %d: %v", i, err), 1)
				}
				if err := w.Append(ex.InputIDs, ex.Labels); err != nil {
					return cli.Exit(fmt.Sprintf("error: append %d: %v", i, err), 1)
				}
				tokens += ex.Len()
			}
			if err := w.Finalise(); err != nil {
				return cli.Exit(fmt.Sprintf("error: finalise archive: %v", err), 1)
			}

			log.Info("archive written",
				"path", outPath,
				"examples", w.Count(),
				"tokens", tokens)
			return nil
		},
	}
}
