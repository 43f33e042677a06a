package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/multipack/internal/dataset"
	"github.com/samcharles93/multipack/internal/packing"
)

func planCmd() *cli.Command {
	var (
		world  int64
		epochs int64
	)

	flags := append(dataFlags(), packingFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "world",
			Aliases:     []string{"w"},
			Usage:       "number of distributed ranks",
			Value:       1,
			Destination: &world,
		},
		&cli.Int64Flag{
			Name:        "epochs",
			Usage:       "number of epochs to plan",
			Value:       1,
			Destination: &epochs,
		},
	)

	return &cli.Command{
		Name:  "plan",
		Usage: "Dry-run the pack plan for a dataset",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyPackingConfig(cmd, LoadConfig())
			log := newLog()

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
			packer, err := packing.NewPacker(lengths, packingConfig())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			runID := uuid.NewString()
			log.Info("planning",
				"run_id", runID,
				"examples", packer.Len(),
				"total_tokens", packer.TotalTokens(),
				"world", world)

			fmt.Printf("run:       %s\n", runID)
			fmt.Printf("examples:  %d\n", packer.Len())
			fmt.Printf("tokens:    %d\n", packer.TotalTokens())
			fmt.Printf("estimated: %d packs/epoch\n", packer.EstimateTotalPacks())

			for epoch := range int(epochs) {
				perm := packing.EpochPermutation(packer.Len(), seed, epoch)
				plan := packer.PackAll(perm)
				fmt.Printf("\nepoch %d: %d packs, efficiency %.4f\n",
					epoch, len(plan), packer.Efficiency(plan))

				for rank := range int(world) {
					sampler, err := packing.NewShardedSampler(packer, rank, int(world), seed)
					if err != nil {
						return cli.Exit(fmt.Sprintf("error: %v", err), 1)
					}
					local, err := sampler.Epoch(epoch)
					if err != nil {
						return cli.Exit(fmt.Sprintf("error: epoch %d: %v", epoch, err), 1)
					}
					tokens := 0
					for _, pk := range local {
						tokens += packer.PackTokens(pk)
					}
					fmt.Printf("  rank %d: %d steps, %d tokens\n", rank, len(local), tokens)
				}
			}
			return nil
		},
	}
}
