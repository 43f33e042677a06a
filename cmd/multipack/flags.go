package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/multipack/internal/logger"
	"github.com/samcharles93/multipack/internal/packing"
)

var (
	dataPath    string
	batchMaxLen int64
	batchSize   int64
	groupSize   int64
	binSize     int64
	efficiency  float64
	dropLast    bool
	seed        int64
	logLevel    string
	logFormat   string
	debug       bool
)

func dataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data",
			Aliases:     []string{"d"},
			Usage:       "path to a .jsonl dataset or .mpk archive",
			Destination: &dataPath,
		},
	}
}

func packingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "batch-max-len",
			Aliases:     []string{"max-len", "l"},
			Usage:       "per-row token budget",
			Value:       4096,
			Destination: &batchMaxLen,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Usage:       "max examples per pack (0 = uncapped)",
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "group-size",
			Usage:       "indices packed together per chunk",
			Value:       100000,
			Destination: &groupSize,
		},
		&cli.Int64Flag{
			Name:        "bin-size",
			Usage:       "intermediate bin capacity",
			Value:       200,
			Destination: &binSize,
		},
		&cli.Float64Flag{
			Name:        "efficiency",
			Usage:       "packing efficiency estimate for step-count estimation",
			Value:       1.0,
			Destination: &efficiency,
		},
		&cli.BoolFlag{
			Name:        "drop-last",
			Usage:       "drop the trailing partial pack and truncate to the world size",
			Destination: &dropLast,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "shared shuffle seed",
			Value:       42,
			Destination: &seed,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func packingConfig() packing.Config {
	return packing.Config{
		BatchMaxLen: int(batchMaxLen),
		BatchSize:   int(batchSize),
		GroupSize:   int(groupSize),
		BinSize:     int(binSize),
		Efficiency:  efficiency,
		DropLast:    dropLast,
	}
}

func newLog() logger.Logger {
	level := logLevel
	if debug {
		level = "debug"
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, logger.ParseLevel(level))
	case "text":
		return logger.Default()
	default:
		return logger.Pretty(os.Stderr, logger.ParseLevel(level))
	}
}
