package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the multipack configuration file
// (~/.config/multipack/config.yaml). Fields are pointers so an absent key is
// distinguishable from a zero value.
type Config struct {
	DataPath string `yaml:"data_path"`

	// Packing defaults
	BatchMaxLen *int64   `yaml:"batch_max_len"`
	BatchSize   *int64   `yaml:"batch_size"`
	GroupSize   *int64   `yaml:"group_size"`
	BinSize     *int64   `yaml:"bin_size"`
	Efficiency  *float64 `yaml:"efficiency"`
	DropLast    *bool    `yaml:"drop_last"`
	Seed        *int64   `yaml:"seed"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "multipack", "config.yaml")
}

// applyPackingConfig fills packing flag variables from the config file where
// the corresponding CLI flag was not explicitly set.
func applyPackingConfig(c *cli.Command, cfg Config) {
	if cfg.DataPath != "" && !c.IsSet("data") {
		dataPath = cfg.DataPath
	}
	if cfg.BatchMaxLen != nil && !c.IsSet("batch-max-len") && !c.IsSet("max-len") {
		batchMaxLen = *cfg.BatchMaxLen
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		batchSize = *cfg.BatchSize
	}
	if cfg.GroupSize != nil && !c.IsSet("group-size") {
		groupSize = *cfg.GroupSize
	}
	if cfg.BinSize != nil && !c.IsSet("bin-size") {
		binSize = *cfg.BinSize
	}
	if cfg.Efficiency != nil && !c.IsSet("efficiency") {
		efficiency = *cfg.Efficiency
	}
	if cfg.DropLast != nil && !c.IsSet("drop-last") {
		dropLast = *cfg.DropLast
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig fills the serve command's address from the config file.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyPackingConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
