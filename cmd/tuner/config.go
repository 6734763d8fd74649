package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/device"
	"github.com/samcharles93/tuner/internal/lora"
	"github.com/samcharles93/tuner/internal/train"
)

// Config is the tuner configuration file. Sections start from their
// package defaults; keys present in the file replace them. train.seed seeds
// every component; lora.seed is derived from it.
type Config struct {
	Backbone backbone.Config `yaml:"model"`
	LoRA     lora.Config     `yaml:"lora"`
	Train    train.Config    `yaml:"train"`

	Device        string `yaml:"device"`
	OutputDir     string `yaml:"output_dir"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	ServerAddress string `yaml:"server_address"`
}

func defaultConfig() Config {
	return Config{
		Backbone:      backbone.DefaultConfig(),
		LoRA:          lora.DefaultConfig(),
		Train:         train.DefaultConfig(),
		Device:        device.Auto,
		ServerAddress: ":8080",
	}
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tuner", "config.yaml")
}

// LoadConfig reads path over the defaults. A missing file is only an error
// when the user named it explicitly.
func LoadConfig(path string, explicit bool) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyLogConfig applies file logging settings when the corresponding flag
// was not explicitly set.
func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// trainFlags are the destinations of the train command's flags.
type trainFlags struct {
	epochs      int
	batchSize   int
	accum       int
	maxLength   int
	lr          float64
	warmup      float64
	maxGradNorm float64
	seed        int64

	loraRank    int
	loraAlpha   float64
	loraDropout float64
	targets     []string

	hidden int
	layers int
	device string
}

// applyTrainFlags overrides file values with the flags the user set.
func applyTrainFlags(c *cli.Command, cfg *Config, f trainFlags) {
	set := func(name string, apply func()) {
		if c.IsSet(name) {
			apply()
		}
	}
	set("epochs", func() { cfg.Train.Epochs = f.epochs })
	set("batch-size", func() { cfg.Train.BatchSize = f.batchSize })
	set("grad-accum", func() { cfg.Train.AccumulationSteps = f.accum })
	set("max-length", func() { cfg.Train.MaxLength = f.maxLength })
	set("lr", func() { cfg.Train.LearningRate = f.lr })
	set("warmup-ratio", func() { cfg.Train.WarmupRatio = f.warmup })
	set("max-grad-norm", func() { cfg.Train.MaxGradNorm = f.maxGradNorm })
	set("seed", func() { cfg.Train.Seed = f.seed })
	set("lora-r", func() { cfg.LoRA.Rank = f.loraRank })
	set("lora-alpha", func() { cfg.LoRA.Alpha = f.loraAlpha })
	set("lora-dropout", func() { cfg.LoRA.Dropout = f.loraDropout })
	set("target-modules", func() { cfg.LoRA.TargetModules = f.targets })
	set("hidden-size", func() { cfg.Backbone.HiddenSize = f.hidden })
	set("layers", func() { cfg.Backbone.NumLayers = f.layers })
	set("device", func() { cfg.Device = f.device })
}

// applyServeConfig applies file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
