package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tuner/internal/logger"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/tuner/config.yaml)",
		Destination: &configFile,
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

// setup loads the config file and installs the logger on the context
// shared by every subcommand.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path, explicit := configFile, cmd.IsSet("config")
	if !explicit {
		path = configPath()
	}
	cfg, err := LoadConfig(path, explicit)
	if err != nil {
		return ctx, err
	}
	applyLogConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	log, err := logger.New(os.Stderr, logFormat, level)
	if err != nil {
		return ctx, err
	}
	ctx = logger.WithContext(ctx, log)
	return withConfig(ctx, cfg), nil
}

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFromContext(ctx context.Context) Config {
	if cfg, ok := ctx.Value(configKey{}).(Config); ok {
		return cfg
	}
	return defaultConfig()
}
