package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tuner/internal/device"
	"github.com/samcharles93/tuner/internal/export"
	"github.com/samcharles93/tuner/internal/logger"
	"github.com/samcharles93/tuner/internal/train"
)

func initCmd() *cli.Command {
	var (
		outDir       string
		tokenizerDir string
		hidden       int
		layers       int
		seed         int64
	)

	return &cli.Command{
		Name:  "init",
		Usage: "Write an untrained base model sized to a tokenizer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory", Destination: &outDir},
			&cli.StringFlag{Name: "tokenizer", Usage: "directory with tokenizer.json (default: byte-level)", Destination: &tokenizerDir},
			&cli.IntFlag{Name: "hidden-size", Usage: "hidden width (default from config)", Destination: &hidden},
			&cli.IntFlag{Name: "layers", Usage: "number of layers (default from config)", Destination: &layers},
			&cli.Int64Flag{Name: "seed", Usage: "initialisation seed", Value: 42, Destination: &seed},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFromContext(ctx)
			if cmd.IsSet("hidden-size") {
				cfg.Backbone.HiddenSize = hidden
			}
			if cmd.IsSet("layers") {
				cfg.Backbone.NumLayers = layers
			}
			runID := uuid.NewString()
			log := logger.FromContext(ctx).With("run_id", runID)

			tok, err := loadTokenizer(tokenizerDir)
			if err != nil {
				return err
			}
			m, h, err := freshModel(cfg.Backbone, tok, seed, device.Host{})
			if err != nil {
				return err
			}
			dir, err := resolveOutDir(outDir, cfg.OutputDir, runID)
			if err != nil {
				return err
			}
			art, err := export.Finalize(ctx, train.NewModelState(m, h), tok, export.Config{RunID: runID, Logger: log}, dir)
			if err != nil {
				return err
			}
			fmt.Println(art.Dir)
			return nil
		},
	}
}
