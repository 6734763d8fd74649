package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/device"
	"github.com/samcharles93/tuner/internal/export"
	"github.com/samcharles93/tuner/internal/head"
	"github.com/samcharles93/tuner/internal/infer"
	"github.com/samcharles93/tuner/internal/logger"
	"github.com/samcharles93/tuner/internal/loss"
	"github.com/samcharles93/tuner/internal/task"
	"github.com/samcharles93/tuner/internal/tokenizer"
	"github.com/samcharles93/tuner/internal/train"
)

func trainCmd() *cli.Command {
	var (
		dataPath     string
		baseDir      string
		tokenizerDir string
		outDir       string
		f            trainFlags
	)

	return &cli.Command{
		Name:  "train",
		Usage: "Fine-tune a model with LoRA on a JSONL dataset and export the merged result",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "training JSONL", Required: true, Destination: &dataPath},
			&cli.StringFlag{Name: "base", Usage: "base model directory (default: a fresh TinyLM)", Destination: &baseDir},
			&cli.StringFlag{Name: "tokenizer", Usage: "directory with tokenizer.json for a fresh model (default: byte-level)", Destination: &tokenizerDir},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory", Destination: &outDir},
			&cli.StringFlag{Name: "device", Usage: "device (auto, cpu, cuda)", Destination: &f.device},

			&cli.IntFlag{Name: "epochs", Usage: "number of epochs", Destination: &f.epochs},
			&cli.IntFlag{Name: "batch-size", Usage: "records per batch", Destination: &f.batchSize},
			&cli.IntFlag{Name: "grad-accum", Usage: "batches per optimizer step", Destination: &f.accum},
			&cli.IntFlag{Name: "max-length", Usage: "token limit per sequence", Destination: &f.maxLength},
			&cli.Float64Flag{Name: "lr", Usage: "peak learning rate", Destination: &f.lr},
			&cli.Float64Flag{Name: "warmup-ratio", Usage: "fraction of steps spent warming up", Destination: &f.warmup},
			&cli.Float64Flag{Name: "max-grad-norm", Usage: "clip the global gradient norm (0 disables)", Destination: &f.maxGradNorm},
			&cli.Int64Flag{Name: "seed", Usage: "shuffle and initialisation seed", Destination: &f.seed},

			&cli.IntFlag{Name: "lora-r", Usage: "adapter rank", Destination: &f.loraRank},
			&cli.Float64Flag{Name: "lora-alpha", Usage: "adapter scaling numerator", Destination: &f.loraAlpha},
			&cli.Float64Flag{Name: "lora-dropout", Usage: "adapter input dropout", Destination: &f.loraDropout},
			&cli.StringSliceFlag{Name: "target-modules", Usage: "projections to adapt", Destination: &f.targets},

			&cli.IntFlag{Name: "hidden-size", Usage: "hidden width of a fresh model", Destination: &f.hidden},
			&cli.IntFlag{Name: "layers", Usage: "layers of a fresh model", Destination: &f.layers},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFromContext(ctx)
			applyTrainFlags(cmd, &cfg, f)
			_, headSeed, loraSeed := componentSeeds(cfg.Train.Seed)
			cfg.LoRA.Seed = loraSeed
			if err := cfg.Train.Validate(); err != nil {
				return err
			}

			runID := uuid.NewString()
			log := logger.FromContext(ctx).With("run_id", runID)

			dev, err := device.Select(cfg.Device)
			if err != nil {
				return err
			}
			records, err := task.LoadJSONLFile(dataPath)
			if err != nil {
				return fmt.Errorf("load dataset: %w", err)
			}

			base, h, tok, err := trainingBase(baseDir, tokenizerDir, cfg, headSeed, dev)
			if err != nil {
				return err
			}
			st, err := train.NewModelState(base, h).AttachAdapter(cfg.LoRA)
			if err != nil {
				return err
			}
			engine := loss.NewEngine(st.Model(), st.Head, tok,
				loss.WithMaxLength(cfg.Train.MaxLength),
				loss.WithTraining(true),
				loss.WithLogger(log),
			)
			loop, err := train.NewLoop(cfg.Train, st, engine,
				train.WithLogger(log),
				train.WithDevice(dev),
			)
			if err != nil {
				return err
			}

			// Divergence is logged by the loop; main maps it to exit code 2.
			res, err := loop.Run(ctx, records)
			if err != nil {
				return err
			}

			dir, err := resolveOutDir(outDir, cfg.OutputDir, runID)
			if err != nil {
				return err
			}
			gen := infer.DefaultParams(task.Math)
			art, err := export.Finalize(ctx, st, tok, export.Config{
				RunID: runID,
				Generation: export.GenerationConfig{
					MaxNewTokens: gen.MaxTokens,
					Temperature:  gen.Temperature,
					TopP:         gen.TopP,
					EOSTokenID:   tok.EOSID(),
					PadTokenID:   tok.PadID(),
				},
				Training: res,
				Logger:   log,
			}, dir)
			if err != nil {
				return err
			}
			fmt.Println(art.Dir)
			return nil
		},
	}
}

// trainingBase loads the base artifact, or builds a fresh model when none
// is given.
func trainingBase(baseDir, tokenizerDir string, cfg Config, headSeed int64, dev device.Device) (backbone.Adaptable, *head.Linear, *tokenizer.HFTokenizer, error) {
	if baseDir != "" {
		if tokenizerDir != "" {
			return nil, nil, nil, errors.New("--tokenizer only applies to a fresh model; the base directory carries its own")
		}
		loaded, err := loadArtifact(baseDir, dev)
		if err != nil {
			return nil, nil, nil, err
		}
		h := loaded.Head
		if h == nil {
			h = head.New(loaded.Model.Config().HiddenSize, headSeed)
		}
		return loaded.Model, h, loaded.Tokenizer, nil
	}
	tok, err := loadTokenizer(tokenizerDir)
	if err != nil {
		return nil, nil, nil, err
	}
	m, h, err := freshModel(cfg.Backbone, tok, cfg.Train.Seed, dev)
	if err != nil {
		return nil, nil, nil, err
	}
	return m, h, tok, nil
}
