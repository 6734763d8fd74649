package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tuner/internal/device"
	"github.com/samcharles93/tuner/internal/infer"
	"github.com/samcharles93/tuner/internal/logger"
	"github.com/samcharles93/tuner/internal/loss"
	"github.com/samcharles93/tuner/internal/task"
)

// samplingFlags are optional overrides shared by eval and serve.
type samplingFlags struct {
	n           int
	maxTokens   int
	temperature float64
	topP        float64
	topK        int
	seed        int64
}

func (s *samplingFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "n", Usage: "completions per record (default per task type)", Destination: &s.n},
		&cli.IntFlag{Name: "max-tokens", Usage: "token limit per completion (default per task type)", Destination: &s.maxTokens},
		&cli.Float64Flag{Name: "temperature", Aliases: []string{"temp"}, Usage: "sampling temperature (0 = greedy)", Destination: &s.temperature},
		&cli.Float64Flag{Name: "top-p", Usage: "nucleus sampling threshold", Destination: &s.topP},
		&cli.IntFlag{Name: "top-k", Usage: "top-k cutoff (0 = off)", Destination: &s.topK},
		&cli.Int64Flag{Name: "seed", Usage: "sampling seed", Destination: &s.seed},
	}
}

// options returns overrides for the flags the user set.
func (s *samplingFlags) options(c *cli.Command) infer.ParamsOptions {
	var o infer.ParamsOptions
	if c.IsSet("n") {
		o.N = &s.n
	}
	if c.IsSet("max-tokens") {
		o.MaxTokens = &s.maxTokens
	}
	if c.IsSet("temperature") {
		o.Temperature = &s.temperature
	}
	if c.IsSet("top-p") {
		o.TopP = &s.topP
	}
	if c.IsSet("top-k") {
		o.TopK = &s.topK
	}
	if c.IsSet("seed") {
		o.Seed = &s.seed
	}
	return o
}

func evalCmd() *cli.Command {
	var (
		modelDir  string
		dataPath  string
		outPath   string
		useHead   bool
		devName   string
		maxPrompt int
		sampling  samplingFlags
	)

	return &cli.Command{
		Name:  "eval",
		Usage: "Answer an evaluation JSONL with a trained model",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model directory", Required: true, Destination: &modelDir},
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "evaluation JSONL (answers optional)", Required: true, Destination: &dataPath},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "results file (default stdout)", Destination: &outPath},
			&cli.BoolFlag{Name: "use-head", Usage: "answer choice records with the trained head", Destination: &useHead},
			&cli.StringFlag{Name: "device", Usage: "device (auto, cpu, cuda)", Destination: &devName},
			&cli.IntFlag{Name: "max-prompt", Usage: "keep only the last N prompt tokens", Value: loss.DefaultMaxLength, Destination: &maxPrompt},
		}, sampling.flags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFromContext(ctx)
			if cmd.IsSet("device") {
				cfg.Device = devName
			}
			log := logger.FromContext(ctx)

			dev, err := device.Select(cfg.Device)
			if err != nil {
				return err
			}
			f, err := os.Open(dataPath)
			if err != nil {
				return err
			}
			records, err := task.LoadEvalJSONL(f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("load %s: %w", dataPath, err)
			}

			runner, err := newRunner(modelDir, dev, maxPrompt, useHead, sampling.options(cmd), log)
			if err != nil {
				return err
			}
			res, err := runner.Results(ctx, records)
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if outPath != "" {
				out, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer func() { _ = out.Close() }()
				w = out
			}
			return res.Write(w)
		},
	}
}

// newRunner loads an artifact and wires the generation engine and,
// optionally, the choice head into a results runner.
func newRunner(modelDir string, dev device.Device, maxPrompt int, useHead bool, overrides infer.ParamsOptions, log logger.Logger) (*infer.Runner, error) {
	loaded, err := loadArtifact(modelDir, dev)
	if err != nil {
		return nil, err
	}
	engine := infer.NewEngine(loaded.Model, loaded.Tokenizer,
		infer.WithMaxPromptLength(maxPrompt),
		infer.WithLogger(log),
	)
	opts := []infer.RunnerOption{
		infer.WithOverrides(overrides),
		infer.WithRunnerLogger(log),
	}
	if useHead {
		if loaded.Head == nil {
			return nil, fmt.Errorf("--use-head: %s has no choice head", modelDir)
		}
		opts = append(opts, infer.WithChoicePredictor(loss.NewEngine(loaded.Model, loaded.Head, loaded.Tokenizer, loss.WithMaxLength(maxPrompt))))
	}
	log.Info("model loaded", "dir", modelDir, "run_id", loaded.Config.RunID, "device", dev.Name())
	return infer.NewRunner(engine, opts...), nil
}
