package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tuner/internal/export"
	"github.com/samcharles93/tuner/internal/safetensors"
	"github.com/samcharles93/tuner/internal/train"
)

func inspectCmd() *cli.Command {
	var (
		modelDir     string
		showTensors  bool
		showRaw      bool
		tensorLimit  int
		tensorFilter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect an exported model directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model directory", Required: true, Destination: &modelDir},
			&cli.BoolFlag{Name: "tensors", Usage: "list tensors", Destination: &showTensors},
			&cli.IntFlag{Name: "tensors-limit", Usage: "limit tensor listing (0 = no limit)", Value: 50, Destination: &tensorLimit},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
			&cli.BoolFlag{Name: "raw-config", Usage: "print raw config.json", Destination: &showRaw},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := requireDir("model", modelDir); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			cfg, err := export.ReadConfig(modelDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			fmt.Printf("Tuner Inspect: %s\n", modelDir)
			printModelConfig(cfg)

			st, err := safetensors.Open(filepath.Join(modelDir, export.ModelFile))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open weights: %v", err), 1)
			}
			defer func() { _ = st.Close() }()
			printTensorSummary(st)
			if showTensors {
				printTensorIndex(st, tensorFilter, tensorLimit)
			}

			if err := printTrainingState(modelDir); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if showRaw {
				raw, err := os.ReadFile(filepath.Join(modelDir, export.ConfigFile))
				if err != nil {
					return err
				}
				section("Config (config.json)")
				fmt.Println(string(raw))
			}
			return nil
		},
	}
}

func printModelConfig(cfg export.ModelConfig) {
	section("Model")
	row("Model type", cfg.ModelType)
	row("Architectures", strings.Join(cfg.Architectures, ", "))
	row("Dtype", cfg.TorchDType)
	rowInt("Vocab size", cfg.VocabSize)
	rowInt("Hidden size", cfg.HiddenSize)
	rowInt("Layers", cfg.NumLayers)
	rowFloat("RMSNorm eps", cfg.RMSNormEps)
	row("Pad token", fmt.Sprintf("%d", cfg.PadTokenID))
	row("EOS token", fmt.Sprintf("%d", cfg.EOSTokenID))
	row("Task heads", strings.Join(cfg.TaskHeads, ", "))
	if m := cfg.MergedLoRA; m != nil {
		row("Merged LoRA", fmt.Sprintf("r=%d alpha=%g targets=%s", m.Rank, m.Alpha, strings.Join(m.TargetModules, ",")))
	}
	row("Run ID", cfg.RunID)
	row("Tuner version", cfg.TunerVersion)
	if !cfg.CreatedAt.IsZero() {
		row("Created", cfg.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}

	section("Generation")
	rowInt("Max new tokens", cfg.Generation.MaxNewTokens)
	rowFloat("Temperature", cfg.Generation.Temperature)
	rowFloat("Top-p", cfg.Generation.TopP)
}

func printTensorSummary(st *safetensors.File) {
	section("Weights")
	var params int
	dtypes := map[string]int{}
	for _, info := range st.Tensors {
		n := 1
		for _, d := range info.Shape {
			n *= d
		}
		params += n
		dtypes[info.DType]++
	}
	rowInt("Tensors", len(st.Tensors))
	row("Parameters", fmt.Sprintf("%d", params))
	for dt, n := range dtypes {
		row("Dtype "+dt, fmt.Sprintf("%d tensors", n))
	}
	for k, v := range st.Metadata {
		row("Meta "+k, v)
	}
}

func printTensorIndex(st *safetensors.File, filter string, limit int) {
	section("Tensor Index")
	shown, total := 0, 0
	for _, name := range st.Names() {
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		total++
		if limit > 0 && shown >= limit {
			continue
		}
		info := st.Tensors[name]
		fmt.Printf("%-40s %-5s %s\n", name, info.DType, formatShape(info.Shape))
		shown++
	}
	if shown < total {
		fmt.Printf("... (%d shown of %d)\n", shown, total)
	}
}

func printTrainingState(dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, export.TrainingStateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var st train.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("parse %s: %w", export.TrainingStateFile, err)
	}
	section("Training")
	row("Epochs", fmt.Sprintf("%d", len(st.History)))
	row("Batches", fmt.Sprintf("%d", st.Step))
	row("Optimizer steps", fmt.Sprintf("%d", st.OptimizerSteps))
	rowFloat("Final LR", st.LearningRate)
	for _, h := range st.History {
		row(fmt.Sprintf("Epoch %d loss", h.Epoch+1), fmt.Sprintf("%.6f", h.Loss))
	}
	return nil
}

func section(title string) {
	line := strings.Repeat("-", len(title)+8)
	fmt.Printf("\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("%-24s %s\n", label+":", value)
}

func rowInt(label string, v int) {
	if v == 0 {
		return
	}
	row(label, fmt.Sprintf("%d", v))
}

func rowFloat(label string, v float64) {
	if v == 0 {
		return
	}
	row(label, fmt.Sprintf("%g", v))
}

func formatShape(shape []int) string {
	if len(shape) == 0 {
		return "[]"
	}
	parts := make([]string, len(shape))
	for i, v := range shape {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
