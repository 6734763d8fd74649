// Package export turns a trained ModelState into a self-contained model
// directory and loads such directories back.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/lora"
	"github.com/samcharles93/tuner/internal/logger"
	"github.com/samcharles93/tuner/internal/safetensors"
	"github.com/samcharles93/tuner/internal/train"
	"github.com/samcharles93/tuner/internal/version"
)

// Artifact file names.
const (
	ModelFile         = "model.safetensors"
	ConfigFile        = "config.json"
	TrainingStateFile = "training_state.json"
)

var ErrNoModel = errors.New("export: model state has no backbone")

// TokenizerFiles is the part of a tokenizer the exporter needs: its files
// exactly as they were loaded.
type TokenizerFiles interface {
	Files() map[string][]byte
}

// GenerationConfig is written into config.json for inference defaults.
type GenerationConfig struct {
	MaxNewTokens int     `json:"max_new_tokens" yaml:"max_new_tokens"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	TopP         float64 `json:"top_p" yaml:"top_p"`
	EOSTokenID   int     `json:"eos_token_id" yaml:"eos_token_id"`
	PadTokenID   int     `json:"pad_token_id" yaml:"pad_token_id"`
}

// Config controls Finalize. Zero values are filled in from the model.
type Config struct {
	RunID      string
	Generation GenerationConfig
	Training   *train.State
	// Logger is expected to carry the run's context (run_id). Without one
	// Finalize logs nothing.
	Logger logger.Logger
}

// ModelConfig is the content of config.json.
type ModelConfig struct {
	backbone.Config
	Architectures []string         `json:"architectures"`
	TorchDType    string           `json:"torch_dtype"`
	TaskHeads     []string         `json:"task_heads,omitempty"`
	MergedLoRA    *lora.Config     `json:"merged_lora,omitempty"`
	Generation    GenerationConfig `json:"generation"`
	RunID         string           `json:"run_id"`
	TunerVersion  string           `json:"tuner_version"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Artifact describes a written model directory.
type Artifact struct {
	Dir     string
	RunID   string
	Files   []string
	Tensors int
}

// Finalize merges any attached adapter into the backbone and writes the
// plain model, choice head, tokenizer and config to dir. Each file is
// written to a temporary name and renamed into place, so running it twice
// on the same state leaves an equivalent directory. It must not run while
// the state is still being trained.
func Finalize(ctx context.Context, state *train.ModelState, tok TokenizerFiles, cfg Config, dir string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if state == nil || state.Backbone == nil {
		return nil, ErrNoModel
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	merged := state
	var mergedLoRA *lora.Config
	if state.Adapter != nil {
		lc := state.Adapter.LoRAConfig()
		mergedLoRA = &lc
		var err error
		if merged, err = state.MergeAdapter(); err != nil {
			return nil, fmt.Errorf("export: merge adapter: %w", err)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	params := merged.Parameters()
	tensors := make([]safetensors.Tensor, 0, len(params))
	for _, p := range params {
		tensors = append(tensors, toTensor(p))
	}
	meta := map[string]string{"format": "pt", "run_id": runID, "tuner_version": version.String()}
	if err := safetensors.WriteFile(filepath.Join(dir, ModelFile), tensors, meta); err != nil {
		return nil, fmt.Errorf("export: write weights: %w", err)
	}
	files := []string{ModelFile}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mc := modelConfig(merged, cfg.Generation, runID, mergedLoRA)
	if err := writeJSON(filepath.Join(dir, ConfigFile), mc); err != nil {
		return nil, err
	}
	files = append(files, ConfigFile)

	if tok != nil {
		for name, data := range tok.Files() {
			if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
				return nil, fmt.Errorf("export: write %s: %w", name, err)
			}
			files = append(files, name)
		}
	}

	if cfg.Training != nil {
		if err := writeJSON(filepath.Join(dir, TrainingStateFile), cfg.Training); err != nil {
			return nil, err
		}
		files = append(files, TrainingStateFile)
	}
	slices.Sort(files)

	log.Info("artifact written", "dir", dir, "tensors", len(tensors), "merged_adapter", mergedLoRA != nil)
	return &Artifact{Dir: dir, RunID: runID, Files: files, Tensors: len(tensors)}, nil
}

func modelConfig(st *train.ModelState, gen GenerationConfig, runID string, merged *lora.Config) ModelConfig {
	bc := st.Model().Config()
	if gen.EOSTokenID == 0 && bc.EOSTokenID > 0 {
		gen.EOSTokenID = bc.EOSTokenID
	}
	if gen.PadTokenID == 0 && bc.PadTokenID > 0 {
		gen.PadTokenID = bc.PadTokenID
	}
	mc := ModelConfig{
		Config:        bc,
		Architectures: []string{"TinyLMForCausalLM"},
		TorchDType:    "float32",
		MergedLoRA:    merged,
		Generation:    gen,
		RunID:         runID,
		TunerVersion:  version.String(),
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
	if st.Head != nil {
		mc.TaskHeads = []string{"choice"}
	}
	return mc
}

func toTensor(p backbone.NamedParam) safetensors.Tensor {
	v := p.Tensor.Value.Clone()
	shape := []int{v.R, v.C}
	if v.R == 1 {
		shape = []int{v.C}
	}
	return safetensors.Tensor{Name: p.Name, Shape: shape, Data: v.Data}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("export: encode %s: %w", filepath.Base(path), err)
	}
	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		return fmt.Errorf("export: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
