package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/head"
	"github.com/samcharles93/tuner/internal/safetensors"
	"github.com/samcharles93/tuner/internal/tensor"
	"github.com/samcharles93/tuner/internal/tokenizer"
)

var (
	ErrUnsupportedModel = errors.New("export: unsupported model_type")
	ErrHeadMismatch     = errors.New("export: choice head width differs from hidden_size")
)

// Loaded is a model directory read back into memory.
type Loaded struct {
	Config    ModelConfig
	Model     *backbone.TinyLM
	Head      *head.Linear // nil when the artifact has no choice head
	Tokenizer *tokenizer.HFTokenizer
}

// ReadConfig decodes config.json from dir.
func ReadConfig(dir string) (ModelConfig, error) {
	var mc ModelConfig
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return mc, fmt.Errorf("export: %w", err)
	}
	if err := json.Unmarshal(data, &mc); err != nil {
		return mc, fmt.Errorf("export: parse %s: %w", ConfigFile, err)
	}
	return mc, nil
}

// ReadWeights decodes every tensor in model.safetensors to a matrix.
// One-dimensional tensors become 1xN rows.
func ReadWeights(dir string) (map[string]tensor.Mat, error) {
	f, err := safetensors.Open(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	defer func() { _ = f.Close() }()

	out := make(map[string]tensor.Mat, len(f.Tensors))
	for _, name := range f.Names() {
		data, info, err := f.ReadF32(name)
		if err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
		var r, c int
		switch len(info.Shape) {
		case 1:
			r, c = 1, info.Shape[0]
		case 2:
			r, c = info.Shape[0], info.Shape[1]
		default:
			return nil, fmt.Errorf("export: tensor %s has rank %d", name, len(info.Shape))
		}
		out[name] = tensor.NewMatFromData(r, c, data)
	}
	return out, nil
}

// Load reads a directory written by Finalize. The returned model is a
// plain TinyLM: none of its projections carry a delta.
func Load(dir string, opts ...backbone.Option) (*Loaded, error) {
	mc, err := ReadConfig(dir)
	if err != nil {
		return nil, err
	}
	if mc.ModelType != backbone.ModelType {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedModel, mc.ModelType)
	}
	weights, err := ReadWeights(dir)
	if err != nil {
		return nil, err
	}

	var h *head.Linear
	if w, ok := weights[head.WeightName]; ok {
		b, ok := weights[head.BiasName]
		if !ok {
			return nil, fmt.Errorf("export: %s without %s", head.WeightName, head.BiasName)
		}
		if w.C != mc.HiddenSize {
			return nil, fmt.Errorf("%w: head has %d columns, hidden_size is %d", ErrHeadMismatch, w.C, mc.HiddenSize)
		}
		if h, err = head.FromWeights(w, b); err != nil {
			return nil, err
		}
		delete(weights, head.WeightName)
		delete(weights, head.BiasName)
	}

	m, err := backbone.FromWeights(mc.Config, weights, opts...)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	tok, err := tokenizer.LoadHFTokenizerDir(dir)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return &Loaded{Config: mc, Model: m, Head: h, Tokenizer: tok}, nil
}
