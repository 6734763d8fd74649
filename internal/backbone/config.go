package backbone

import (
	"errors"
	"fmt"
)

// ModelType is the model_type written to config.json for TinyLM weights.
const ModelType = "tinylm"

// Config describes a TinyLM. JSON keys follow the Hugging Face config.json
// names so exported artifacts read naturally next to other checkpoints.
type Config struct {
	ModelType  string  `json:"model_type" yaml:"model_type"`
	VocabSize  int     `json:"vocab_size" yaml:"vocab_size"`
	HiddenSize int     `json:"hidden_size" yaml:"hidden_size"`
	NumLayers  int     `json:"num_hidden_layers" yaml:"num_hidden_layers"`
	RMSNormEps float64 `json:"rms_norm_eps" yaml:"rms_norm_eps"`
	InitStd    float64 `json:"initializer_range" yaml:"initializer_range"`
	PadTokenID int     `json:"pad_token_id" yaml:"pad_token_id"`
	EOSTokenID int     `json:"eos_token_id" yaml:"eos_token_id"`
}

// DefaultConfig returns a config small enough to train on a laptop CPU.
// VocabSize must still be set from the tokenizer.
func DefaultConfig() Config {
	return Config{
		ModelType:  ModelType,
		HiddenSize: 32,
		NumLayers:  2,
		RMSNormEps: 1e-6,
		InitStd:    0.02,
		PadTokenID: -1,
		EOSTokenID: -1,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return errors.New("backbone: vocab_size must be positive")
	case c.HiddenSize <= 0:
		return errors.New("backbone: hidden_size must be positive")
	case c.NumLayers <= 0:
		return errors.New("backbone: num_hidden_layers must be positive")
	case c.RMSNormEps <= 0:
		return errors.New("backbone: rms_norm_eps must be positive")
	case c.PadTokenID >= c.VocabSize:
		return fmt.Errorf("backbone: pad_token_id %d outside vocab %d", c.PadTokenID, c.VocabSize)
	}
	return nil
}
