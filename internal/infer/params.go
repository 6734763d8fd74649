package infer

import (
	"errors"
	"fmt"

	"github.com/samcharles93/tuner/internal/task"
)

var ErrInvalidParams = errors.New("infer: invalid sampling params")

// SamplingParams controls decoding for one prompt. N is the number of
// independent completions. Temperature <= 0 decodes greedily.
type SamplingParams struct {
	N           int     `json:"n" yaml:"n"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p"`
	TopK        int     `json:"top_k,omitempty" yaml:"top_k"`
	Seed        int64   `json:"seed" yaml:"seed"`
}

// DefaultParams returns the decoding settings used for a task type. Code
// generation samples three candidates; everything else samples one.
func DefaultParams(t task.Type) SamplingParams {
	p := SamplingParams{N: 1, Temperature: 0.8, TopP: 0.95}
	switch t {
	case task.Choice:
		p.MaxTokens = 1024
	case task.CodeGenerate:
		p.N = 3
		p.MaxTokens = 2048
	case task.GenericGenerate:
		p.MaxTokens = 128
	case task.Math:
		p.MaxTokens = 512
	default:
		p.MaxTokens = 128
	}
	return p
}

func (p SamplingParams) Validate() error {
	switch {
	case p.N < 1:
		return fmt.Errorf("%w: n must be at least 1, got %d", ErrInvalidParams, p.N)
	case p.MaxTokens < 1:
		return fmt.Errorf("%w: max_tokens must be at least 1, got %d", ErrInvalidParams, p.MaxTokens)
	case p.TopP < 0 || p.TopP > 1:
		return fmt.Errorf("%w: top_p must be in [0, 1], got %v", ErrInvalidParams, p.TopP)
	case p.TopK < 0:
		return fmt.Errorf("%w: top_k must not be negative, got %d", ErrInvalidParams, p.TopK)
	}
	return nil
}

// ParamsOptions carries explicit overrides. Nil fields keep the default.
type ParamsOptions struct {
	N           *int     `json:"n,omitempty" yaml:"n"`
	MaxTokens   *int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p"`
	TopK        *int     `json:"top_k,omitempty" yaml:"top_k"`
	Seed        *int64   `json:"seed,omitempty" yaml:"seed"`
}

// Resolve applies the set fields of opts on top of defaults.
func (opts ParamsOptions) Resolve(defaults SamplingParams) SamplingParams {
	p := defaults
	if opts.N != nil {
		p.N = *opts.N
	}
	if opts.MaxTokens != nil {
		p.MaxTokens = *opts.MaxTokens
	}
	if opts.Temperature != nil {
		p.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		p.TopP = *opts.TopP
	}
	if opts.TopK != nil {
		p.TopK = *opts.TopK
	}
	if opts.Seed != nil {
		p.Seed = *opts.Seed
	}
	return p
}
