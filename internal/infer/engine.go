// Package infer generates answers from a trained model and formats them as
// evaluation results.
package infer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/logger"
	"github.com/samcharles93/tuner/internal/logits"
	"github.com/samcharles93/tuner/internal/tokenizer"
)

var ErrEmptyPrompt = errors.New("infer: prompt encodes to no tokens")

type Stats struct {
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

// Engine decodes completions from a backbone. It is not safe for
// concurrent use; callers serialise access.
type Engine struct {
	model     backbone.Model
	tok       tokenizer.Tokenizer
	stop      []int
	maxPrompt int
	log       logger.Logger
	last      Stats
}

type Option func(*Engine)

// WithStopTokens replaces the stop set derived from the tokenizer.
func WithStopTokens(ids ...int) Option {
	return func(e *Engine) { e.stop = slices.Clone(ids) }
}

// WithMaxPromptLength keeps only the last n prompt tokens.
func WithMaxPromptLength(n int) Option {
	return func(e *Engine) { e.maxPrompt = n }
}

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func NewEngine(m backbone.Model, tok tokenizer.Tokenizer, opts ...Option) *Engine {
	e := &Engine{
		model: m,
		tok:   tok,
		stop:  BuildStopTokens(tok),
		log:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate returns p.N completions of prompt. Completion i samples with
// seed p.Seed+i, so results are reproducible for a fixed seed.
func (e *Engine) Generate(ctx context.Context, prompt string, p SamplingParams) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := e.tok.Encode(prompt)
	if err != nil {
		return nil, fmt.Errorf("infer: encode prompt: %w", err)
	}
	if e.maxPrompt > 0 && len(ids) > e.maxPrompt {
		ids = ids[len(ids)-e.maxPrompt:]
	}
	if len(ids) == 0 {
		return nil, ErrEmptyPrompt
	}

	stop := func(id int) bool { return slices.Contains(e.stop, id) }
	start := time.Now()
	var generated int
	out := make([]string, 0, p.N)
	for i := range p.N {
		sampler := logits.NewSampler(logits.Config{
			Seed:        p.Seed + int64(i),
			Temperature: float32(p.Temperature),
			TopK:        p.TopK,
			TopP:        float32(p.TopP),
		})
		toks, err := backbone.Generate(ctx, e.model, ids, p.MaxTokens, sampler.Sample, stop)
		if err != nil {
			return nil, fmt.Errorf("infer: generate: %w", err)
		}
		text, err := e.tok.Decode(toks)
		if err != nil {
			return nil, fmt.Errorf("infer: decode: %w", err)
		}
		generated += len(toks)
		out = append(out, Sanitize(text))
	}

	e.last = Stats{TokensGenerated: generated, Duration: time.Since(start)}
	if s := e.last.Duration.Seconds(); s > 0 {
		e.last.TPS = float64(generated) / s
	}
	e.log.Debug("generated", "prompt_tokens", len(ids), "completions", p.N, "tokens", generated, "tps", e.last.TPS)
	return out, nil
}

// LastStats reports the most recent Generate call.
func (e *Engine) LastStats() Stats { return e.last }
