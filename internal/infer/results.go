package infer

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/samcharles93/tuner/internal/logger"
	"github.com/samcharles93/tuner/internal/prompt"
	"github.com/samcharles93/tuner/internal/task"
)

// Generator produces completions for a rendered prompt. *Engine
// implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string, p SamplingParams) ([]string, error)
}

// ChoicePredictor scores choice records with the trained head.
type ChoicePredictor interface {
	PredictChoices(ctx context.Context, batch task.Batch) ([]int, error)
}

// Content is one or more completions. It encodes as a bare string when
// there is exactly one and as a list otherwise.
type Content []string

func (c Content) MarshalJSON() ([]byte, error) {
	if len(c) == 1 {
		return json.Marshal(c[0])
	}
	return json.Marshal([]string(c))
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("infer: content must be a string or a list of strings: %w", err)
	}
	*c = Content(list)
	return nil
}

type Result struct {
	ID      string  `json:"id"`
	Content Content `json:"content"`
}

type ResultSet struct {
	Results []Result `json:"results"`
}

// Results is the submission document: {"result": {"results": [...]}}.
type Results struct {
	Result ResultSet `json:"result"`
}

// Write encodes res as indented JSON.
func (res *Results) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// Runner renders records with the evaluation templates, generates answers
// and collects them in input order.
type Runner struct {
	gen       Generator
	prompts   *prompt.Builder
	params    map[task.Type]SamplingParams
	overrides ParamsOptions
	choices   ChoicePredictor
	log       logger.Logger
}

type RunnerOption func(*Runner)

// WithParams sets the sampling params for one task type.
func WithParams(t task.Type, p SamplingParams) RunnerOption {
	return func(r *Runner) { r.params[t] = p }
}

// WithOverrides applies opts on top of every task type's params.
func WithOverrides(opts ParamsOptions) RunnerOption {
	return func(r *Runner) { r.overrides = opts }
}

// WithChoicePredictor answers choice records with the head instead of
// free generation.
func WithChoicePredictor(c ChoicePredictor) RunnerOption {
	return func(r *Runner) { r.choices = c }
}

func WithTemplates(ts prompt.TemplateSet) RunnerOption {
	return func(r *Runner) { r.prompts = prompt.NewBuilder(ts) }
}

func WithRunnerLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

func NewRunner(g Generator, opts ...RunnerOption) *Runner {
	r := &Runner{
		gen:     g,
		prompts: prompt.NewBuilder(prompt.EvalTemplates),
		params:  make(map[task.Type]SamplingParams, len(task.Types())),
		log:     logger.Discard(),
	}
	for _, t := range task.Types() {
		r.params[t] = DefaultParams(t)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Params returns the effective sampling params for t.
func (r *Runner) Params(t task.Type) SamplingParams {
	return r.overrides.Resolve(r.params[t])
}

// Results answers every record. Answers are optional on input and ignored.
func (r *Runner) Results(ctx context.Context, records []task.Record) (*Results, error) {
	return r.ResultsWith(ctx, records, ParamsOptions{})
}

// ResultsWith is Results with per-call overrides applied after the
// runner's own.
func (r *Runner) ResultsWith(ctx context.Context, records []task.Record, opts ParamsOptions) (*Results, error) {
	for _, rec := range records {
		if err := rec.Validate(false); err != nil {
			return nil, fmt.Errorf("record %q: %w", rec.ID, err)
		}
	}
	out := make([]Result, len(records))

	done := make([]bool, len(records))
	if r.choices != nil {
		if err := r.predictChoices(ctx, records, out, done); err != nil {
			return nil, err
		}
	}

	for i, rec := range records {
		if done[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := r.prompts.Render(rec)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", rec.ID, err)
		}
		texts, err := r.gen.Generate(ctx, s.Prompt, opts.Resolve(r.Params(rec.Type)))
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", rec.ID, err)
		}
		out[i] = Result{ID: rec.ID, Content: Content(texts)}
		r.log.Debug("answered", "id", rec.ID, "type", rec.Type.String(), "completions", len(texts))
	}
	r.log.Info("results ready", "records", len(records))
	return &Results{Result: ResultSet{Results: out}}, nil
}

func (r *Runner) predictChoices(ctx context.Context, records []task.Record, out []Result, done []bool) error {
	var batch task.Batch
	var idx []int
	for i, rec := range records {
		if rec.Type == task.Choice {
			batch = append(batch, rec)
			idx = append(idx, i)
		}
	}
	if len(batch) == 0 {
		return nil
	}
	preds, err := r.choices.PredictChoices(ctx, batch)
	if err != nil {
		return fmt.Errorf("infer: predict choices: %w", err)
	}
	for j, p := range preds {
		i := idx[j]
		out[i] = Result{ID: records[i].ID, Content: Content{string(rune('A' + p))}}
		done[i] = true
	}
	return nil
}
