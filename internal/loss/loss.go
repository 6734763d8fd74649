// Package loss turns a single-type batch of task records into one scalar
// training loss.
package loss

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/tuner/internal/autograd"
	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/head"
	"github.com/samcharles93/tuner/internal/logger"
	"github.com/samcharles93/tuner/internal/prompt"
	"github.com/samcharles93/tuner/internal/task"
	"github.com/samcharles93/tuner/internal/tokenizer"
)

// IgnoreIndex marks label positions excluded from the loss.
const IgnoreIndex = backbone.IgnoreIndex

// Substitutes for non-finite choice logits.
const (
	NaNLogit    = 0
	PosInfLogit = 1e4
	NegInfLogit = -1e4
)

// DefaultMaxLength caps tokenized sequences when no limit is configured.
const DefaultMaxLength = 1024

var (
	ErrInvalidAnswer = errors.New("loss: choice answer must be one of A, B, C, D")
	ErrNoHead        = errors.New("loss: choice batch needs a task head")
	ErrNoModelLoss   = errors.New("loss: backbone returned no loss for labelled input")
)

// AnswerIndex maps "A".."D" to 0..3.
func AnswerIndex(answer string) (int, error) {
	if len(answer) == 1 && answer[0] >= 'A' && answer[0] <= 'D' {
		return int(answer[0] - 'A'), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAnswer, answer)
}

// Engine computes the loss of a batch against a backbone and choice head.
type Engine struct {
	model     backbone.Model
	head      *head.Linear
	tok       tokenizer.Tokenizer
	prompts   *prompt.Builder
	maxLength int
	train     bool
	log       logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithBuilder overrides the prompt builder. Defaults to TrainingTemplates.
func WithBuilder(b *prompt.Builder) Option {
	return func(e *Engine) { e.prompts = b }
}

// WithMaxLength sets the truncation length for both objectives.
func WithMaxLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxLength = n
		}
	}
}

// WithTraining enables stochastic layers in the backbone forward pass.
func WithTraining(train bool) Option {
	return func(e *Engine) { e.train = train }
}

// WithLogger sets the logger used for batch-level warnings.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func NewEngine(model backbone.Model, h *head.Linear, tok tokenizer.Tokenizer, opts ...Option) *Engine {
	e := &Engine{
		model:     model,
		head:      h,
		tok:       tok,
		prompts:   prompt.NewBuilder(prompt.TrainingTemplates),
		maxLength: DefaultMaxLength,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ComputeLoss returns a 1x1 loss tensor for batch. The batch type is
// checked before anything is rendered or tokenized.
func (e *Engine) ComputeLoss(ctx context.Context, batch task.Batch) (*autograd.Tensor, error) {
	typ, err := batch.Type()
	if err != nil {
		return nil, err
	}
	samples, err := e.prompts.RenderBatch(batch)
	if err != nil {
		return nil, err
	}
	switch typ {
	case task.Choice:
		return e.choiceLoss(ctx, samples)
	case task.CodeGenerate, task.GenericGenerate, task.Math:
		return e.generativeLoss(ctx, samples)
	default:
		return nil, fmt.Errorf("%w: %v", task.ErrUnknownTaskType, typ)
	}
}

func (e *Engine) choiceLoss(ctx context.Context, samples []prompt.Sample) (*autograd.Tensor, error) {
	if e.head == nil {
		return nil, ErrNoHead
	}
	targets := make([]int, len(samples))
	for i, s := range samples {
		idx, err := AnswerIndex(s.Answer)
		if err != nil {
			return nil, err
		}
		targets[i] = idx
	}
	logits, err := e.choiceLogits(ctx, samples)
	if err != nil {
		return nil, err
	}
	return autograd.CrossEntropy(logits, targets, IgnoreIndex)
}

// choiceLogits runs the head over each prompt's last real token. Non-finite
// logits are replaced so a bad batch still yields a finite loss.
func (e *Engine) choiceLogits(ctx context.Context, samples []prompt.Sample) (*autograd.Tensor, error) {
	texts := make([]string, len(samples))
	for i, s := range samples {
		texts[i] = s.Prompt
	}
	enc, err := tokenizer.EncodeBatch(e.tok, texts, tokenizer.EncodeOptions{MaxLength: e.maxLength, Padding: true})
	if err != nil {
		return nil, fmt.Errorf("loss: tokenize choice prompts: %w", err)
	}
	out, err := e.model.Forward(ctx, backbone.Input{
		IDs:                enc.IDs,
		AttentionMask:      enc.AttentionMask,
		OutputHiddenStates: true,
		Train:              e.train,
	})
	if err != nil {
		return nil, err
	}
	last := out.LastHidden()
	if last == nil {
		return nil, errors.New("loss: backbone returned no hidden states")
	}

	rows := make([]int, len(samples))
	for b, n := range enc.Lengths {
		rows[b] = b*out.SeqLen + max(n-1, 0)
	}
	logits := e.head.Forward(autograd.Rows(last, rows))
	return autograd.NanToNum(logits, NaNLogit, PosInfLogit, NegInfLogit), nil
}

// PredictChoices returns the head's argmax letter index for each record of
// a choice batch. Answers are not required.
func (e *Engine) PredictChoices(ctx context.Context, batch task.Batch) ([]int, error) {
	if e.head == nil {
		return nil, ErrNoHead
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	typ, err := batch.Type()
	if err != nil {
		return nil, err
	}
	if typ != task.Choice {
		return nil, fmt.Errorf("loss: cannot predict choices for %v records", typ)
	}
	samples, err := e.prompts.RenderBatch(batch)
	if err != nil {
		return nil, err
	}
	logits, err := e.choiceLogits(ctx, samples)
	if err != nil {
		return nil, err
	}
	out := make([]int, logits.Rows())
	for i := range out {
		row := logits.Value.Row(i)
		for j := 1; j < len(row); j++ {
			if row[j] > row[out[i]] {
				out[i] = j
			}
		}
	}
	return out, nil
}

func (e *Engine) generativeLoss(ctx context.Context, samples []prompt.Sample) (*autograd.Tensor, error) {
	in, err := BuildGenerativeInputs(e.tok, samples, e.maxLength)
	if err != nil {
		return nil, err
	}
	if in.Supervised() == 0 {
		e.log.Warn("no supervised positions in batch; prompts fill max_length",
			"batch_size", len(samples),
			"max_length", e.maxLength,
		)
	}
	out, err := e.model.Forward(ctx, backbone.Input{
		IDs:           in.IDs,
		AttentionMask: in.AttentionMask,
		Labels:        in.Labels,
		Train:         e.train,
	})
	if err != nil {
		return nil, err
	}
	if out.Loss == nil {
		return nil, ErrNoModelLoss
	}
	return out.Loss, nil
}

// GenerativeInputs are the padded ids, mask and labels of a generative
// batch. PromptLens[i] is the number of leading positions of row i that
// belong to the prompt.
type GenerativeInputs struct {
	IDs           [][]int
	AttentionMask [][]int
	Labels        [][]int
	PromptLens    []int
	Lengths       []int
}

// Supervised counts the positions that feed the next-token loss. The first
// position of each row never does since nothing predicts it.
func (in *GenerativeInputs) Supervised() int {
	n := 0
	for _, row := range in.Labels {
		for j := 1; j < len(row); j++ {
			if row[j] != IgnoreIndex {
				n++
			}
		}
	}
	return n
}

// BuildGenerativeInputs tokenizes prompt and prompt+answer for every
// sample, pads the full sequences with the tokenizer's pad id and masks the
// prompt out of the labels. Padding stays supervised with the pad id, which
// is how the model learns to stop when pad and EOS share an id.
func BuildGenerativeInputs(tok tokenizer.Tokenizer, samples []prompt.Sample, maxLength int) (*GenerativeInputs, error) {
	full := make([][]int, len(samples))
	promptLens := make([]int, len(samples))
	for i, s := range samples {
		p, err := tok.Encode(s.Prompt)
		if err != nil {
			return nil, fmt.Errorf("loss: tokenize prompt %d: %w", i, err)
		}
		f, err := tok.Encode(s.Prompt + s.Answer)
		if err != nil {
			return nil, fmt.Errorf("loss: tokenize full text %d: %w", i, err)
		}
		promptLens[i] = len(tokenizer.Truncate(p, maxLength))
		full[i] = tokenizer.Truncate(f, maxLength)
	}

	enc := tokenizer.Pad(full, tok.PadID())
	labels := make([][]int, len(enc.IDs))
	for i, row := range enc.IDs {
		lab := make([]int, len(row))
		for j, id := range row {
			if j < promptLens[i] || id < 0 {
				lab[j] = IgnoreIndex
			} else {
				lab[j] = id
			}
		}
		labels[i] = lab
	}
	return &GenerativeInputs{
		IDs:           enc.IDs,
		AttentionMask: enc.AttentionMask,
		Labels:        labels,
		PromptLens:    promptLens,
		Lengths:       enc.Lengths,
	}, nil
}
