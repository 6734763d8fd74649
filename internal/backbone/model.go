// Package backbone defines the contract the training core uses to talk to a
// pretrained causal language model, plus TinyLM, a small reference
// implementation the rest of the module is exercised against.
package backbone

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/tuner/internal/autograd"
)

// IgnoreIndex marks label positions excluded from the language-modeling loss.
const IgnoreIndex = -100

var (
	ErrEmptyInput    = errors.New("backbone: empty input")
	ErrRaggedInput   = errors.New("backbone: input rows differ in length")
	ErrTokenRange    = errors.New("backbone: token id out of range")
	ErrShapeMismatch = errors.New("backbone: mask or labels do not match input shape")
)

// Input is one batched forward request. IDs must be rectangular; callers pad
// before calling Forward.
type Input struct {
	IDs           [][]int
	AttentionMask [][]int
	// Labels, when set, make Forward return the next-token loss. The shift
	// by one position happens inside the backbone.
	Labels             [][]int
	OutputHiddenStates bool
	// Train enables stochastic layers such as adapter dropout.
	Train bool
}

// Output holds the flattened [batch*seqLen x ...] results of a forward pass.
type Output struct {
	Logits *autograd.Tensor
	// HiddenStates has NumLayers+1 entries: the embeddings followed by each
	// layer output. The final entry is normalised, matching what the LM head
	// consumes.
	HiddenStates []*autograd.Tensor
	Loss         *autograd.Tensor
	Batch        int
	SeqLen       int
}

// LastHidden returns the final hidden state matrix.
func (o *Output) LastHidden() *autograd.Tensor {
	if len(o.HiddenStates) == 0 {
		return nil
	}
	return o.HiddenStates[len(o.HiddenStates)-1]
}

// NamedParam pairs a parameter with its state-dict name.
type NamedParam struct {
	Name   string
	Tensor *autograd.Tensor
}

// Model is a causal language model.
type Model interface {
	Config() Config
	Forward(ctx context.Context, in Input) (*Output, error)
	// Parameters enumerates every parameter in a stable order. Trainability
	// is read from Tensor.RequiresGrad.
	Parameters() []NamedParam
}

// Adaptable is a Model whose linear layers can carry a low-rank delta.
type Adaptable interface {
	Model
	Linears() []*Linear
	// CloneModel deep-copies every weight. Deltas attached to linears are
	// shared, not copied.
	CloneModel() Adaptable
}

// Trainable filters params down to those that receive gradients.
func Trainable(params []NamedParam) []NamedParam {
	out := make([]NamedParam, 0, len(params))
	for _, p := range params {
		if p.Tensor.RequiresGrad() {
			out = append(out, p)
		}
	}
	return out
}

// ShiftLabels converts per-position labels into per-row next-token targets:
// row (b, t) is trained to predict labels[b][t+1]. The last position of each
// sequence has no target.
func ShiftLabels(labels [][]int, seqLen int) []int {
	out := make([]int, 0, len(labels)*seqLen)
	for _, row := range labels {
		for t := 0; t < seqLen; t++ {
			if t+1 < len(row) {
				out = append(out, row[t+1])
			} else {
				out = append(out, IgnoreIndex)
			}
		}
	}
	return out
}

func checkInput(in Input, vocab int) (batch, seqLen int, err error) {
	batch = len(in.IDs)
	if batch == 0 || len(in.IDs[0]) == 0 {
		return 0, 0, ErrEmptyInput
	}
	seqLen = len(in.IDs[0])
	for i, row := range in.IDs {
		if len(row) != seqLen {
			return 0, 0, fmt.Errorf("%w: row %d has %d tokens, want %d", ErrRaggedInput, i, len(row), seqLen)
		}
		for _, id := range row {
			if id < 0 || id >= vocab {
				return 0, 0, fmt.Errorf("%w: %d (vocab %d)", ErrTokenRange, id, vocab)
			}
		}
	}
	for _, m := range [][][]int{in.AttentionMask, in.Labels} {
		if m == nil {
			continue
		}
		if len(m) != batch {
			return 0, 0, ErrShapeMismatch
		}
		for _, row := range m {
			if len(row) != seqLen {
				return 0, 0, ErrShapeMismatch
			}
		}
	}
	return batch, seqLen, nil
}

func flatten(rows [][]int) []int {
	if rows == nil {
		return nil
	}
	out := make([]int, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
