// Package head holds the classification head trained on top of the
// backbone for multiple-choice records.
package head

import (
	"fmt"
	"math"

	"github.com/samcharles93/tuner/internal/autograd"
	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/tensor"
)

// NumChoices is the width of the choice head output.
const NumChoices = 4

// Parameter names in exported weights.
const (
	WeightName = "task_heads.choice.weight"
	BiasName   = "task_heads.choice.bias"
)

// Linear maps a pooled hidden state to one logit per choice.
type Linear struct {
	Weight *autograd.Tensor // [NumChoices x hidden]
	Bias   *autograd.Tensor // [1 x NumChoices]
}

// New initialises a head for the given hidden width. Weight and bias are
// drawn uniformly from (-1/sqrt(hidden), 1/sqrt(hidden)).
func New(hidden int, seed int64) *Linear {
	bound := float32(1 / math.Sqrt(float64(hidden)))
	w := tensor.NewMat(NumChoices, hidden)
	tensor.FillRand(&w, seed, bound)
	b := tensor.NewMat(1, NumChoices)
	tensor.FillRand(&b, seed+1, bound)
	return &Linear{Weight: autograd.Param(w), Bias: autograd.Param(b)}
}

// FromWeights rebuilds a head from exported matrices.
func FromWeights(w, b tensor.Mat) (*Linear, error) {
	if w.R != NumChoices || b.R != 1 || b.C != NumChoices {
		return nil, fmt.Errorf("head: weight [%d %d] bias [%d %d] do not form a %d-way head", w.R, w.C, b.R, b.C, NumChoices)
	}
	return &Linear{Weight: autograd.Param(w), Bias: autograd.Param(b)}, nil
}

// Hidden returns the input width.
func (l *Linear) Hidden() int { return l.Weight.Cols() }

// Forward maps pooled [batch x hidden] states to [batch x NumChoices] logits.
func (l *Linear) Forward(pooled *autograd.Tensor) *autograd.Tensor {
	return autograd.AddRow(autograd.MatMulT(pooled, l.Weight), l.Bias)
}

func (l *Linear) Parameters() []backbone.NamedParam {
	return []backbone.NamedParam{
		{Name: WeightName, Tensor: l.Weight},
		{Name: BiasName, Tensor: l.Bias},
	}
}

// Clone deep-copies the head.
func (l *Linear) Clone() *Linear {
	w := autograd.Param(l.Weight.Value.Clone())
	w.SetRequiresGrad(l.Weight.RequiresGrad())
	b := autograd.Param(l.Bias.Value.Clone())
	b.SetRequiresGrad(l.Bias.RequiresGrad())
	return &Linear{Weight: w, Bias: b}
}
