package backbone

import "github.com/samcharles93/tuner/internal/autograd"

// Delta is a correction added to the output of a Linear, such as a LoRA
// low-rank update.
type Delta interface {
	Forward(x *autograd.Tensor, train bool) *autograd.Tensor
}

// Linear is a bias-free projection y = x W^T with an optional Delta.
type Linear struct {
	// Name is the module path without the ".weight" suffix, for example
	// "model.layers.0.self_attn.q_proj".
	Name   string
	Weight *autograd.Tensor
	Delta  Delta
}

func (l *Linear) In() int  { return l.Weight.Cols() }
func (l *Linear) Out() int { return l.Weight.Rows() }

// Forward applies the projection and, when present, the delta.
func (l *Linear) Forward(x *autograd.Tensor, train bool) *autograd.Tensor {
	y := autograd.MatMulT(x, l.Weight)
	if l.Delta != nil {
		y = autograd.Add(y, l.Delta.Forward(x, train))
	}
	return y
}
