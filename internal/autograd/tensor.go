// Package autograd implements reverse-mode differentiation over dense 2D
// matrices.
//
// Every Tensor is a [rows x cols] tensor.Mat. Operations record themselves on
// their output only when at least one input requires a gradient, so graphs
// built entirely from frozen weights cost nothing beyond the forward values.
// Leaf gradients accumulate across Backward calls until ZeroGrad, which is
// what gradient accumulation relies on.
package autograd

import (
	"errors"

	"github.com/samcharles93/tuner/internal/tensor"
)

var (
	// ErrNoGradient is returned when Backward is called on a tensor that
	// does not depend on any trainable leaf.
	ErrNoGradient = errors.New("autograd: tensor does not require grad")
	// ErrNotScalar is returned when Backward is called on a non 1x1 tensor.
	ErrNotScalar = errors.New("autograd: backward requires a scalar tensor")
)

// Operation records how a Tensor was produced.
type Operation interface {
	Inputs() []*Tensor
	Backward(out *Tensor)
}

// Tensor is a node in the computation graph.
type Tensor struct {
	Value tensor.Mat
	// Grad is nil until a backward pass reaches this tensor.
	Grad *tensor.Mat

	requiresGrad bool
	op           Operation
}

// Param wraps m as a trainable leaf.
func Param(m tensor.Mat) *Tensor {
	return &Tensor{Value: m, requiresGrad: true}
}

// Const wraps m as a leaf that never receives a gradient.
func Const(m tensor.Mat) *Tensor {
	return &Tensor{Value: m}
}

// Scalar returns a 1x1 constant.
func Scalar(v float32) *Tensor {
	return Const(tensor.NewMatFromData(1, 1, []float32{v}))
}

// RequiresGrad reports whether gradients flow into t.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// SetRequiresGrad toggles trainability of a leaf. Freezing also drops any
// gradient already accumulated.
func (t *Tensor) SetRequiresGrad(v bool) {
	if t.op != nil {
		panic("autograd: SetRequiresGrad on non-leaf tensor")
	}
	t.requiresGrad = v
	if !v {
		t.Grad = nil
	}
}

// IsLeaf reports whether t was created directly rather than by an operation.
func (t *Tensor) IsLeaf() bool { return t.op == nil }

// Rows returns the number of rows.
func (t *Tensor) Rows() int { return t.Value.R }

// Cols returns the number of columns.
func (t *Tensor) Cols() int { return t.Value.C }

// Item returns the single element of a 1x1 tensor.
func (t *Tensor) Item() float32 {
	if t.Value.Len() != 1 {
		panic("autograd: Item on non-scalar tensor")
	}
	return t.Value.Data[0]
}

// ZeroGrad drops the accumulated gradient.
func (t *Tensor) ZeroGrad() { t.Grad = nil }

// Detach returns a constant sharing t's value.
func (t *Tensor) Detach() *Tensor { return Const(t.Value) }

func (t *Tensor) grad() *tensor.Mat {
	if t.Grad == nil {
		g := tensor.NewMat(t.Value.R, t.Value.C)
		t.Grad = &g
	}
	return t.Grad
}

func newResult(value tensor.Mat, op Operation, inputs ...*Tensor) *Tensor {
	out := &Tensor{Value: value}
	for _, in := range inputs {
		if in.requiresGrad {
			out.requiresGrad = true
			out.op = op
			break
		}
	}
	return out
}

// Backward propagates d(root)/d(leaf) into the Grad of every trainable leaf
// reachable from root. root must be a 1x1 tensor.
func Backward(root *Tensor) error {
	if !root.requiresGrad {
		return ErrNoGradient
	}
	if root.Value.Len() != 1 {
		return ErrNotScalar
	}
	order := topoSort(root)
	for _, n := range order {
		if !n.IsLeaf() {
			n.Grad = nil
		}
	}
	root.grad().Data[0] += 1
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if n.op == nil || n.Grad == nil {
			continue
		}
		n.op.Backward(n)
	}
	return nil
}

// topoSort returns every node reachable from root that requires grad,
// inputs before outputs.
func topoSort(root *Tensor) []*Tensor {
	type frame struct {
		t        *Tensor
		expanded bool
	}
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	stack := []frame{{t: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.expanded {
			order = append(order, f.t)
			continue
		}
		if visited[f.t] {
			continue
		}
		visited[f.t] = true
		stack = append(stack, frame{t: f.t, expanded: true})
		if f.t.op == nil {
			continue
		}
		for _, in := range f.t.op.Inputs() {
			if in.requiresGrad && !visited[in] {
				stack = append(stack, frame{t: in})
			}
		}
	}
	return order
}
