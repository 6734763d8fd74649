// Package lora attaches trainable low-rank updates to the linear layers of
// a backbone and folds them back in once training is done.
package lora

import (
	"context"
	"math"
	"math/rand"

	"github.com/samcharles93/tuner/internal/autograd"
	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/tensor"
)

// delta computes scale * B(A(dropout(x))) for one targeted linear.
type delta struct {
	a, b    *autograd.Tensor
	scale   float32
	dropout float32
	rng     *rand.Rand
}

func (d *delta) Forward(x *autograd.Tensor, train bool) *autograd.Tensor {
	if train {
		x = autograd.Dropout(x, d.dropout, d.rng)
	}
	return autograd.Scale(autograd.MatMulT(autograd.MatMulT(x, d.a), d.b), d.scale)
}

// Adapted is a backbone with LoRA deltas attached. The base weights are a
// private frozen copy; the model passed to Attach is never modified.
type Adapted struct {
	base     backbone.Adaptable
	cfg      Config
	adapters []backbone.NamedParam
}

// Attach clones m, freezes every base parameter and adds a rank-r delta to
// each linear layer selected by cfg. A starts uniform in
// (-1/sqrt(in), 1/sqrt(in)) and B starts at zero, so the adapted model
// initially computes exactly what m does.
func Attach(m backbone.Adaptable, cfg Config) (*Adapted, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := m.CloneModel()
	for _, p := range base.Parameters() {
		p.Tensor.SetRequiresGrad(false)
	}

	ad := &Adapted{base: base, cfg: cfg}
	seed := cfg.Seed
	for _, l := range base.Linears() {
		if !cfg.matches(l.Name) {
			continue
		}
		a := tensor.NewMat(cfg.Rank, l.In())
		tensor.FillRand(&a, seed, float32(1/math.Sqrt(float64(l.In()))))
		d := &delta{
			a:       autograd.Param(a),
			b:       autograd.Param(tensor.NewMat(l.Out(), cfg.Rank)),
			scale:   cfg.Scaling(),
			dropout: float32(cfg.Dropout),
			rng:     rand.New(rand.NewSource(seed + 1)),
		}
		seed += 2
		l.Delta = d
		ad.adapters = append(ad.adapters,
			backbone.NamedParam{Name: l.Name + ".lora_A.weight", Tensor: d.a},
			backbone.NamedParam{Name: l.Name + ".lora_B.weight", Tensor: d.b},
		)
	}
	if len(ad.adapters) == 0 {
		return nil, ErrNoTargets
	}
	return ad, nil
}

func (a *Adapted) Config() backbone.Config { return a.base.Config() }

func (a *Adapted) Forward(ctx context.Context, in backbone.Input) (*backbone.Output, error) {
	return a.base.Forward(ctx, in)
}

// Parameters lists the frozen base weights followed by the adapter
// matrices.
func (a *Adapted) Parameters() []backbone.NamedParam {
	return append(a.base.Parameters(), a.adapters...)
}

// Adapters lists only the lora_A / lora_B matrices.
func (a *Adapted) Adapters() []backbone.NamedParam {
	return append([]backbone.NamedParam(nil), a.adapters...)
}

func (a *Adapted) LoRAConfig() Config { return a.cfg }

// Merge folds W += scale * B·A into a copy of every adapted weight and
// returns a plain backbone with no deltas attached. a remains usable.
func (a *Adapted) Merge() backbone.Adaptable {
	merged := a.base.CloneModel()
	src := a.base.Linears()
	for i, l := range merged.Linears() {
		d, ok := src[i].Delta.(*delta)
		if !ok {
			continue
		}
		tensor.AddMatMul(&l.Weight.Value, &d.b.Value, &d.a.Value, d.scale)
		l.Delta = nil
	}
	return merged
}
