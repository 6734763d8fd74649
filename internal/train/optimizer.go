package train

import (
	"math"

	"github.com/samcharles93/tuner/internal/autograd"
	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/tensor"
)

// AdamW is Adam with decoupled weight decay. Parameters whose Grad is nil
// at Step are left untouched.
type AdamW struct {
	params       []backbone.NamedParam
	lr           float64
	beta1, beta2 float64
	eps          float64
	weightDecay  float64
	t            int
	m, v         map[*autograd.Tensor][]float64
}

func NewAdamW(params []backbone.NamedParam, cfg Config) *AdamW {
	return &AdamW{
		params:      params,
		lr:          cfg.LearningRate,
		beta1:       cfg.Beta1,
		beta2:       cfg.Beta2,
		eps:         cfg.Epsilon,
		weightDecay: cfg.WeightDecay,
		m:           make(map[*autograd.Tensor][]float64),
		v:           make(map[*autograd.Tensor][]float64),
	}
}

func (o *AdamW) LR() float64 { return o.lr }

func (o *AdamW) SetLR(lr float64) { o.lr = lr }

// Steps returns how many times Step has run.
func (o *AdamW) Steps() int { return o.t }

func (o *AdamW) Step() {
	o.t++
	bc1 := 1 - math.Pow(o.beta1, float64(o.t))
	bc2 := 1 - math.Pow(o.beta2, float64(o.t))
	for _, p := range o.params {
		g := p.Tensor.Grad
		if g == nil {
			continue
		}
		w := p.Tensor.Value.Data
		m, ok := o.m[p.Tensor]
		if !ok {
			m = make([]float64, len(w))
			o.m[p.Tensor] = m
			o.v[p.Tensor] = make([]float64, len(w))
		}
		v := o.v[p.Tensor]
		for i, gi32 := range g.Data {
			gi := float64(gi32)
			wi := float64(w[i]) * (1 - o.lr*o.weightDecay)
			m[i] = o.beta1*m[i] + (1-o.beta1)*gi
			v[i] = o.beta2*v[i] + (1-o.beta2)*gi*gi
			wi -= o.lr * (m[i] / bc1) / (math.Sqrt(v[i]/bc2) + o.eps)
			w[i] = float32(wi)
		}
	}
}

// ZeroGrad drops every gradient so the next backward pass starts fresh.
func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		p.Tensor.ZeroGrad()
	}
}

// ClipGradNorm scales all gradients so their global L2 norm is at most
// maxNorm and returns the norm before clipping.
func ClipGradNorm(params []backbone.NamedParam, maxNorm float64) float64 {
	norm := GradNorm(params)
	if maxNorm <= 0 || norm <= maxNorm || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return norm
	}
	coef := float32(maxNorm / (norm + 1e-6))
	for _, p := range params {
		if p.Tensor.Grad != nil {
			tensor.Scale(p.Tensor.Grad.Data, coef)
		}
	}
	return norm
}

// GradNorm is the global L2 norm over every non-nil gradient.
func GradNorm(params []backbone.NamedParam) float64 {
	var sum float64
	for _, p := range params {
		if p.Tensor.Grad != nil {
			sum += tensor.SquaredNorm(p.Tensor.Grad.Data)
		}
	}
	return math.Sqrt(sum)
}

// NonFiniteGrads names the parameters whose gradient holds a NaN or Inf.
func NonFiniteGrads(params []backbone.NamedParam) []string {
	var out []string
	for _, p := range params {
		if p.Tensor.Grad != nil && !p.Tensor.Grad.AllFinite() {
			out = append(out, p.Name)
		}
	}
	return out
}
