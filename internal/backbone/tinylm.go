package backbone

import (
	"context"
	"fmt"

	"github.com/samcharles93/tuner/internal/autograd"
	"github.com/samcharles93/tuner/internal/device"
	"github.com/samcharles93/tuner/internal/tensor"
)

// TinyLM is a small causal language model with Qwen-style parameter names.
//
// Each layer normalises its input, projects it through q_proj and v_proj,
// mixes v_proj over the visible prefix with a causal mean, gates the result
// with sigmoid(q_proj) and adds o_proj of that back onto the residual
// stream. The stack is followed by a final RMSNorm and an untied LM head.
type TinyLM struct {
	cfg    Config
	dev    device.Device
	embed  *autograd.Tensor
	layers []*tinyLayer
	norm   *autograd.Tensor
	lmHead *Linear
}

type tinyLayer struct {
	inputNorm *autograd.Tensor
	q, v, o   *Linear
}

// Option configures a TinyLM at construction.
type Option func(*options)

type options struct {
	dev  device.Device
	seed int64
}

// WithDevice places the model on d. Defaults to the host CPU.
func WithDevice(d device.Device) Option {
	return func(o *options) { o.dev = d }
}

// WithSeed sets the weight initialisation seed.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

func buildOptions(opts []Option) options {
	o := options{dev: device.Host{}, seed: 1}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewTinyLM builds a randomly initialised model. All parameters start
// trainable.
func NewTinyLM(cfg Config, opts ...Option) (*TinyLM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	std := float32(cfg.InitStd)
	if std <= 0 {
		std = 0.02
	}
	seed := o.seed
	next := func(r, c int) tensor.Mat {
		m := tensor.NewMat(r, c)
		tensor.FillNormal(&m, seed, std)
		seed++
		return m
	}
	ones := func(c int) tensor.Mat {
		m := tensor.NewMat(1, c)
		m.Fill(1)
		return m
	}

	h := cfg.HiddenSize
	weights := map[string]tensor.Mat{
		"model.embed_tokens.weight": next(cfg.VocabSize, h),
		"model.norm.weight":         ones(h),
		"lm_head.weight":            next(cfg.VocabSize, h),
	}
	for i := 0; i < cfg.NumLayers; i++ {
		p := layerPrefix(i)
		weights[p+"input_layernorm.weight"] = ones(h)
		weights[p+"self_attn.q_proj.weight"] = next(h, h)
		weights[p+"self_attn.v_proj.weight"] = next(h, h)
		weights[p+"self_attn.o_proj.weight"] = next(h, h)
	}
	return FromWeights(cfg, weights, opts...)
}

// FromWeights assembles a TinyLM from a state dict, as produced by
// StateDict or read back from an exported artifact.
func FromWeights(cfg Config, weights map[string]tensor.Mat, opts ...Option) (*TinyLM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	h := cfg.HiddenSize
	get := func(name string, r, c int) (*autograd.Tensor, error) {
		m, ok := weights[name]
		if !ok {
			return nil, fmt.Errorf("backbone: missing weight %s", name)
		}
		if m.R != r || m.C != c {
			return nil, fmt.Errorf("backbone: weight %s has shape [%d %d], want [%d %d]", name, m.R, m.C, r, c)
		}
		return autograd.Param(m), nil
	}
	linear := func(name string, r, c int) (*Linear, error) {
		w, err := get(name+".weight", r, c)
		if err != nil {
			return nil, err
		}
		return &Linear{Name: name, Weight: w}, nil
	}

	m := &TinyLM{cfg: cfg, dev: o.dev}
	var err error
	if m.embed, err = get("model.embed_tokens.weight", cfg.VocabSize, h); err != nil {
		return nil, err
	}
	if m.norm, err = get("model.norm.weight", 1, h); err != nil {
		return nil, err
	}
	if m.lmHead, err = linear("lm_head", cfg.VocabSize, h); err != nil {
		return nil, err
	}
	for i := 0; i < cfg.NumLayers; i++ {
		p := layerPrefix(i)
		l := &tinyLayer{}
		if l.inputNorm, err = get(p+"input_layernorm.weight", 1, h); err != nil {
			return nil, err
		}
		if l.q, err = linear(p+"self_attn.q_proj", h, h); err != nil {
			return nil, err
		}
		if l.v, err = linear(p+"self_attn.v_proj", h, h); err != nil {
			return nil, err
		}
		if l.o, err = linear(p+"self_attn.o_proj", h, h); err != nil {
			return nil, err
		}
		m.layers = append(m.layers, l)
	}
	return m, nil
}

func layerPrefix(i int) string {
	return fmt.Sprintf("model.layers.%d.", i)
}

func (m *TinyLM) Config() Config { return m.cfg }

// Device returns the device the model was placed on.
func (m *TinyLM) Device() device.Device { return m.dev }

// Parameters lists base weights in state-dict order. Adapter parameters are
// not included; they belong to whoever attached the delta.
func (m *TinyLM) Parameters() []NamedParam {
	out := []NamedParam{{Name: "model.embed_tokens.weight", Tensor: m.embed}}
	for i, l := range m.layers {
		p := layerPrefix(i)
		out = append(out,
			NamedParam{Name: p + "input_layernorm.weight", Tensor: l.inputNorm},
			NamedParam{Name: l.q.Name + ".weight", Tensor: l.q.Weight},
			NamedParam{Name: l.v.Name + ".weight", Tensor: l.v.Weight},
			NamedParam{Name: l.o.Name + ".weight", Tensor: l.o.Weight},
		)
	}
	return append(out,
		NamedParam{Name: "model.norm.weight", Tensor: m.norm},
		NamedParam{Name: "lm_head.weight", Tensor: m.lmHead.Weight},
	)
}

// Linears lists every projection that can carry a delta.
func (m *TinyLM) Linears() []*Linear {
	out := make([]*Linear, 0, 3*len(m.layers)+1)
	for _, l := range m.layers {
		out = append(out, l.q, l.v, l.o)
	}
	return append(out, m.lmHead)
}

// StateDict returns the current weight values keyed by name.
func (m *TinyLM) StateDict() map[string]tensor.Mat {
	out := make(map[string]tensor.Mat)
	for _, p := range m.Parameters() {
		out[p.Name] = p.Tensor.Value
	}
	return out
}

// Clone deep-copies every weight and its trainability flag.
func (m *TinyLM) Clone() *TinyLM {
	cp := func(t *autograd.Tensor) *autograd.Tensor {
		c := autograd.Param(t.Value.Clone())
		c.SetRequiresGrad(t.RequiresGrad())
		return c
	}
	cpLinear := func(l *Linear) *Linear {
		return &Linear{Name: l.Name, Weight: cp(l.Weight), Delta: l.Delta}
	}
	out := &TinyLM{
		cfg:    m.cfg,
		dev:    m.dev,
		embed:  cp(m.embed),
		norm:   cp(m.norm),
		lmHead: cpLinear(m.lmHead),
	}
	for _, l := range m.layers {
		out.layers = append(out.layers, &tinyLayer{
			inputNorm: cp(l.inputNorm),
			q:         cpLinear(l.q),
			v:         cpLinear(l.v),
			o:         cpLinear(l.o),
		})
	}
	return out
}

func (m *TinyLM) CloneModel() Adaptable { return m.Clone() }

// Forward runs the model over a padded batch.
func (m *TinyLM) Forward(ctx context.Context, in Input) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch, seqLen, err := checkInput(in, m.cfg.VocabSize)
	if err != nil {
		return nil, err
	}
	ids := flatten(in.IDs)
	mask := flatten(in.AttentionMask)
	eps := float32(m.cfg.RMSNormEps)

	x := autograd.Rows(m.embed, ids)
	var states []*autograd.Tensor
	if in.OutputHiddenStates {
		states = append(states, x)
	}
	for _, l := range m.layers {
		h := autograd.RMSNorm(x, l.inputNorm, eps)
		q := l.q.Forward(h, in.Train)
		v := l.v.Forward(h, in.Train)
		mixed := autograd.Mul(autograd.Sigmoid(q), autograd.CausalMean(v, batch, seqLen, mask))
		x = autograd.Add(x, l.o.Forward(mixed, in.Train))
		if in.OutputHiddenStates {
			states = append(states, x)
		}
	}
	final := autograd.RMSNorm(x, m.norm, eps)
	if in.OutputHiddenStates {
		states[len(states)-1] = final
	}

	out := &Output{
		Logits:       m.lmHead.Forward(final, in.Train),
		HiddenStates: states,
		Batch:        batch,
		SeqLen:       seqLen,
	}
	if in.Labels != nil {
		loss, err := autograd.CrossEntropy(out.Logits, ShiftLabels(in.Labels, seqLen), IgnoreIndex)
		if err != nil {
			return nil, fmt.Errorf("backbone: lm loss: %w", err)
		}
		out.Loss = loss
	}
	return out, nil
}
