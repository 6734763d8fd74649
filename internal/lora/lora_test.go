package lora

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/samcharles93/tuner/internal/autograd"
	"github.com/samcharles93/tuner/internal/backbone"
)

func newBase(t *testing.T) *backbone.TinyLM {
	t.Helper()
	cfg := backbone.DefaultConfig()
	cfg.VocabSize = 13
	cfg.HiddenSize = 8
	m, err := backbone.NewTinyLM(cfg, backbone.WithSeed(9))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return m
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Rank = 2
	cfg.Alpha = 4
	cfg.Dropout = 0
	return cfg
}

func logitsOf(t *testing.T, m backbone.Model, ids []int) []float32 {
	t.Helper()
	out, err := m.Forward(context.Background(), backbone.Input{IDs: [][]int{ids}})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	return append([]float32(nil), out.Logits.Value.Data...)
}

func assertClose(t *testing.T, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length: got %d want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("index %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestAttachTargetsQueryAndValue(t *testing.T) {
	t.Parallel()

	base := newBase(t)
	ad, err := Attach(base, smallConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	names := ad.Adapters()
	if got, want := len(names), 2*2*base.Config().NumLayers; got != want {
		t.Fatalf("adapter params: got %d want %d", got, want)
	}
	for _, p := range names {
		if !strings.Contains(p.Name, "q_proj.lora_") && !strings.Contains(p.Name, "v_proj.lora_") {
			t.Fatalf("unexpected adapter %s", p.Name)
		}
	}
	trainable := backbone.Trainable(ad.Parameters())
	if len(trainable) != len(names) {
		t.Fatalf("trainable: got %d want %d", len(trainable), len(names))
	}
	for _, p := range base.Parameters() {
		if !p.Tensor.RequiresGrad() {
			t.Fatalf("attach froze the caller's model: %s", p.Name)
		}
	}
}

func TestAttachStartsAsIdentity(t *testing.T) {
	t.Parallel()

	base := newBase(t)
	ad, err := Attach(base, smallConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	ids := []int{1, 2, 3, 4}
	assertClose(t, logitsOf(t, ad, ids), logitsOf(t, base, ids), 1e-6)
}

func TestMergeMatchesAdaptedForward(t *testing.T) {
	t.Parallel()

	ad, err := Attach(newBase(t), smallConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	for i, p := range ad.Adapters() {
		for j := range p.Tensor.Value.Data {
			p.Tensor.Value.Data[j] = float32((i+j)%5-2) * 0.05
		}
	}

	ids := []int{5, 6, 7}
	merged := ad.Merge()
	for _, l := range merged.Linears() {
		if l.Delta != nil {
			t.Fatalf("merged linear %s still carries a delta", l.Name)
		}
	}
	assertClose(t, logitsOf(t, merged, ids), logitsOf(t, ad, ids), 1e-4)
	if len(merged.Parameters()) != len(newBase(t).Parameters()) {
		t.Fatal("merged model should have no extra parameters")
	}
}

func TestGradientsReachAdaptersOnly(t *testing.T) {
	t.Parallel()

	ad, err := Attach(newBase(t), smallConfig())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	out, err := ad.Forward(context.Background(), backbone.Input{
		IDs:    [][]int{{1, 2, 3}},
		Labels: [][]int{{1, 2, 3}},
		Train:  true,
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := autograd.Backward(out.Loss); err != nil {
		t.Fatalf("backward: %v", err)
	}
	for _, p := range ad.Parameters() {
		isAdapter := strings.Contains(p.Name, ".lora_")
		if isAdapter && p.Tensor.Grad == nil {
			t.Fatalf("%s: expected gradient", p.Name)
		}
		if !isAdapter && p.Tensor.Grad != nil {
			t.Fatalf("%s: base weight received gradient", p.Name)
		}
	}
}

func TestAttachRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"rank", func(c *Config) { c.Rank = 0 }},
		{"alpha", func(c *Config) { c.Alpha = 0 }},
		{"dropout", func(c *Config) { c.Dropout = 1 }},
		{"targets", func(c *Config) { c.TargetModules = nil }},
		{"nomatch", func(c *Config) { c.TargetModules = []string{"k_proj"} }},
	}
	for _, tc := range cases {
		cfg := smallConfig()
		tc.mod(&cfg)
		if _, err := Attach(newBase(t), cfg); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestConfigMatches(t *testing.T) {
	t.Parallel()

	cfg := Config{TargetModules: []string{"q_proj", "self_attn.o_proj"}}
	cases := map[string]bool{
		"model.layers.0.self_attn.q_proj": true,
		"model.layers.1.self_attn.o_proj": true,
		"model.layers.1.self_attn.v_proj": false,
		"lm_head":                         false,
	}
	for name, want := range cases {
		if got := cfg.matches(name); got != want {
			t.Errorf("%s: got %v want %v", name, got, want)
		}
	}
}
