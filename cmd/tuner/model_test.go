package main

import (
	"slices"
	"testing"

	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/device"
	"github.com/samcharles93/tuner/internal/head"
)

func TestComponentSeedsAreApart(t *testing.T) {
	t.Parallel()

	for _, seed := range []int64{0, 1, 42, -7} {
		model, choice, adapter := componentSeeds(seed)
		if model != seed {
			t.Fatalf("seed %d: model seed %d, expected the run seed", seed, model)
		}
		// Each component draws a run of consecutive seeds from its start.
		const window = 1 << 20
		pairs := [][2]int64{{model, choice}, {model, adapter}, {choice, adapter}}
		for _, p := range pairs {
			d := p[0] - p[1]
			if d < 0 {
				d = -d
			}
			if d < window {
				t.Fatalf("seed %d: streams %d and %d overlap", seed, p[0], p[1])
			}
		}
	}
}

func TestFreshModelUsesDerivedHeadSeed(t *testing.T) {
	t.Parallel()

	tok, err := loadTokenizer("")
	if err != nil {
		t.Fatalf("tokenizer: %v", err)
	}
	cfg := backbone.DefaultConfig()
	cfg.HiddenSize = 8
	cfg.NumLayers = 1
	const seed = 42
	_, h, err := freshModel(cfg, tok, seed, device.Host{})
	if err != nil {
		t.Fatalf("fresh model: %v", err)
	}
	_, choice, _ := componentSeeds(seed)
	want := head.New(cfg.HiddenSize, choice)
	if !slices.Equal(h.Weight.Value.Data, want.Weight.Value.Data) {
		t.Fatal("head weights do not come from the derived head seed")
	}
	if slices.Equal(h.Weight.Value.Data, head.New(cfg.HiddenSize, seed+1).Weight.Value.Data) {
		t.Fatal("head weights still come from seed+1")
	}
}
