package main

import (
	"fmt"
	"strings"

	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/device"
	"github.com/samcharles93/tuner/internal/export"
	"github.com/samcharles93/tuner/internal/head"
	"github.com/samcharles93/tuner/internal/tokenizer"
)

// Salts separating the random streams of each component. TinyLM and LoRA
// draw from seed, seed+1, ... so the salts live in the high bits.
const (
	headSeedSalt int64 = 0x5eed << 32
	loraSeedSalt int64 = 0x10a << 32
)

// componentSeeds derives the backbone, head and adapter seeds from one run
// seed.
func componentSeeds(seed int64) (model, choice, adapter int64) {
	return seed, seed ^ headSeedSalt, seed ^ loraSeedSalt
}

// loadTokenizer reads tokenizer.json from dir, or builds the byte-level
// tokenizer when dir is empty.
func loadTokenizer(dir string) (*tokenizer.HFTokenizer, error) {
	if strings.TrimSpace(dir) == "" {
		return tokenizer.NewByteLevel()
	}
	tok, err := tokenizer.LoadHFTokenizerDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer from %s: %w", dir, err)
	}
	return tok, nil
}

// freshModel builds an untrained backbone and head sized to tok.
func freshModel(cfg backbone.Config, tok tokenizer.Tokenizer, seed int64, dev device.Device) (*backbone.TinyLM, *head.Linear, error) {
	cfg.VocabSize = tok.VocabSize()
	cfg.EOSTokenID = tok.EOSID()
	cfg.PadTokenID = tok.PadID()
	if cfg.ModelType == "" {
		cfg.ModelType = backbone.ModelType
	}
	modelSeed, headSeed, _ := componentSeeds(seed)
	m, err := backbone.NewTinyLM(cfg, backbone.WithSeed(modelSeed), backbone.WithDevice(dev))
	if err != nil {
		return nil, nil, err
	}
	return m, head.New(cfg.HiddenSize, headSeed), nil
}

// loadArtifact reads a model directory onto dev.
func loadArtifact(dir string, dev device.Device) (*export.Loaded, error) {
	if err := requireDir("model", dir); err != nil {
		return nil, err
	}
	return export.Load(dir, backbone.WithDevice(dev))
}
