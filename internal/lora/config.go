package lora

import (
	"errors"
	"fmt"
	"slices"
)

var ErrNoTargets = errors.New("lora: no linear layer matched the target modules")

// Config selects the projections to adapt and the shape of the update.
type Config struct {
	Rank          int      `yaml:"r" json:"r"`
	Alpha         float64  `yaml:"lora_alpha" json:"lora_alpha"`
	Dropout       float64  `yaml:"lora_dropout" json:"lora_dropout"`
	TargetModules []string `yaml:"target_modules" json:"target_modules"`
	Seed          int64    `yaml:"seed" json:"seed"`
}

// DefaultConfig adapts the query and value projections with rank 16.
func DefaultConfig() Config {
	return Config{
		Rank:          16,
		Alpha:         32,
		Dropout:       0.05,
		TargetModules: []string{"q_proj", "v_proj"},
		Seed:          42,
	}
}

func (c Config) Validate() error {
	if c.Rank <= 0 {
		return fmt.Errorf("lora: rank must be positive, got %d", c.Rank)
	}
	if c.Alpha <= 0 {
		return fmt.Errorf("lora: alpha must be positive, got %g", c.Alpha)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("lora: dropout must be in [0, 1), got %g", c.Dropout)
	}
	if len(c.TargetModules) == 0 {
		return errors.New("lora: target_modules is empty")
	}
	return nil
}

// Scaling is the factor applied to B·A.
func (c Config) Scaling() float32 {
	return float32(c.Alpha / float64(c.Rank))
}

// matches reports whether a linear named like
// "model.layers.0.self_attn.q_proj" is targeted. A target matches the last
// path segment or, when it contains a dot, any suffix of the name.
func (c Config) matches(name string) bool {
	leaf := name
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			leaf = name[i+1:]
			break
		}
	}
	if slices.Contains(c.TargetModules, leaf) {
		return true
	}
	for _, t := range c.TargetModules {
		if len(t) < len(name) && name[len(name)-len(t)-1] == '.' && name[len(name)-len(t):] == t {
			return true
		}
	}
	return false
}
