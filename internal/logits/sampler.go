// Package logits turns next-token logits into a token id.
package logits

import (
	"math"
	"math/rand"
	"slices"
)

// Config configures a Sampler. Temperature <= 0 selects greedy decoding.
// TopK <= 0 keeps the whole vocabulary; TopP outside (0, 1) disables
// nucleus truncation.
type Config struct {
	Seed        int64
	Temperature float32
	TopK        int
	TopP        float32
}

// Sampler draws token ids from logits. It is not safe for concurrent use.
type Sampler struct {
	rng    *rand.Rand
	cfg    Config
	greedy bool

	cand []candidate
	prob []float64
}

type candidate struct {
	id int
	v  float32
}

func NewSampler(cfg Config) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Greedy reports whether the sampler always returns the argmax.
func (s *Sampler) Greedy() bool { return s.greedy || s.cfg.TopK == 1 }

// Sample picks one index from logits:
//
//  1. NaN logits are never chosen.
//  2. Greedy samplers return the argmax.
//  3. Otherwise logits are divided by the temperature, sorted, cut to
//     TopK, turned into probabilities and cut again at cumulative TopP.
//  4. A uniform draw selects from what is left.
func (s *Sampler) Sample(logits []float32) int {
	if len(logits) == 0 {
		return 0
	}
	if s.Greedy() {
		return Argmax(logits)
	}

	inv := 1 / s.cfg.Temperature
	s.cand = s.cand[:0]
	for i, v := range logits {
		if v != v {
			continue
		}
		s.cand = append(s.cand, candidate{id: i, v: v * inv})
	}
	if len(s.cand) == 0 {
		return 0
	}
	slices.SortStableFunc(s.cand, func(a, b candidate) int {
		switch {
		case a.v > b.v:
			return -1
		case a.v < b.v:
			return 1
		}
		return 0
	})
	cand := s.cand
	if k := s.cfg.TopK; k > 0 && k < len(cand) {
		cand = cand[:k]
	}

	if cap(s.prob) < len(cand) {
		s.prob = make([]float64, len(cand))
	}
	prob := s.prob[:len(cand)]
	maxv := float64(cand[0].v)
	var sum float64
	for i, c := range cand {
		prob[i] = math.Exp(float64(c.v) - maxv)
		sum += prob[i]
	}
	if sum == 0 || math.IsNaN(sum) {
		return cand[0].id
	}

	cut := len(prob)
	if s.cfg.TopP < 1 {
		var acc float64
		for i := range prob {
			acc += prob[i] / sum
			if acc >= float64(s.cfg.TopP) {
				cut = i + 1
				break
			}
		}
	}
	var kept float64
	for i := 0; i < cut; i++ {
		kept += prob[i]
	}

	r := s.rng.Float64() * kept
	var acc float64
	for i := 0; i < cut; i++ {
		acc += prob[i]
		if r < acc {
			return cand[i].id
		}
	}
	return cand[cut-1].id
}

// Argmax returns the index of the largest non-NaN value, or 0 if there is
// none.
func Argmax(x []float32) int {
	best := -1
	for i, v := range x {
		if v != v {
			continue
		}
		if best < 0 || v > x[best] {
			best = i
		}
	}
	return max(best, 0)
}
