package backbone

import (
	"context"
)

// SampleFunc picks the next token from a logits row. The slice is owned by
// the callee and may be modified.
type SampleFunc func(logits []float32) int

// Generate decodes up to maxNew tokens after prompt, one forward pass per
// token. Decoding stops early when stop reports true for a sampled id; that
// id is not included in the result.
func Generate(ctx context.Context, m Model, prompt []int, maxNew int, sample SampleFunc, stop func(id int) bool) ([]int, error) {
	if len(prompt) == 0 {
		return nil, ErrEmptyInput
	}
	ids := append([]int(nil), prompt...)
	out := make([]int, 0, maxNew)
	for range maxNew {
		res, err := m.Forward(ctx, Input{IDs: [][]int{ids}})
		if err != nil {
			return out, err
		}
		last := append([]float32(nil), res.Logits.Value.Row(res.SeqLen-1)...)
		next := sample(last)
		if stop != nil && stop(next) {
			break
		}
		ids = append(ids, next)
		out = append(out, next)
	}
	return out, nil
}
