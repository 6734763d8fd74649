package infer

import (
	"slices"

	"github.com/samcharles93/tuner/internal/tokenizer"
)

var endTokens = []string{
	"<|endoftext|>",
	"<|end_of_text|>",
	"<|im_end|>",
	"<|eot_id|>",
	"</s>",
}

// BuildStopTokens returns the EOS id plus any conventional end-of-turn
// token present in the vocabulary.
func BuildStopTokens(tok tokenizer.Tokenizer) []int {
	var stop []int
	if eos := tok.EOSID(); eos >= 0 {
		stop = append(stop, eos)
	}
	if t, ok := tok.(interface{ TokenID(string) (int, bool) }); ok {
		for _, s := range endTokens {
			if id, ok := t.TokenID(s); ok && !slices.Contains(stop, id) {
				stop = append(stop, id)
			}
		}
	}
	return stop
}
