package infer

import (
	"strings"

	"github.com/samcharles93/tuner/internal/tokenizer"
)

// Sanitize removes end-of-text markers and pad tokens that the decoder
// renders literally, then trims surrounding whitespace.
func Sanitize(text string) string {
	s := strings.ReplaceAll(text, tokenizer.PadToken, "")
	for _, token := range endTokens {
		s = strings.ReplaceAll(s, token, "")
	}
	return strings.TrimSpace(s)
}
