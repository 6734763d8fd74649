package tokenizer

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Special tokens of the byte-level tokenizer.
const (
	EndOfText = "<|endoftext|>"
	PadToken  = "<|pad|>"
)

// NewByteLevel builds a merge-free byte-level BPE tokenizer: ids 0..255 are
// raw bytes, followed by <|endoftext|> and <|pad|>. It is used to train a
// model from scratch when no pretrained tokenizer is given.
func NewByteLevel() (*HFTokenizer, error) {
	tokJSON, tokConfig, err := ByteLevelFiles()
	if err != nil {
		return nil, err
	}
	return LoadHFTokenizerBytes(tokJSON, tokConfig)
}

// ByteLevelFiles returns tokenizer.json and tokenizer_config.json for the
// byte-level tokenizer.
func ByteLevelFiles() (tokJSON, tokConfig []byte, err error) {
	enc, _ := bytesToUnicode()
	vocab := make(map[string]int, 256)
	for b := 0; b < 256; b++ {
		vocab[enc[byte(b)]] = b
	}
	doc := map[string]any{
		"version": "1.0",
		"model": map[string]any{
			"type":   "BPE",
			"vocab":  vocab,
			"merges": []string{},
		},
		"pre_tokenizer": map[string]any{"type": "ByteLevel"},
		"added_tokens": []hfAddedToken{
			{ID: 256, Content: EndOfText, Special: true},
			{ID: 257, Content: PadToken, Special: true},
		},
	}
	if tokJSON, err = json.MarshalIndent(doc, "", "  "); err != nil {
		return nil, nil, fmt.Errorf("tokenizer: marshal byte-level vocab: %w", err)
	}
	tokConfig, err = json.MarshalIndent(map[string]any{
		"add_bos_token": false,
		"add_eos_token": false,
		"eos_token":     EndOfText,
		"pad_token":     PadToken,
	}, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("tokenizer: marshal byte-level config: %w", err)
	}
	return tokJSON, tokConfig, nil
}
