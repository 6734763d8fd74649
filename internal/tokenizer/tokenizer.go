// Package tokenizer turns text into token ids for the backbone and back.
package tokenizer

// Tokenizer is what the training core needs from a tokenizer.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	EOSID() int
	// PadID is the id used to fill padded positions. It may equal EOSID.
	PadID() int
	VocabSize() int
}

// EncodeOptions controls batch encoding. A MaxLength of zero disables
// truncation. Truncation keeps the leading tokens.
type EncodeOptions struct {
	MaxLength int
	Padding   bool
}

// Encoding is a batch of token sequences. When padded, every row of IDs has
// the same length and AttentionMask marks real positions with 1.
type Encoding struct {
	IDs           [][]int
	AttentionMask [][]int
	Lengths       []int
}

// Truncate returns the first maxLen ids, or ids unchanged when maxLen <= 0.
func Truncate(ids []int, maxLen int) []int {
	if maxLen > 0 && len(ids) > maxLen {
		return ids[:maxLen]
	}
	return ids
}

// EncodeBatch encodes texts with the given truncation and padding policy.
func EncodeBatch(tok Tokenizer, texts []string, opts EncodeOptions) (*Encoding, error) {
	seqs := make([][]int, len(texts))
	for i, text := range texts {
		ids, err := tok.Encode(text)
		if err != nil {
			return nil, err
		}
		seqs[i] = Truncate(ids, opts.MaxLength)
	}
	if opts.Padding {
		return Pad(seqs, tok.PadID()), nil
	}
	enc := &Encoding{IDs: seqs, AttentionMask: make([][]int, len(seqs)), Lengths: make([]int, len(seqs))}
	for i, s := range seqs {
		enc.Lengths[i] = len(s)
		enc.AttentionMask[i] = ones(len(s))
	}
	return enc, nil
}

// Pad right-pads seqs to the longest length with padID. The mask is built
// from each sequence's length, so a real token that happens to equal padID
// keeps mask 1.
func Pad(seqs [][]int, padID int) *Encoding {
	width := 0
	for _, s := range seqs {
		width = max(width, len(s))
	}
	enc := &Encoding{
		IDs:           make([][]int, len(seqs)),
		AttentionMask: make([][]int, len(seqs)),
		Lengths:       make([]int, len(seqs)),
	}
	for i, s := range seqs {
		row := make([]int, width)
		mask := make([]int, width)
		copy(row, s)
		for j := range row {
			if j < len(s) {
				mask[j] = 1
			} else {
				row[j] = padID
			}
		}
		enc.IDs[i] = row
		enc.AttentionMask[i] = mask
		enc.Lengths[i] = len(s)
	}
	return enc
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
