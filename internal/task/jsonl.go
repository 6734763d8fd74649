package task

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

const maxLineSize = 16 << 20

// LoadJSONL decodes one record per non-blank line. Every record must carry
// an answer.
func LoadJSONL(r io.Reader) ([]Record, error) {
	return decodeJSONL(r, true)
}

// LoadEvalJSONL is LoadJSONL for evaluation sets, where answers are
// optional.
func LoadEvalJSONL(r io.Reader) ([]Record, error) {
	return decodeJSONL(r, false)
}

// LoadJSONLFile opens path and decodes it with LoadJSONL.
func LoadJSONLFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := LoadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

func decodeJSONL(r io.Reader, requireAnswer bool) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var out []Record
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := rec.Validate(requireAnswer); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}
	return out, nil
}
