package task

import (
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestTypeJSON(t *testing.T) {
	t.Parallel()

	for _, typ := range Types() {
		data, err := json.Marshal(typ)
		if err != nil {
			t.Fatalf("marshal %v: %v", typ, err)
		}
		var back Type
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != typ {
			t.Fatalf("got %v want %v", back, typ)
		}
	}

	var typ Type
	if err := json.Unmarshal([]byte(`"essay"`), &typ); !errors.Is(err, ErrUnknownTaskType) {
		t.Fatalf("expected ErrUnknownTaskType, got %v", err)
	}
}

func TestLoadJSONL(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"id":"1","type":"choice","prompt":"Pick","choices":{"A":"a","B":"b","C":"c","D":"d"},"answer":"B"}`,
		``,
		`{"id":"2","type":"math","prompt":"2+2=?","answer":"Answer: 4"}`,
	}, "\n")
	recs, err := LoadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records: got %d want 2", len(recs))
	}
	if recs[0].Type != Choice || recs[0].Choices.B != "b" {
		t.Fatalf("unexpected first record %+v", recs[0])
	}
	if recs[1].Type != Math || recs[1].Choices != nil {
		t.Fatalf("unexpected second record %+v", recs[1])
	}
}

func TestLoadJSONLErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  error
		line  string
	}{
		{"unknown type", "{\"id\":\"1\",\"type\":\"poem\",\"prompt\":\"p\",\"answer\":\"a\"}", ErrUnknownTaskType, "line 1"},
		{"missing choices", "\n{\"id\":\"1\",\"type\":\"choice\",\"prompt\":\"p\",\"answer\":\"A\"}", ErrMissingField, "line 2"},
		{"missing answer", "{\"id\":\"1\",\"type\":\"math\",\"prompt\":\"p\"}", ErrMissingField, "line 1"},
	}
	for _, tc := range cases {
		_, err := LoadJSONL(strings.NewReader(tc.input))
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v want %v", tc.name, err, tc.want)
			continue
		}
		if !strings.Contains(err.Error(), tc.line) {
			t.Errorf("%s: error %q does not name %s", tc.name, err, tc.line)
		}
	}
}

func TestLoadEvalJSONLAllowsMissingAnswer(t *testing.T) {
	t.Parallel()

	recs, err := LoadEvalJSONL(strings.NewReader(`{"id":"1","type":"math","prompt":"p"}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records: got %d want 1", len(recs))
	}
}

func TestBatchType(t *testing.T) {
	t.Parallel()

	if _, err := (Batch{}).Type(); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("empty: got %v", err)
	}
	mixed := Batch{{Type: Math}, {Type: Choice}}
	if _, err := mixed.Type(); !errors.Is(err, ErrMixedBatchType) {
		t.Fatalf("mixed: got %v", err)
	}
	typ, err := Batch{{Type: CodeGenerate}, {Type: CodeGenerate}}.Type()
	if err != nil || typ != CodeGenerate {
		t.Fatalf("homogeneous: got %v, %v", typ, err)
	}
}

func records(n int) []Record {
	out := make([]Record, 0, n)
	types := Types()
	for i := 0; i < n; i++ {
		out = append(out, Record{ID: string(rune('a' + i)), Type: types[i%len(types)], Prompt: "p", Answer: "A"})
	}
	return out
}

func TestBatcherHomogeneousAndDeterministic(t *testing.T) {
	t.Parallel()

	recs := records(11)
	b := NewBatcher(recs, 2, 7, false)
	first := b.Epoch(0)
	if len(first) != b.Len() {
		t.Fatalf("len: got %d batches, Len() = %d", len(first), b.Len())
	}
	seen := 0
	for i, batch := range first {
		if err := batch.Validate(); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
		seen += len(batch)
	}
	if seen != len(recs) {
		t.Fatalf("records: got %d want %d", seen, len(recs))
	}

	again := NewBatcher(recs, 2, 7, false).Epoch(0)
	for i := range first {
		for j := range first[i] {
			if first[i][j].ID != again[i][j].ID {
				t.Fatalf("batch %d differs between runs", i)
			}
		}
	}
}

func TestBatcherDropLast(t *testing.T) {
	t.Parallel()

	b := NewBatcher(records(11), 2, 1, true)
	batches := b.Epoch(3)
	if len(batches) != b.Len() {
		t.Fatalf("got %d batches, Len() = %d", len(batches), b.Len())
	}
	for _, batch := range batches {
		if len(batch) != 2 {
			t.Fatalf("partial batch kept: %d records", len(batch))
		}
	}
}
