package backbone

import (
	"context"
	"errors"
	"math"
	"testing"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.VocabSize = 11
	cfg.HiddenSize = 8
	cfg.PadTokenID = 0
	return cfg
}

func newTestModel(t *testing.T) *TinyLM {
	t.Helper()
	m, err := NewTinyLM(testConfig(), WithSeed(3))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return m
}

func TestForwardShapes(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	out, err := m.Forward(context.Background(), Input{
		IDs:                [][]int{{1, 2, 3}, {4, 5, 6}},
		OutputHiddenStates: true,
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if out.Logits.Rows() != 6 || out.Logits.Cols() != 11 {
		t.Fatalf("logits shape: got [%d %d]", out.Logits.Rows(), out.Logits.Cols())
	}
	if got, want := len(out.HiddenStates), testConfig().NumLayers+1; got != want {
		t.Fatalf("hidden states: got %d want %d", got, want)
	}
	if out.LastHidden().Cols() != 8 {
		t.Fatalf("hidden width: got %d", out.LastHidden().Cols())
	}
	if out.Loss != nil {
		t.Fatal("expected no loss without labels")
	}
}

func TestForwardPaddingDoesNotLeakIntoRealPositions(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	ctx := context.Background()
	short, err := m.Forward(ctx, Input{IDs: [][]int{{3, 4}}})
	if err != nil {
		t.Fatalf("forward short: %v", err)
	}
	padded, err := m.Forward(ctx, Input{
		IDs:           [][]int{{3, 4, 0, 0}},
		AttentionMask: [][]int{{1, 1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("forward padded: %v", err)
	}
	for r := 0; r < 2; r++ {
		a := short.Logits.Value.Row(r)
		b := padded.Logits.Value.Row(r)
		for j := range a {
			if math.Abs(float64(a[j]-b[j])) > 1e-5 {
				t.Fatalf("row %d col %d: got %v want %v", r, j, b[j], a[j])
			}
		}
	}
}

func TestForwardLossIsFiniteAndPositive(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	out, err := m.Forward(context.Background(), Input{
		IDs:    [][]int{{1, 2, 3, 4}},
		Labels: [][]int{{IgnoreIndex, IgnoreIndex, 3, 4}},
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	loss := float64(out.Loss.Item())
	if math.IsNaN(loss) || math.IsInf(loss, 0) || loss <= 0 {
		t.Fatalf("expected finite positive loss, got %v", loss)
	}
}

func TestShiftLabels(t *testing.T) {
	t.Parallel()

	got := ShiftLabels([][]int{{IgnoreIndex, 7, 8}, {1, 2, IgnoreIndex}}, 3)
	want := []int{7, 8, IgnoreIndex, 2, IgnoreIndex, IgnoreIndex}
	if len(got) != len(want) {
		t.Fatalf("length: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("target %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	ctx := context.Background()
	cases := []struct {
		name string
		in   Input
		want error
	}{
		{"empty", Input{}, ErrEmptyInput},
		{"ragged", Input{IDs: [][]int{{1, 2}, {1}}}, ErrRaggedInput},
		{"range", Input{IDs: [][]int{{1, 99}}}, ErrTokenRange},
		{"mask", Input{IDs: [][]int{{1, 2}}, AttentionMask: [][]int{{1}}}, ErrShapeMismatch},
	}
	for _, tc := range cases {
		if _, err := m.Forward(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m.Parameters()[1].Tensor.SetRequiresGrad(false)
	c := m.Clone()
	c.Parameters()[0].Tensor.Value.Data[0] += 1
	if m.Parameters()[0].Tensor.Value.Data[0] == c.Parameters()[0].Tensor.Value.Data[0] {
		t.Fatal("clone shares weight storage with original")
	}
	if c.Parameters()[1].Tensor.RequiresGrad() {
		t.Fatal("clone should keep frozen flag")
	}
}

func TestFromWeightsRoundTrip(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	back, err := FromWeights(m.Config(), m.StateDict())
	if err != nil {
		t.Fatalf("from weights: %v", err)
	}
	if len(back.Parameters()) != len(m.Parameters()) {
		t.Fatalf("param count: got %d want %d", len(back.Parameters()), len(m.Parameters()))
	}

	sd := m.StateDict()
	delete(sd, "lm_head.weight")
	if _, err := FromWeights(m.Config(), sd); err == nil {
		t.Fatal("expected error for missing weight")
	}
}

func TestGenerateStopsOnStopToken(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	calls := 0
	sample := func(logits []float32) int {
		calls++
		if calls == 3 {
			return 10
		}
		return 5
	}
	out, err := Generate(context.Background(), m, []int{1, 2}, 8, sample, func(id int) bool { return id == 10 })
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 2 || out[0] != 5 || out[1] != 5 {
		t.Fatalf("unexpected output %v", out)
	}
}

func TestGenerateHonoursContext(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Generate(ctx, m, []int{1}, 4, func([]float32) int { return 1 }, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
