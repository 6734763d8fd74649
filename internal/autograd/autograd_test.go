package autograd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/samcharles93/tuner/internal/tensor"
)

func randParam(r, c int, seed int64) *Tensor {
	m := tensor.NewMat(r, c)
	tensor.FillRand(&m, seed, 1)
	return Param(m)
}

// numericGrad checks the analytic gradient of f with respect to p against
// central differences.
func numericGrad(t *testing.T, name string, p *Tensor, f func() *Tensor) {
	t.Helper()

	p.ZeroGrad()
	if err := Backward(f()); err != nil {
		t.Fatalf("%s: backward: %v", name, err)
	}
	analytic := p.Grad.Clone()

	const h = 1e-2
	for i := range p.Value.Data {
		orig := p.Value.Data[i]
		p.Value.Data[i] = orig + h
		up := float64(f().Item())
		p.Value.Data[i] = orig - h
		down := float64(f().Item())
		p.Value.Data[i] = orig
		want := (up - down) / (2 * h)
		got := float64(analytic.Data[i])
		if math.Abs(got-want) > 2e-2*math.Max(1, math.Abs(want)) {
			t.Fatalf("%s: grad[%d]: got %f want %f", name, i, got, want)
		}
	}
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	t.Parallel()

	x := randParam(6, 4, 1)
	w := randParam(3, 4, 2)
	norm := randParam(1, 4, 3)
	bias := randParam(1, 3, 4)
	mask := []int{1, 1, 0, 1, 1, 0}
	targets := []int{0, 2, -100, 1, 0, -100}

	f := func() *Tensor {
		h := RMSNorm(x, norm, 1e-6)
		h = CausalMean(h, 2, 3, mask)
		h = Mul(Sigmoid(h), h)
		logits := AddRow(MatMulT(h, w), bias)
		loss, err := CrossEntropy(Scale(logits, 1.5), targets, -100)
		if err != nil {
			t.Fatalf("cross entropy: %v", err)
		}
		return loss
	}

	numericGrad(t, "x", x, f)
	numericGrad(t, "w", w, f)
	numericGrad(t, "norm", norm, f)
	numericGrad(t, "bias", bias, f)
}

func TestRowsGradientScatters(t *testing.T) {
	t.Parallel()

	emb := randParam(5, 2, 9)
	out := Rows(emb, []int{1, 3, 1})
	loss, err := CrossEntropy(out, []int{0, 1, 0}, -100)
	if err != nil {
		t.Fatalf("cross entropy: %v", err)
	}
	if err := Backward(loss); err != nil {
		t.Fatalf("backward: %v", err)
	}
	for _, r := range []int{0, 2, 4} {
		for _, g := range emb.Grad.Row(r) {
			if g != 0 {
				t.Fatalf("row %d received gradient %v", r, g)
			}
		}
	}
}

func TestFrozenLeafGetsNoGradient(t *testing.T) {
	t.Parallel()

	frozen := randParam(2, 3, 1)
	frozen.SetRequiresGrad(false)
	trainable := randParam(2, 3, 2)

	loss, err := CrossEntropy(Add(frozen, trainable), []int{0, 1}, -100)
	if err != nil {
		t.Fatalf("cross entropy: %v", err)
	}
	if err := Backward(loss); err != nil {
		t.Fatalf("backward: %v", err)
	}
	if frozen.Grad != nil {
		t.Fatal("expected frozen leaf to have nil grad")
	}
	if trainable.Grad == nil {
		t.Fatal("expected trainable leaf to have a grad")
	}
}

func TestGradientsAccumulateAcrossBackwardCalls(t *testing.T) {
	t.Parallel()

	p := randParam(1, 3, 4)
	run := func() {
		loss, err := CrossEntropy(p, []int{2}, -100)
		if err != nil {
			t.Fatalf("cross entropy: %v", err)
		}
		if err := Backward(loss); err != nil {
			t.Fatalf("backward: %v", err)
		}
	}
	run()
	once := p.Grad.Clone()
	run()
	for i := range once.Data {
		if d := math.Abs(float64(p.Grad.Data[i] - 2*once.Data[i])); d > 1e-6 {
			t.Fatalf("grad[%d]: got %v want %v", i, p.Grad.Data[i], 2*once.Data[i])
		}
	}
}

func TestBackwardRejectsConstantsAndVectors(t *testing.T) {
	t.Parallel()

	if err := Backward(Scalar(1)); err != ErrNoGradient {
		t.Fatalf("expected ErrNoGradient, got %v", err)
	}
	if err := Backward(randParam(1, 2, 1)); err != ErrNotScalar {
		t.Fatalf("expected ErrNotScalar, got %v", err)
	}
}

func TestNanToNumReplacesNonFinite(t *testing.T) {
	t.Parallel()

	m := tensor.NewMatFromData(1, 4, []float32{
		float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1)), 2,
	})
	p := Param(m)
	out := NanToNum(p, 0, 1e4, -1e4)
	want := []float32{0, 1e4, -1e4, 2}
	for i, v := range want {
		if out.Value.Data[i] != v {
			t.Fatalf("out[%d]: got %v want %v", i, out.Value.Data[i], v)
		}
	}

	loss, err := CrossEntropy(out, []int{3}, -100)
	if err != nil {
		t.Fatalf("cross entropy: %v", err)
	}
	if !tensor.IsFinite(loss.Item()) {
		t.Fatalf("expected finite loss, got %v", loss.Item())
	}
	if err := Backward(loss); err != nil {
		t.Fatalf("backward: %v", err)
	}
	for i := 0; i < 3; i++ {
		if p.Grad.Data[i] != 0 {
			t.Fatalf("replaced element %d should get zero grad, got %v", i, p.Grad.Data[i])
		}
	}
}

func TestCrossEntropyAllIgnoredIsZero(t *testing.T) {
	t.Parallel()

	loss, err := CrossEntropy(randParam(2, 3, 1), []int{-100, -100}, -100)
	if err != nil {
		t.Fatalf("cross entropy: %v", err)
	}
	if loss.Item() != 0 {
		t.Fatalf("expected zero loss, got %v", loss.Item())
	}
}

func TestCrossEntropyRejectsOutOfRangeTarget(t *testing.T) {
	t.Parallel()

	if _, err := CrossEntropy(randParam(1, 3, 1), []int{3}, -100); err == nil {
		t.Fatal("expected error for out-of-range target")
	}
}

func TestDropoutIsDeterministicForSeed(t *testing.T) {
	t.Parallel()

	x := randParam(4, 4, 1)
	a := Dropout(x, 0.5, rand.New(rand.NewSource(3)))
	b := Dropout(x, 0.5, rand.New(rand.NewSource(3)))
	for i := range a.Value.Data {
		if a.Value.Data[i] != b.Value.Data[i] {
			t.Fatalf("dropout differs at %d", i)
		}
	}
	if Dropout(x, 0, nil) != x {
		t.Fatal("dropout with p=0 should return its input")
	}
}
