package tensor

import (
	"math"
	"testing"
)

func TestMatMulTransBMatchesNaive(t *testing.T) {
	t.Parallel()

	a := NewMat(3, 4)
	b := NewMat(5, 4)
	FillRand(&a, 1, 1)
	FillRand(&b, 2, 1)

	got := NewMat(3, 5)
	MatMulTransB(&got, &a, &b)

	for i := 0; i < 3; i++ {
		for j := 0; j < 5; j++ {
			var want float32
			for k := 0; k < 4; k++ {
				want += a.At(i, k) * b.At(j, k)
			}
			if d := math.Abs(float64(got.At(i, j) - want)); d > 1e-5 {
				t.Fatalf("mismatch at (%d,%d): got %f want %f", i, j, got.At(i, j), want)
			}
		}
	}
}

func TestAddMatMulAccumulates(t *testing.T) {
	t.Parallel()

	a := NewMatFromData(2, 1, []float32{1, 2})
	b := NewMatFromData(1, 3, []float32{1, 0, -1})
	dst := NewMat(2, 3)
	dst.Fill(1)

	AddMatMul(&dst, &a, &b, 2)

	want := []float32{3, 1, -1, 5, 1, -3}
	for i, v := range want {
		if dst.Data[i] != v {
			t.Fatalf("dst[%d]: got %v want %v", i, dst.Data[i], v)
		}
	}
}

func TestFillRandDeterministic(t *testing.T) {
	t.Parallel()

	a := NewMat(4, 4)
	b := NewMat(4, 4)
	FillRand(&a, 7, 0.1)
	FillRand(&b, 7, 0.1)
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("expected identical values at %d", i)
		}
		if a.Data[i] <= -0.1 || a.Data[i] >= 0.1 {
			t.Fatalf("value %v outside range", a.Data[i])
		}
	}
}

func TestAllFinite(t *testing.T) {
	t.Parallel()

	m := NewMat(1, 3)
	if !m.AllFinite() {
		t.Fatal("zero matrix should be finite")
	}
	m.Set(0, 1, float32(math.NaN()))
	if m.AllFinite() {
		t.Fatal("expected NaN to be detected")
	}
	m.Set(0, 1, float32(math.Inf(-1)))
	if m.AllFinite() {
		t.Fatal("expected -Inf to be detected")
	}
}

func TestLogSumExpStable(t *testing.T) {
	t.Parallel()

	got := LogSumExp([]float32{1000, 1000})
	want := 1000 + math.Log(2)
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("got %v want %v", got, want)
	}
}
