package tensor

import (
	"math"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Scale multiplies every element of x by s.
func Scale(x []float32, s float32) {
	for i := range x {
		x[i] *= s
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// RMSNorm performs Root Mean Square Normalization.
func RMSNorm(dst, src, weight []float32, eps float32) {
	var sum float32
	for _, v := range src {
		sum += v * v
	}
	mean := sum / float32(len(src))
	scale := float32(1.0) / float32(math.Sqrt(float64(mean+eps)))
	for i := range src {
		dst[i] = src[i] * scale * weight[i]
	}
}

// Softmax applies the softmax function to x in place.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// LogSumExp returns log(sum(exp(x))) computed with the max-shift trick.
func LogSumExp(x []float32) float64 {
	if len(x) == 0 {
		return math.Inf(-1)
	}
	maxv := float64(x[0])
	for _, v := range x[1:] {
		if float64(v) > maxv {
			maxv = float64(v)
		}
	}
	if math.IsInf(maxv, 0) {
		return maxv
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v) - maxv)
	}
	return maxv + math.Log(sum)
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// MatVec computes dst = m * x, where dst has length m.R and x length m.C.
func MatVec(dst []float32, m *Mat, x []float32) {
	if len(x) != m.C || len(dst) != m.R {
		panic("matvec shape mismatch")
	}
	for i := 0; i < m.R; i++ {
		dst[i] = Dot(m.Row(i), x)
	}
}

// MatMulTransB computes dst = a * b^T. a is [N x K], b is [M x K] and dst
// must be [N x M]. This is the layout of a linear layer whose weight is
// stored as [out x in].
func MatMulTransB(dst, a, b *Mat) {
	if a.C != b.C || dst.R != a.R || dst.C != b.R {
		panic("matmul shape mismatch")
	}
	for i := 0; i < a.R; i++ {
		ar := a.Row(i)
		dr := dst.Row(i)
		for j := 0; j < b.R; j++ {
			dr[j] = Dot(ar, b.Row(j))
		}
	}
}

// AddMatMul computes dst += alpha * a * b. a is [N x K], b is [K x M] and
// dst is [N x M].
func AddMatMul(dst, a, b *Mat, alpha float32) {
	if a.C != b.R || dst.R != a.R || dst.C != b.C {
		panic("matmul shape mismatch")
	}
	for i := 0; i < a.R; i++ {
		ar := a.Row(i)
		dr := dst.Row(i)
		for k, av := range ar {
			if av == 0 {
				continue
			}
			s := alpha * av
			br := b.Row(k)
			for j := range dr {
				dr[j] += s * br[j]
			}
		}
	}
}

// SquaredNorm returns the sum of squares of x in float64.
func SquaredNorm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return sum
}
