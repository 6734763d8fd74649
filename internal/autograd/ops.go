package autograd

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/tuner/internal/tensor"
)

// MatMulT computes x * w^T for x [N x K] and w [M x K], the layout of a
// linear layer whose weight is stored as [out x in].
func MatMulT(x, w *Tensor) *Tensor {
	if x.Cols() != w.Cols() {
		panic(fmt.Sprintf("autograd: matmul shape mismatch [%d x %d] * [%d x %d]^T", x.Rows(), x.Cols(), w.Rows(), w.Cols()))
	}
	out := tensor.NewMat(x.Rows(), w.Rows())
	tensor.MatMulTransB(&out, &x.Value, &w.Value)
	return newResult(out, &matMulTOp{x: x, w: w}, x, w)
}

type matMulTOp struct{ x, w *Tensor }

func (op *matMulTOp) Inputs() []*Tensor { return []*Tensor{op.x, op.w} }

func (op *matMulTOp) Backward(out *Tensor) {
	g := out.Grad
	if op.x.requiresGrad {
		tensor.AddMatMul(op.x.grad(), g, &op.w.Value, 1)
	}
	if op.w.requiresGrad {
		dw := op.w.grad()
		for i := 0; i < g.R; i++ {
			gr := g.Row(i)
			xr := op.x.Value.Row(i)
			for j, gv := range gr {
				if gv == 0 {
					continue
				}
				dr := dw.Row(j)
				for k, xv := range xr {
					dr[k] += gv * xv
				}
			}
		}
	}
}

// Add returns a + b for tensors of identical shape.
func Add(a, b *Tensor) *Tensor {
	if !a.Value.SameShape(&b.Value) {
		panic("autograd: add shape mismatch")
	}
	out := a.Value.Clone()
	tensor.Add(out.Data, b.Value.Data)
	return newResult(out, &addOp{a: a, b: b}, a, b)
}

type addOp struct{ a, b *Tensor }

func (op *addOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *addOp) Backward(out *Tensor) {
	if op.a.requiresGrad {
		tensor.Add(op.a.grad().Data, out.Grad.Data)
	}
	if op.b.requiresGrad {
		tensor.Add(op.b.grad().Data, out.Grad.Data)
	}
}

// AddRow adds the 1 x C row vector b to every row of x.
func AddRow(x, b *Tensor) *Tensor {
	if b.Rows() != 1 || b.Cols() != x.Cols() {
		panic("autograd: add row shape mismatch")
	}
	out := x.Value.Clone()
	for i := 0; i < out.R; i++ {
		tensor.Add(out.Row(i), b.Value.Data)
	}
	return newResult(out, &addRowOp{x: x, b: b}, x, b)
}

type addRowOp struct{ x, b *Tensor }

func (op *addRowOp) Inputs() []*Tensor { return []*Tensor{op.x, op.b} }

func (op *addRowOp) Backward(out *Tensor) {
	if op.x.requiresGrad {
		tensor.Add(op.x.grad().Data, out.Grad.Data)
	}
	if op.b.requiresGrad {
		db := op.b.grad().Data
		for i := 0; i < out.Grad.R; i++ {
			tensor.Add(db, out.Grad.Row(i))
		}
	}
}

// Mul returns the element-wise product of a and b.
func Mul(a, b *Tensor) *Tensor {
	if !a.Value.SameShape(&b.Value) {
		panic("autograd: mul shape mismatch")
	}
	out := a.Value.Clone()
	for i := range out.Data {
		out.Data[i] *= b.Value.Data[i]
	}
	return newResult(out, &mulOp{a: a, b: b}, a, b)
}

type mulOp struct{ a, b *Tensor }

func (op *mulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *mulOp) Backward(out *Tensor) {
	g := out.Grad.Data
	if op.a.requiresGrad {
		da := op.a.grad().Data
		for i := range da {
			da[i] += g[i] * op.b.Value.Data[i]
		}
	}
	if op.b.requiresGrad {
		db := op.b.grad().Data
		for i := range db {
			db[i] += g[i] * op.a.Value.Data[i]
		}
	}
}

// Scale returns s * x.
func Scale(x *Tensor, s float32) *Tensor {
	out := x.Value.Clone()
	tensor.Scale(out.Data, s)
	return newResult(out, &scaleOp{x: x, s: s}, x)
}

type scaleOp struct {
	x *Tensor
	s float32
}

func (op *scaleOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *scaleOp) Backward(out *Tensor) {
	dx := op.x.grad().Data
	for i, g := range out.Grad.Data {
		dx[i] += g * op.s
	}
}

// Sigmoid applies the logistic function element-wise.
func Sigmoid(x *Tensor) *Tensor {
	out := x.Value.Clone()
	for i, v := range out.Data {
		out.Data[i] = tensor.Sigmoid(v)
	}
	return newResult(out, &sigmoidOp{x: x}, x)
}

type sigmoidOp struct{ x *Tensor }

func (op *sigmoidOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *sigmoidOp) Backward(out *Tensor) {
	dx := op.x.grad().Data
	for i, g := range out.Grad.Data {
		s := out.Value.Data[i]
		dx[i] += g * s * (1 - s)
	}
}

// Rows gathers rows of x by index. Used both for embedding lookup and for
// picking pooled positions out of a hidden-state matrix.
func Rows(x *Tensor, idx []int) *Tensor {
	out := tensor.NewMat(len(idx), x.Cols())
	for i, r := range idx {
		copy(out.Row(i), x.Value.Row(r))
	}
	return newResult(out, &rowsOp{x: x, idx: append([]int(nil), idx...)}, x)
}

type rowsOp struct {
	x   *Tensor
	idx []int
}

func (op *rowsOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *rowsOp) Backward(out *Tensor) {
	dx := op.x.grad()
	for i, r := range op.idx {
		tensor.Add(dx.Row(r), out.Grad.Row(i))
	}
}

// CausalMean replaces each row t of a [batch*seqLen x C] tensor with the
// mean of the unmasked rows 0..t of the same sequence. mask may be nil,
// which treats every position as visible. Rows with no visible predecessor
// are zero.
func CausalMean(x *Tensor, batch, seqLen int, mask []int) *Tensor {
	if x.Rows() != batch*seqLen {
		panic("autograd: causal mean shape mismatch")
	}
	if mask != nil && len(mask) != batch*seqLen {
		panic("autograd: causal mean mask length mismatch")
	}
	out := tensor.NewMat(x.Rows(), x.Cols())
	counts := make([]int, x.Rows())
	sum := make([]float32, x.Cols())
	for b := 0; b < batch; b++ {
		clear(sum)
		n := 0
		for t := 0; t < seqLen; t++ {
			r := b*seqLen + t
			if mask == nil || mask[r] != 0 {
				tensor.Add(sum, x.Value.Row(r))
				n++
			}
			counts[r] = n
			if n == 0 {
				continue
			}
			dst := out.Row(r)
			inv := 1 / float32(n)
			for j, v := range sum {
				dst[j] = v * inv
			}
		}
	}
	return newResult(out, &causalMeanOp{x: x, batch: batch, seqLen: seqLen, mask: mask, counts: counts}, x)
}

type causalMeanOp struct {
	x             *Tensor
	batch, seqLen int
	mask          []int
	counts        []int
}

func (op *causalMeanOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *causalMeanOp) Backward(out *Tensor) {
	dx := op.x.grad()
	acc := make([]float32, op.x.Cols())
	for b := 0; b < op.batch; b++ {
		clear(acc)
		for t := op.seqLen - 1; t >= 0; t-- {
			r := b*op.seqLen + t
			if n := op.counts[r]; n > 0 {
				inv := 1 / float32(n)
				for j, g := range out.Grad.Row(r) {
					acc[j] += g * inv
				}
			}
			if op.mask == nil || op.mask[r] != 0 {
				tensor.Add(dx.Row(r), acc)
			}
		}
	}
}

// RMSNorm normalises every row of x by its root mean square and scales it by
// the 1 x C weight w.
func RMSNorm(x, w *Tensor, eps float32) *Tensor {
	if w.Rows() != 1 || w.Cols() != x.Cols() {
		panic("autograd: rmsnorm weight shape mismatch")
	}
	out := tensor.NewMat(x.Rows(), x.Cols())
	inv := make([]float32, x.Rows())
	for i := 0; i < x.Rows(); i++ {
		row := x.Value.Row(i)
		inv[i] = float32(1 / math.Sqrt(tensor.SquaredNorm(row)/float64(len(row))+float64(eps)))
		dst := out.Row(i)
		for j, v := range row {
			dst[j] = v * inv[i] * w.Value.Data[j]
		}
	}
	return newResult(out, &rmsNormOp{x: x, w: w, inv: inv}, x, w)
}

type rmsNormOp struct {
	x, w *Tensor
	inv  []float32
}

func (op *rmsNormOp) Inputs() []*Tensor { return []*Tensor{op.x, op.w} }

func (op *rmsNormOp) Backward(out *Tensor) {
	c := float32(op.x.Cols())
	w := op.w.Value.Data
	for i := 0; i < op.x.Rows(); i++ {
		g := out.Grad.Row(i)
		x := op.x.Value.Row(i)
		r := op.inv[i]
		if op.w.requiresGrad {
			dw := op.w.grad().Data
			for j := range dw {
				dw[j] += g[j] * x[j] * r
			}
		}
		if op.x.requiresGrad {
			var dot float32
			for j := range x {
				dot += g[j] * w[j] * x[j]
			}
			k := r * r * r * dot / c
			dx := op.x.grad().Row(i)
			for j := range dx {
				dx[j] += r*g[j]*w[j] - k*x[j]
			}
		}
	}
}

// Dropout zeroes each element with probability p and rescales survivors by
// 1/(1-p). With p <= 0 or a nil rng it returns x unchanged.
func Dropout(x *Tensor, p float32, rng *rand.Rand) *Tensor {
	if p <= 0 || rng == nil {
		return x
	}
	keep := make([]float32, x.Value.Len())
	scale := 1 / (1 - p)
	out := x.Value.Clone()
	for i := range out.Data {
		if rng.Float32() >= p {
			keep[i] = scale
		}
		out.Data[i] *= keep[i]
	}
	return newResult(out, &dropoutOp{x: x, keep: keep}, x)
}

type dropoutOp struct {
	x    *Tensor
	keep []float32
}

func (op *dropoutOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *dropoutOp) Backward(out *Tensor) {
	dx := op.x.grad().Data
	for i, g := range out.Grad.Data {
		dx[i] += g * op.keep[i]
	}
}

// NanToNum replaces NaN with nan, +Inf with posInf and -Inf with negInf.
// Replaced elements pass no gradient.
func NanToNum(x *Tensor, nan, posInf, negInf float32) *Tensor {
	out := x.Value.Clone()
	for i, v := range out.Data {
		f := float64(v)
		switch {
		case math.IsNaN(f):
			out.Data[i] = nan
		case math.IsInf(f, 1):
			out.Data[i] = posInf
		case math.IsInf(f, -1):
			out.Data[i] = negInf
		}
	}
	return newResult(out, &nanToNumOp{x: x}, x)
}

type nanToNumOp struct{ x *Tensor }

func (op *nanToNumOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *nanToNumOp) Backward(out *Tensor) {
	dx := op.x.grad().Data
	for i, g := range out.Grad.Data {
		if tensor.IsFinite(op.x.Value.Data[i]) {
			dx[i] += g
		}
	}
}

// CrossEntropy returns the mean negative log-likelihood of targets under the
// row-wise softmax of logits [N x C]. Rows whose target equals ignoreIndex
// are excluded from both the loss and the mean. When every row is ignored
// the loss is zero.
func CrossEntropy(logits *Tensor, targets []int, ignoreIndex int) (*Tensor, error) {
	if len(targets) != logits.Rows() {
		return nil, fmt.Errorf("autograd: cross entropy has %d targets for %d rows", len(targets), logits.Rows())
	}
	var total float64
	count := 0
	for i, tgt := range targets {
		if tgt == ignoreIndex {
			continue
		}
		if tgt < 0 || tgt >= logits.Cols() {
			return nil, fmt.Errorf("autograd: target %d out of range [0,%d)", tgt, logits.Cols())
		}
		row := logits.Value.Row(i)
		total += tensor.LogSumExp(row) - float64(row[tgt])
		count++
	}
	out := tensor.NewMat(1, 1)
	if count > 0 {
		out.Data[0] = float32(total / float64(count))
	}
	op := &crossEntropyOp{logits: logits, targets: append([]int(nil), targets...), ignore: ignoreIndex, count: count}
	return newResult(out, op, logits), nil
}

type crossEntropyOp struct {
	logits  *Tensor
	targets []int
	ignore  int
	count   int
}

func (op *crossEntropyOp) Inputs() []*Tensor { return []*Tensor{op.logits} }

func (op *crossEntropyOp) Backward(out *Tensor) {
	if op.count == 0 {
		return
	}
	g := out.Grad.Data[0] / float32(op.count)
	dl := op.logits.grad()
	prob := make([]float32, op.logits.Cols())
	for i, tgt := range op.targets {
		if tgt == op.ignore {
			continue
		}
		copy(prob, op.logits.Value.Row(i))
		tensor.Softmax(prob)
		dst := dl.Row(i)
		for j, p := range prob {
			dst[j] += g * p
		}
		dst[tgt] -= g
	}
}
