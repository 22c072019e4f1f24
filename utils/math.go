package utils

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Matrix functions used by the layers. Sequences are stored column-wise:
// a (d x T) matrix holds one d-wide vector per time step.

// r = rows of matrix
// c = columns of matrix
// o = output
// m = matrix input number 1
// n = matrix input number 2

func Dot(m, n mat.Matrix) mat.Matrix {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func Scale(s float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Scale(s, m)
	return o
}

// Linear computes W*X + b with b broadcast over columns.
func Linear(w, x, b *mat.Dense) *mat.Dense {
	return AddBias(ToDense(Dot(w, x)), b)
}

func AddBias(m, bias *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	rb, cb := bias.Dims()
	if rb != r || cb != 1 {
		panic("addBias: bias must be (r x 1)")
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		b := bias.At(i, 0)
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(i, j)+b)
		}
	}
	return out
}

func ReluApply(_, _ int, x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func LastCol(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, m.At(i, c-1))
	}
	return out
}

// ArgmaxCol returns the row index of the largest value in column j.
// Ties resolve to the lowest index.
func ArgmaxCol(m mat.Matrix, j int) int {
	r, _ := m.Dims()
	best, bestV := 0, m.At(0, j)
	for i := 1; i < r; i++ {
		if v := m.At(i, j); v > bestV {
			best, bestV = i, v
		}
	}
	return best
}

// CausalMask returns an additive (nDest x nSrc) mask: 0 where query i may see
// key j (i >= j - nSrc + nDest), -Inf elsewhere. Counting from the lower right
// corner keeps it valid when the queries are the tail of the keys.
func CausalMask(nDest, nSrc int) *mat.Dense {
	out := mat.NewDense(nDest, nSrc, nil)
	negInf := math.Inf(-1)
	for i := 0; i < nDest; i++ {
		for j := 0; j < nSrc; j++ {
			if i < j-nSrc+nDest {
				out.Set(i, j, negInf)
			}
		}
	}
	return out
}

// ---------- Softmax variants ----------

// RowSoftmaxMaskedInPlace writes softmax(m+mask) into dst (r x c) in place.
// Masked entries come out as exact zeros; a fully masked row is all zeros.
func RowSoftmaxMaskedInPlace(dst, m, mask *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	if dr, dc := dst.Dims(); dr != r || dc != c {
		panic("RowSoftmaxMaskedInPlace: dst shape mismatch")
	}
	if mask == nil {
		return rowSoftmaxInto(dst, m)
	}
	if mr, mc := mask.Dims(); mr != r || mc != c {
		panic("RowSoftmaxMaskedInPlace: mask shape mismatch")
	}
	for i := 0; i < r; i++ {
		mx := math.Inf(-1)
		for j := 0; j < c; j++ {
			if v := m.At(i, j) + mask.At(i, j); v > mx {
				mx = v
			}
		}
		if math.IsInf(mx, -1) {
			for j := 0; j < c; j++ {
				dst.Set(i, j, 0)
			}
			continue
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			e := math.Exp(m.At(i, j) + mask.At(i, j) - mx)
			dst.Set(i, j, e)
			sum += e
		}
		inv := 1.0 / sum
		for j := 0; j < c; j++ {
			dst.Set(i, j, dst.At(i, j)*inv)
		}
	}
	return dst
}

func rowSoftmaxInto(dst *mat.Dense, m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			row[j] = m.At(i, j)
		}
		// numerical stability
		mx := floats.Max(row)
		sum := 0.0
		for j := range row {
			row[j] = math.Exp(row[j] - mx)
			sum += row[j]
		}
		for j := range row {
			dst.Set(i, j, row[j]/sum)
		}
	}
	return dst
}

// ColSoftmax applies softmax down each column (logits -> probabilities per step).
func ColSoftmax(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, m)
		mx := floats.Max(col)
		sum := 0.0
		for i := range col {
			col[i] = math.Exp(col[i] - mx)
			sum += col[i]
		}
		for i := range col {
			out.Set(i, j, col[i]/sum)
		}
	}
	return out
}

// ---------- Loss ----------

// MaskedCrossEntropy computes the mean cross-entropy of logits (V x T) against
// gold ids, skipping positions whose gold id equals pad. The gradient has the
// logits' shape and is already divided by the number of counted positions.
func MaskedCrossEntropy(logits *mat.Dense, gold []int, pad int) (float64, *mat.Dense, int) {
	r, c := logits.Dims()
	if len(gold) != c {
		panic("MaskedCrossEntropy: gold length must match logits columns")
	}
	prob := ColSoftmax(logits)
	grad := mat.NewDense(r, c, nil)
	loss := 0.0
	count := 0
	for t, g := range gold {
		if g == pad {
			continue
		}
		if g < 0 || g >= r {
			g = 0
		}
		count++
		loss -= math.Log(prob.At(g, t) + 1e-12)
		for i := 0; i < r; i++ {
			grad.Set(i, t, prob.At(i, t))
		}
		grad.Set(g, t, grad.At(g, t)-1.0)
	}
	if count == 0 {
		return 0, grad, 0
	}
	grad.Scale(1/float64(count), grad)
	return loss / float64(count), grad, count
}
