package utils

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RandomArray draws size values uniformly from ±1/sqrt(v), the fan-in scaled
// range the layers are initialized with.
func RandomArray(rng *rand.Rand, size int, v float64) []float64 {
	min := -1.0 / math.Sqrt(v+1e-12)
	max := 1.0 / math.Sqrt(v+1e-12)
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		out[i] = min + (max-min)*rng.Float64()
	}
	return out
}

func ToDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

func ZerosLike(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

// AppendCol returns a new matrix with col appended as the last column.
// A nil dst starts a fresh (r x 1) matrix.
func AppendCol(dst, col *mat.Dense) *mat.Dense {
	rc, cc := col.Dims()
	if cc != 1 {
		panic("appendCol expects (r x 1) column")
	}
	if dst == nil {
		return mat.DenseCopyOf(col)
	}
	r, c := dst.Dims()
	if r != rc {
		panic("appendCol: row mismatch")
	}
	out := mat.NewDense(r, c+1, nil)
	out.Slice(0, r, 0, c).(*mat.Dense).Copy(dst)
	out.Slice(0, r, c, c+1).(*mat.Dense).Copy(col)
	return out
}

// ClipGrads rescales grads in place so their joint L2 norm is at most maxNorm
// and returns the factor applied (1 when nothing was clipped).
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	total := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		raw := g.RawMatrix()
		for i := 0; i < raw.Rows; i++ {
			row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
			total += floats.Dot(row, row)
		}
	}
	norm := math.Sqrt(total)
	if norm <= maxNorm || norm == 0 {
		return 1.0
	}
	s := maxNorm / norm
	for _, g := range grads {
		if g != nil {
			g.Scale(s, g)
		}
	}
	return s
}

// RowSums returns per-row sums for a mat.Dense.
func RowSums(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = floats.Sum(m.RawRowView(i))
	}
	return out
}
