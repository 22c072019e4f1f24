package optimizations

import (
	"math"

	"github.com/manningwu07/ArabicASR/utils"
	"gonum.org/v1/gonum/mat"
)

// LayerNorm normalizes each column (one time step) over the d feature rows.
type LayerNorm struct {
	D     int
	Eps   float64
	Gamma *mat.Dense // (d x 1)
	Beta  *mat.Dense // (d x 1)
}

func NewLayerNorm(d int, eps float64) *LayerNorm {
	g := mat.NewDense(d, 1, nil)
	for i := 0; i < d; i++ {
		g.Set(i, 0, 1)
	}
	return &LayerNorm{
		D:     d,
		Eps:   eps,
		Gamma: g,
		Beta:  utils.ZerosLike(g),
	}
}

func (ln *LayerNorm) Forward(X *mat.Dense) *mat.Dense {
	d, T := X.Dims()
	if d != ln.D {
		panic("LayerNorm.Forward: feature width mismatch")
	}
	out := mat.NewDense(d, T, nil)
	for t := 0; t < T; t++ {
		// mean over rows
		mu := 0.0
		for i := 0; i < d; i++ {
			mu += X.At(i, t)
		}
		mu /= float64(d)
		// variance
		var v float64
		for i := 0; i < d; i++ {
			diff := X.At(i, t) - mu
			v += diff * diff
		}
		v /= float64(d)
		istd := 1.0 / math.Sqrt(v+ln.Eps)
		// normalize and affine
		for i := 0; i < d; i++ {
			n := (X.At(i, t) - mu) * istd
			out.Set(i, t, ln.Gamma.At(i, 0)*n+ln.Beta.At(i, 0))
		}
	}
	return out
}

// ForwardCol for incremental decoding (d x 1)
func (ln *LayerNorm) ForwardCol(x *mat.Dense) *mat.Dense {
	if _, c := x.Dims(); c != 1 {
		panic("LayerNorm.ForwardCol expects (d x 1)")
	}
	return ln.Forward(x)
}
