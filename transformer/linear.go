package transformer

import (
	"math/rand/v2"

	"github.com/manningwu07/ArabicASR/utils"
	"gonum.org/v1/gonum/mat"
)

// Linear is a dense projection applied per column: Y = W*X + b.
type Linear struct {
	In, Out int
	W       *mat.Dense // (out x in)
	B       *mat.Dense // (out x 1)
}

func NewLinear(in, out int, rng *rand.Rand) *Linear {
	return &Linear{
		In:  in,
		Out: out,
		W:   mat.NewDense(out, in, utils.RandomArray(rng, in*out, float64(in))),
		B:   mat.NewDense(out, 1, nil),
	}
}

func (l *Linear) Forward(X *mat.Dense) *mat.Dense {
	return utils.Linear(l.W, X, l.B)
}
