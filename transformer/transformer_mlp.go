package transformer

import (
	"math/rand/v2"

	"github.com/manningwu07/ArabicASR/utils"
	"gonum.org/v1/gonum/mat"
)

// MLP is the position-wise feed-forward block: expand, ReLU, project back.
type MLP struct {
	Inputs, Hiddens, Outputs  int
	HiddenWeights, HiddenBias *mat.Dense
	OutputWeights, OutputBias *mat.Dense
}

func NewMLP(dModel, hidden int, rng *rand.Rand) *MLP {
	return &MLP{
		Inputs:        dModel,
		Hiddens:       hidden,
		Outputs:       dModel,
		HiddenWeights: mat.NewDense(hidden, dModel, utils.RandomArray(rng, dModel*hidden, float64(dModel))),
		HiddenBias:    mat.NewDense(hidden, 1, nil),
		OutputWeights: mat.NewDense(dModel, hidden, utils.RandomArray(rng, hidden*dModel, float64(hidden))),
		OutputBias:    mat.NewDense(dModel, 1, nil),
	}
}

// Forward works on any number of columns, including a single decode step.
func (mlp *MLP) Forward(X *mat.Dense) *mat.Dense {
	hidden := utils.Linear(mlp.HiddenWeights, X, mlp.HiddenBias) // (h x T)
	hidden.Apply(utils.ReluApply, hidden)
	return utils.Linear(mlp.OutputWeights, hidden, mlp.OutputBias) // (d x T)
}

// Dropout zeroes activations with probability rate and rescales survivors.
// A nil *Dropout is inference mode and passes inputs through.
type Dropout struct {
	rng *rand.Rand
}

func NewDropout(rng *rand.Rand) *Dropout {
	return &Dropout{rng: rng}
}

func (d *Dropout) Apply(X *mat.Dense, rate float64) *mat.Dense {
	if d == nil || rate <= 0 {
		return X
	}
	keep := 1 - rate
	out := utils.ZerosLike(X)
	out.Apply(func(_, _ int, v float64) float64 {
		if d.rng.Float64() < rate {
			return 0
		}
		return v / keep
	}, X)
	return out
}
