package optimizations

import (
	"math"

	"github.com/manningwu07/ArabicASR/params"
	"github.com/manningwu07/ArabicASR/utils"
	"gonum.org/v1/gonum/mat"
)

// p -= lr * (mhat/(sqrt(vhat)+eps) + wd * p) with bias correction (AdamW).
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("adamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("adamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("adamUpdateInPlace: v shape mismatch")
	}
	b1t := math.Pow(beta1, float64(t))
	b2t := math.Pow(beta2, float64(t))
	c1 := 1.0 / (1.0 - b1t)
	c2 := 1.0 / (1.0 - b2t)
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			denom := math.Sqrt(vhat) + eps
			update := mhat/denom + weightDecay*p.At(i, j)
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, p.At(i, j)-lr*update)
		}
	}
}

// Adam keeps first/second moment state for a fixed set of parameters.
// Biases should be registered with decay disabled.
type Adam struct {
	T      int
	hp     params.TrainParams
	params []*mat.Dense
	decay  []bool
	m, v   []*mat.Dense
}

func NewAdam(hp params.TrainParams) *Adam {
	return &Adam{hp: hp}
}

// Track registers p for updates.
func (a *Adam) Track(p *mat.Dense, decay bool) {
	a.params = append(a.params, p)
	a.decay = append(a.decay, decay)
	a.m = append(a.m, utils.ZerosLike(p))
	a.v = append(a.v, utils.ZerosLike(p))
}

// Step applies one update with learning rate lr. grads must line up with the
// order parameters were tracked in. Returns the clip factor applied.
func (a *Adam) Step(lr float64, grads ...*mat.Dense) float64 {
	if len(grads) != len(a.params) {
		panic("Adam.Step: gradient count mismatch")
	}
	s := 1.0
	if a.hp.GradClip > 0 {
		s = utils.ClipGrads(a.hp.GradClip, grads...)
	}
	a.T++
	for i, p := range a.params {
		wd := 0.0
		if a.decay[i] {
			wd = a.hp.WeightDecay
		}
		AdamUpdateInPlace(p, grads[i], a.m[i], a.v[i], a.T, lr,
			a.hp.AdamBeta1, a.hp.AdamBeta2, a.hp.AdamEps, wd)
	}
	return s
}
