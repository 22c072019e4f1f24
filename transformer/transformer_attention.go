package transformer

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/utils"
)

// Attention is multi-head scaled dot-product attention. Every head projects
// queries, keys and values from DModel to KeyDim with a bias; the heads are
// concatenated and projected back to DModel.
//
// Forward passes do not mutate the receiver, so one Attention can serve many
// goroutines.
type Attention struct {
	H      int
	DModel int
	KeyDim int

	Wquery, Bquery []*mat.Dense // (KeyDim x DModel), (KeyDim x 1)
	Wkey, Bkey     []*mat.Dense
	Wvalue, Bvalue []*mat.Dense
	Woutput        *mat.Dense // (DModel x H*KeyDim)
	Boutput        *mat.Dense // (DModel x 1)
}

func NewAttention(dModel, nHeads, keyDim int, rng *rand.Rand) *Attention {
	attn := &Attention{
		H:      nHeads,
		DModel: dModel,
		KeyDim: keyDim,
		Wquery: make([]*mat.Dense, nHeads),
		Bquery: make([]*mat.Dense, nHeads),
		Wkey:   make([]*mat.Dense, nHeads),
		Bkey:   make([]*mat.Dense, nHeads),
		Wvalue: make([]*mat.Dense, nHeads),
		Bvalue: make([]*mat.Dense, nHeads),
	}
	for h := 0; h < nHeads; h++ {
		attn.Wquery[h] = mat.NewDense(keyDim, dModel, utils.RandomArray(rng, keyDim*dModel, float64(dModel)))
		attn.Wkey[h] = mat.NewDense(keyDim, dModel, utils.RandomArray(rng, keyDim*dModel, float64(dModel)))
		attn.Wvalue[h] = mat.NewDense(keyDim, dModel, utils.RandomArray(rng, keyDim*dModel, float64(dModel)))
		attn.Bquery[h] = mat.NewDense(keyDim, 1, nil)
		attn.Bkey[h] = mat.NewDense(keyDim, 1, nil)
		attn.Bvalue[h] = mat.NewDense(keyDim, 1, nil)
	}
	cat := nHeads * keyDim
	attn.Woutput = mat.NewDense(dModel, cat, utils.RandomArray(rng, dModel*cat, float64(cat)))
	attn.Boutput = mat.NewDense(dModel, 1, nil)
	return attn
}

// Forward attends from query (DModel x Tq) over context (DModel x Tk).
// With causal set, query i only sees context positions j <= i (aligned at
// the tail when Tq < Tk). The mask is rebuilt for every call.
func (attn *Attention) Forward(query, context *mat.Dense, causal bool) *mat.Dense {
	y, _ := attn.ForwardWithWeights(query, context, causal)
	return y
}

// ForwardWithWeights also returns the per-head (Tq x Tk) attention weights.
func (attn *Attention) ForwardWithWeights(query, context *mat.Dense, causal bool) (*mat.Dense, []*mat.Dense) {
	var mask *mat.Dense
	if causal {
		_, tq := query.Dims()
		_, tk := context.Dims()
		mask = utils.CausalMask(tq, tk)
	}
	K, V := attn.keysValues(context)
	return attn.attend(query, K, V, mask)
}

// keysValues projects context into per-head keys and values (KeyDim x Tk).
func (attn *Attention) keysValues(context *mat.Dense) (K, V []*mat.Dense) {
	K = make([]*mat.Dense, attn.H)
	V = make([]*mat.Dense, attn.H)
	for h := 0; h < attn.H; h++ {
		K[h] = utils.Linear(attn.Wkey[h], context, attn.Bkey[h])
		V[h] = utils.Linear(attn.Wvalue[h], context, attn.Bvalue[h])
	}
	return K, V
}

func (attn *Attention) attend(query *mat.Dense, K, V []*mat.Dense, mask *mat.Dense) (*mat.Dense, []*mat.Dense) {
	_, T := query.Dims()
	_, Tk := K[0].Dims()
	headsCat := mat.NewDense(attn.H*attn.KeyDim, T, nil)
	weights := make([]*mat.Dense, attn.H)
	rescale := 1.0 / math.Sqrt(float64(attn.KeyDim))

	for h := 0; h < attn.H; h++ {
		Q := utils.Linear(attn.Wquery[h], query, attn.Bquery[h]) // (k x T)
		// S = (Q^T K)/sqrt
		var S mat.Dense
		S.Mul(Q.T(), K[h])
		S.Scale(rescale, &S)
		A := mat.NewDense(T, Tk, nil)
		utils.RowSoftmaxMaskedInPlace(A, &S, mask)
		weights[h] = A
		// O = V * A^T
		base := h * attn.KeyDim
		dst := headsCat.Slice(base, base+attn.KeyDim, 0, T).(*mat.Dense)
		dst.Mul(V[h], A.T())
	}
	return utils.Linear(attn.Woutput, headsCat, attn.Boutput), weights
}

// -------- KV cache for inference (last-timestep only) --------

type AttnKV struct {
	K []*mat.Dense // per head: (KeyDim x t)
	V []*mat.Dense // per head: (KeyDim x t)
	T int
}

// ForwardLastWithKV is causal self-attention for the newest position only.
// xLast is (DModel x 1); its key and value are appended to kv before
// attending, so the query sees every earlier position and itself.
func (attn *Attention) ForwardLastWithKV(xLast *mat.Dense, kv *AttnKV) *mat.Dense {
	if len(kv.K) != attn.H {
		kv.K = make([]*mat.Dense, attn.H)
		kv.V = make([]*mat.Dense, attn.H)
		kv.T = 0
	}
	k, v := attn.keysValues(xLast)
	for h := 0; h < attn.H; h++ {
		kv.K[h] = utils.AppendCol(kv.K[h], k[h])
		kv.V[h] = utils.AppendCol(kv.V[h], v[h])
	}
	kv.T++
	y, _ := attn.attend(xLast, kv.K, kv.V, nil)
	return y
}

// ForwardCached attends from query over keys/values precomputed with
// keysValues, used for cross-attention over a fixed encoder output.
func (attn *Attention) ForwardCached(query *mat.Dense, K, V []*mat.Dense) *mat.Dense {
	y, _ := attn.attend(query, K, V, nil)
	return y
}
