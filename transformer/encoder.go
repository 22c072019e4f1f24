package transformer

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/optimizations"
	"github.com/manningwu07/ArabicASR/params"
)

// Layer is one stage of the encoder. The encoder is an ordered []Layer
// applied left to right; a nil *Dropout means inference.
type Layer interface {
	Forward(X *mat.Dense, drop *Dropout) *mat.Dense
}

// EncoderBlock is post-norm self-attention followed by a feed-forward block.
type EncoderBlock struct {
	Att  *Attention
	FFN  *MLP
	Ln1  *optimizations.LayerNorm
	Ln2  *optimizations.LayerNorm
	Rate float64
}

func NewEncoderBlock(p params.ModelParams, rng *rand.Rand) *EncoderBlock {
	return &EncoderBlock{
		Att:  NewAttention(p.NumHid, p.NumHead, p.HeadDim(), rng),
		FFN:  NewMLP(p.NumHid, p.NumFeedForward, rng),
		Ln1:  optimizations.NewLayerNorm(p.NumHid, p.LayerNormEps),
		Ln2:  optimizations.NewLayerNorm(p.NumHid, p.LayerNormEps),
		Rate: p.DropoutRate,
	}
}

func (b *EncoderBlock) Forward(X *mat.Dense, drop *Dropout) *mat.Dense {
	a := drop.Apply(b.Att.Forward(X, X, false), b.Rate)
	out1 := b.Ln1.Forward(residual(X, a))

	f := drop.Apply(b.FFN.Forward(out1), b.Rate)
	return b.Ln2.Forward(residual(out1, f))
}
