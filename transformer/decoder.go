package transformer

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/optimizations"
	"github.com/manningwu07/ArabicASR/params"
)

// DecoderBlock is causal self-attention, cross-attention over the encoder
// output, then a feed-forward block, each with a residual and LayerNorm.
type DecoderBlock struct {
	SelfAtt *Attention
	EncAtt  *Attention
	FFN     *MLP
	Ln1     *optimizations.LayerNorm
	Ln2     *optimizations.LayerNorm
	Ln3     *optimizations.LayerNorm

	SelfDropout float64
	EncDropout  float64
	FFNDropout  float64
}

func NewDecoderBlock(p params.ModelParams, rng *rand.Rand) *DecoderBlock {
	return &DecoderBlock{
		SelfAtt:     NewAttention(p.NumHid, p.NumHead, p.HeadDim(), rng),
		EncAtt:      NewAttention(p.NumHid, p.NumHead, p.HeadDim(), rng),
		FFN:         NewMLP(p.NumHid, p.NumFeedForward, rng),
		Ln1:         optimizations.NewLayerNorm(p.NumHid, p.LayerNormEps),
		Ln2:         optimizations.NewLayerNorm(p.NumHid, p.LayerNormEps),
		Ln3:         optimizations.NewLayerNorm(p.NumHid, p.LayerNormEps),
		SelfDropout: p.SelfAttnDropout,
		EncDropout:  p.DropoutRate,
		FFNDropout:  p.DropoutRate,
	}
}

// Forward runs the block over the whole target prefix (hidden x L) against
// the encoder output (hidden x T').
func (b *DecoderBlock) Forward(enc, target *mat.Dense, drop *Dropout) *mat.Dense {
	self := b.SelfAtt.Forward(target, target, true)
	targetNorm := b.Ln1.Forward(residual(target, drop.Apply(self, b.SelfDropout)))

	cross := b.EncAtt.Forward(targetNorm, enc, false)
	encNorm := b.Ln2.Forward(residual(targetNorm, drop.Apply(cross, b.EncDropout)))

	ffn := drop.Apply(b.FFN.Forward(encNorm), b.FFNDropout)
	return b.Ln3.Forward(residual(encNorm, ffn))
}

// DecoderCache carries the incremental state of one block across decode
// steps: the growing self-attention keys/values and the cross-attention
// keys/values computed once from the encoder output.
type DecoderCache struct {
	Self   AttnKV
	CrossK []*mat.Dense
	CrossV []*mat.Dense
}

func (b *DecoderBlock) NewCache(enc *mat.Dense) *DecoderCache {
	k, v := b.EncAtt.keysValues(enc)
	return &DecoderCache{CrossK: k, CrossV: v}
}

// ForwardLastWithKV runs the block for the newest position only. x is the
// (hidden x 1) input at that position. Inference only.
func (b *DecoderBlock) ForwardLastWithKV(x *mat.Dense, cache *DecoderCache) *mat.Dense {
	self := b.SelfAtt.ForwardLastWithKV(x, &cache.Self)
	targetNorm := b.Ln1.ForwardCol(residual(x, self))

	cross := b.EncAtt.ForwardCached(targetNorm, cache.CrossK, cache.CrossV)
	encNorm := b.Ln2.ForwardCol(residual(targetNorm, cross))

	return b.Ln3.ForwardCol(residual(encNorm, b.FFN.Forward(encNorm)))
}

func residual(x, y *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Add(x, y)
	return &out
}
