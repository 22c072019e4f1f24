package transformer

import (
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/params"
	"github.com/manningwu07/ArabicASR/utils"
)

// Generate greedily decodes a (frames x bins) feature matrix. The result
// starts with dp.StartToken and always has Params.TargetMaxlen ids; the end
// token does not stop the loop.
func (m *Transformer) Generate(features *mat.Dense, dp params.DecodeParams) []int {
	return m.GenerateFromEncoding(m.Encode(features), dp)
}

// GenerateFromEncoding decodes from an already encoded utterance.
func (m *Transformer) GenerateFromEncoding(enc *mat.Dense, dp params.DecodeParams) []int {
	if dp.KVCache {
		return m.generateCached(enc, dp.StartToken)
	}
	return m.generateFull(enc, dp.StartToken)
}

// generateFull re-decodes the whole prefix every step.
func (m *Transformer) generateFull(enc *mat.Dense, start int) []int {
	seq := make([]int, 1, m.Params.TargetMaxlen)
	seq[0] = start
	for i := 0; i < m.Params.TargetMaxlen-1; i++ {
		dec := m.Decode(enc, seq)
		logits := m.Classifier.Forward(utils.LastCol(dec))
		seq = append(seq, utils.ArgmaxCol(logits, 0))
	}
	return seq
}

// generateCached feeds one position per step through the decoder blocks and
// reuses the keys/values of earlier positions.
func (m *Transformer) generateCached(enc *mat.Dense, start int) []int {
	caches := make([]*DecoderCache, len(m.DecoderBlocks))
	for i, b := range m.DecoderBlocks {
		caches[i] = b.NewCache(enc)
	}
	seq := make([]int, 1, m.Params.TargetMaxlen)
	seq[0] = start
	for i := 0; i < m.Params.TargetMaxlen-1; i++ {
		x := m.DecInput.EmbedAt(seq[i], i)
		for j, b := range m.DecoderBlocks {
			x = b.ForwardLastWithKV(x, caches[j])
		}
		logits := m.Classifier.Forward(x)
		seq = append(seq, utils.ArgmaxCol(logits, 0))
	}
	return seq
}
