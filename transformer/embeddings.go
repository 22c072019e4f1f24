package transformer

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/utils"
)

// TokenEmbedding maps token ids to hidden vectors and adds a learned
// position vector. Both tables are column-per-entry.
type TokenEmbedding struct {
	Hidden, Vocab, MaxLen int
	Emb                   *mat.Dense // (Hidden x Vocab)
	PosEmb                *mat.Dense // (Hidden x MaxLen)
}

func NewTokenEmbedding(vocab, maxLen, hidden int, rng *rand.Rand) *TokenEmbedding {
	return &TokenEmbedding{
		Hidden: hidden,
		Vocab:  vocab,
		MaxLen: maxLen,
		Emb:    mat.NewDense(hidden, vocab, utils.RandomArray(rng, hidden*vocab, float64(hidden))),
		PosEmb: mat.NewDense(hidden, maxLen, utils.RandomArray(rng, hidden*maxLen, float64(hidden))),
	}
}

// Forward embeds ids at positions 0..len(ids)-1. Sequences longer than the
// position table panic.
func (e *TokenEmbedding) Forward(ids []int) *mat.Dense {
	if len(ids) > e.MaxLen {
		panic(fmt.Sprintf("TokenEmbedding: sequence length %d exceeds position table %d", len(ids), e.MaxLen))
	}
	out := mat.NewDense(e.Hidden, len(ids), nil)
	for t, id := range ids {
		e.embedInto(out, t, id, t)
	}
	return out
}

// EmbedAt embeds one token at position pos as a (Hidden x 1) column.
func (e *TokenEmbedding) EmbedAt(id, pos int) *mat.Dense {
	if pos >= e.MaxLen {
		panic(fmt.Sprintf("TokenEmbedding: position %d exceeds position table %d", pos, e.MaxLen))
	}
	out := mat.NewDense(e.Hidden, 1, nil)
	e.embedInto(out, 0, id, pos)
	return out
}

func (e *TokenEmbedding) embedInto(dst *mat.Dense, col, id, pos int) {
	if id < 0 || id >= e.Vocab {
		panic(fmt.Sprintf("TokenEmbedding: token id %d out of range [0,%d)", id, e.Vocab))
	}
	for i := 0; i < e.Hidden; i++ {
		dst.Set(i, col, e.Emb.At(i, id)+e.PosEmb.At(i, pos))
	}
}
