package transformer

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/optimizations"
	"github.com/manningwu07/ArabicASR/params"
	"github.com/manningwu07/ArabicASR/utils"
)

// PadID is the vocabulary index excluded from the loss.
const PadID = 0

// Example is one labeled utterance: features (frames x bins) and the encoded
// fixed-length target ids.
type Example struct {
	Features *mat.Dense
	Target   []int
}

// HeadTrainer fine-tunes the classifier head. Embeddings, encoder and
// decoder are frozen; during TrainStep they run with dropout active.
type HeadTrainer struct {
	Model    *Transformer
	Schedule optimizations.Schedule
	Opt      *optimizations.Adam
	Step     int

	drop *Dropout
}

func NewHeadTrainer(m *Transformer, sched optimizations.Schedule, hp params.TrainParams) *HeadTrainer {
	opt := optimizations.NewAdam(hp)
	opt.Track(m.Classifier.W, true)
	opt.Track(m.Classifier.B, false)
	return &HeadTrainer{
		Model:    m,
		Schedule: sched,
		Opt:      opt,
		drop:     NewDropout(rand.New(rand.NewPCG(hp.Seed, hp.Seed^0x9e3779b97f4a7c15))),
	}
}

// TrainStep runs one optimizer update on batch and returns the token-mean
// loss before the update and the learning rate used.
func (tr *HeadTrainer) TrainStep(batch []Example) (loss, lr float64, err error) {
	loss, dW, db, n, err := tr.gradients(batch, tr.drop)
	if err != nil {
		return 0, 0, err
	}
	if n == 0 {
		return 0, 0, fmt.Errorf("train step: batch has no target tokens")
	}
	lr = tr.Schedule.LearningRate(tr.Step)
	tr.Opt.Step(lr, dW, db)
	tr.Step++
	return loss, lr, nil
}

// Evaluate returns the token-mean masked loss over examples without dropout
// or updates.
func (tr *HeadTrainer) Evaluate(examples []Example) (float64, error) {
	loss, _, _, _, err := tr.gradients(examples, nil)
	return loss, err
}

// gradients predicts target[1:] from target[:-1] and returns the loss
// averaged over every non-pad token in the batch, with matching gradients
// for the classifier weight and bias.
func (tr *HeadTrainer) gradients(batch []Example, drop *Dropout) (float64, *mat.Dense, *mat.Dense, int, error) {
	m := tr.Model
	dW := utils.ZerosLike(m.Classifier.W)
	db := utils.ZerosLike(m.Classifier.B)

	type partial struct {
		loss  float64
		count int
		grad  *mat.Dense
		dec   *mat.Dense
	}
	parts := make([]partial, 0, len(batch))
	total := 0
	for i, ex := range batch {
		if len(ex.Target) < 2 {
			return 0, nil, nil, 0, fmt.Errorf("example %d: target needs at least 2 ids", i)
		}
		in := ex.Target[:len(ex.Target)-1]
		gold := ex.Target[1:]
		enc := m.encode(ex.Features, drop)
		dec := m.decode(enc, in, drop)
		logits := m.Classifier.Forward(dec)
		l, g, n := utils.MaskedCrossEntropy(logits, gold, PadID)
		parts = append(parts, partial{l, n, g, dec})
		total += n
	}
	if total == 0 {
		return 0, dW, db, 0, nil
	}

	loss := 0.0
	for _, p := range parts {
		if p.count == 0 {
			continue
		}
		w := float64(p.count) / float64(total)
		loss += w * p.loss
		// dW += w * g * dec^T ; db += w * rowsum(g)
		var gw mat.Dense
		gw.Mul(p.grad, p.dec.T())
		dW.Add(dW, utils.ToDense(utils.Scale(w, &gw)))
		for r, s := range utils.RowSums(p.grad) {
			db.Set(r, 0, db.At(r, 0)+w*s)
		}
	}
	return loss, dW, db, total, nil
}
