package pipeline

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/params"
	"github.com/manningwu07/ArabicASR/transformer"
)

// FitResult describes a finished fine-tuning run.
type FitResult struct {
	Epochs    int
	BestEpoch int
	BestLoss  float64
	Stopped   bool // early stopping triggered
}

// Fit trains the classifier head for up to hp.MaxEpochs, shuffling the
// training set every epoch and scoring val after each one. Training stops
// after hp.Patience epochs without improvement and the best head weights
// are restored. With no validation data the training loss is monitored.
// One CSV row per epoch goes to logW when it is not nil.
func Fit(ctx context.Context, tr *transformer.HeadTrainer, train, val []transformer.Example, hp params.TrainParams, logW io.Writer) (FitResult, error) {
	var log *csv.Writer
	if logW != nil {
		log = csv.NewWriter(logW)
		if err := log.Write([]string{"epoch", "step", "lr", "loss", "val_loss"}); err != nil {
			return FitResult{}, err
		}
	}
	rng := rand.New(rand.NewPCG(hp.Seed, hp.Seed+1))
	head := tr.Model.Classifier
	bestW, bestB := mat.DenseCopyOf(head.W), mat.DenseCopyOf(head.B)
	res := FitResult{BestLoss: math.Inf(1), BestEpoch: -1}
	stale := 0

	for epoch := 0; epoch < hp.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		order := append([]transformer.Example(nil), train...)
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		sumLoss, steps, lr := 0.0, 0, 0.0
		for _, batch := range Batches(order, hp.BatchSize) {
			loss, stepLR, err := tr.TrainStep(batch)
			if err != nil {
				slog.Warn("skipping batch", "epoch", epoch, "err", err)
				continue
			}
			sumLoss += loss
			lr = stepLR
			steps++
		}
		trainLoss := math.NaN()
		if steps > 0 {
			trainLoss = sumLoss / float64(steps)
		}

		monitored := trainLoss
		valLoss := math.NaN()
		if len(val) > 0 {
			v, err := tr.Evaluate(val)
			if err != nil {
				return res, err
			}
			valLoss, monitored = v, v
		}
		res.Epochs = epoch + 1
		slog.Info("epoch done", "epoch", epoch, "step", tr.Step, "lr", lr, "loss", trainLoss, "val_loss", valLoss)
		if log != nil {
			log.Write([]string{
				strconv.Itoa(epoch),
				strconv.Itoa(tr.Step),
				strconv.FormatFloat(lr, 'g', -1, 64),
				strconv.FormatFloat(trainLoss, 'f', 6, 64),
				strconv.FormatFloat(valLoss, 'f', 6, 64),
			})
			log.Flush()
			if err := log.Error(); err != nil {
				return res, err
			}
		}

		if monitored < res.BestLoss {
			res.BestLoss, res.BestEpoch = monitored, epoch
			bestW.Copy(head.W)
			bestB.Copy(head.B)
			stale = 0
			continue
		}
		stale++
		if hp.Patience > 0 && stale >= hp.Patience {
			res.Stopped = true
			break
		}
	}
	head.W.Copy(bestW)
	head.B.Copy(bestB)
	return res, nil
}
