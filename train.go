package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/manningwu07/ArabicASR/IO"
	"github.com/manningwu07/ArabicASR/optimizations"
	"github.com/manningwu07/ArabicASR/pipeline"
	"github.com/manningwu07/ArabicASR/transformer"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fine-tune the classifier head on a labeled manifest",
	Long: `train loads a model, featurizes the audio,text records of a manifest and
fine-tunes the classifier head with Adam under the warmup/decay schedule. The
rest of the network stays frozen. The best head (lowest validation loss) is
written back to the model path, or to --out when given.`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringP("model", "m", "", "model artifact to start from")
	trainCmd.Flags().String("manifest", "", "CSV with audio,text columns")
	trainCmd.Flags().String("out", "", "where to write the tuned model (default: --model)")
	trainCmd.Flags().Int("epochs", 0, "override train.max_epochs")
}

func runTrain(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if n, _ := cmd.Flags().GetInt("epochs"); n > 0 {
		cfg.Train.MaxEpochs = n
	}
	if cfg.Train.ManifestPath == "" {
		return fmt.Errorf("no manifest: set --manifest or train.manifest_path")
	}
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = cfg.ModelPath
	}

	m, err := loadModel(cfg.ModelPath)
	if err != nil {
		return err
	}
	tr, err := pipeline.New(cfg, m, nil)
	if err != nil {
		return err
	}
	records, err := IO.ReadManifest(cfg.Train.ManifestPath)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	examples, failed, err := tr.LoadExamples(ctx, records)
	if err != nil {
		return err
	}
	if len(examples) == 0 {
		return fmt.Errorf("no usable examples in %s", cfg.Train.ManifestPath)
	}
	train, val := pipeline.Split(examples, cfg.Train.ValFrac, rand.New(rand.NewPCG(cfg.Train.Seed, 0)))
	slog.Info("dataset ready", "train", len(train), "val", len(val), "skipped", failed)

	sched, err := optimizations.NewSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	trainer := transformer.NewHeadTrainer(m, sched, cfg.Train)

	var logFile *os.File
	if cfg.Train.LogPath != "" {
		logFile, err = os.Create(cfg.Train.LogPath)
		if err != nil {
			return fmt.Errorf("create training log: %w", err)
		}
		defer func() {
			err = errors.Join(err, logFile.Close())
		}()
	}

	var res pipeline.FitResult
	if logFile != nil {
		res, err = pipeline.Fit(ctx, trainer, train, val, cfg.Train, logFile)
	} else {
		res, err = pipeline.Fit(ctx, trainer, train, val, cfg.Train, nil)
	}
	if err != nil {
		return err
	}
	if err := transformer.Save(m, out); err != nil {
		return err
	}
	fmt.Println(renderSummary("train", [][2]string{
		{"epochs", strconv.Itoa(res.Epochs)},
		{"best epoch", strconv.Itoa(res.BestEpoch)},
		{"best loss", strconv.FormatFloat(res.BestLoss, 'f', 4, 64)},
		{"early stop", strconv.FormatBool(res.Stopped)},
		{"steps", strconv.Itoa(trainer.Step)},
		{"saved", out},
	}))
	return nil
}
