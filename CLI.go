package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/manningwu07/ArabicASR/IO"
	"github.com/manningwu07/ArabicASR/optimizations"
	"github.com/manningwu07/ArabicASR/params"
	"github.com/manningwu07/ArabicASR/pipeline"
	"github.com/manningwu07/ArabicASR/transformer"
)

var (
	configPath string
	verbose    bool
	workers    int
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var rootCmd = &cobra.Command{
	Use:   "asr",
	Short: "Arabic speech-to-text with a speech transformer",
	Long: `asr transcribes folders of Arabic speech with an encoder-decoder
transformer and fine-tunes its classifier head on labeled audio.

Examples:
  asr transcribe --input ./clips --output transcripts.csv --model models/model.msgpack
  asr init --config asr.yaml --model models/model.msgpack
  asr train --manifest data/train.csv
  asr schedule`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "parallel workers (0 = config value or GOMAXPROCS)")

	transcribeCmd.Flags().StringP("input", "i", "", "folder of audio files")
	transcribeCmd.Flags().StringP("output", "o", "", "output CSV path")
	transcribeCmd.Flags().StringP("model", "m", "", "model artifact path")
	transcribeCmd.Flags().String("cache-dir", "", "transcript cache directory (empty disables)")
	transcribeCmd.Flags().StringSlice("ext", nil, "audio file extensions to include")
	transcribeCmd.Flags().Bool("no-kv-cache", false, "re-decode the full prefix every step")

	initCmd.Flags().StringP("model", "m", "", "where to write the artifact")
	initCmd.Flags().Uint64("seed", 1, "initialization seed")
	initCmd.Flags().String("write-config", "", "also write the effective config as YAML")

	evaluateCmd.Flags().StringP("model", "m", "", "model artifact path")
	evaluateCmd.Flags().String("manifest", "", "CSV with audio,text columns")

	infoCmd.Flags().StringP("model", "m", "", "model artifact path")

	scheduleCmd.Flags().Int("epochs", 0, "epochs to print (default warmup+decay+5)")

	plotCmd.Flags().String("log", "", "training log CSV (default train.log_path)")
	plotCmd.Flags().String("column", "val_loss", "log column to chart")
	plotCmd.Flags().Int("height", 10, "chart rows")

	rootCmd.AddCommand(transcribeCmd, initCmd, trainCmd, evaluateCmd, infoCmd, scheduleCmd, plotCmd)
}

// loadConfig reads --config and applies the flags that were set on cmd.
func loadConfig(cmd *cobra.Command) (params.Config, error) {
	cfg, err := params.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	f := cmd.Flags()
	if f.Lookup("input") != nil && f.Changed("input") {
		cfg.InputDir, _ = f.GetString("input")
	}
	if f.Lookup("output") != nil && f.Changed("output") {
		cfg.OutputPath, _ = f.GetString("output")
	}
	if f.Lookup("model") != nil && f.Changed("model") {
		cfg.ModelPath, _ = f.GetString("model")
	}
	if f.Lookup("cache-dir") != nil && f.Changed("cache-dir") {
		cfg.CacheDir, _ = f.GetString("cache-dir")
	}
	if f.Lookup("ext") != nil && f.Changed("ext") {
		cfg.Extensions, _ = f.GetStringSlice("ext")
	}
	if f.Lookup("no-kv-cache") != nil && f.Changed("no-kv-cache") {
		off, _ := f.GetBool("no-kv-cache")
		cfg.Decode.KVCache = !off
	}
	if f.Lookup("manifest") != nil && f.Changed("manifest") {
		cfg.Train.ManifestPath, _ = f.GetString("manifest")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func loadModel(path string) (*transformer.Transformer, error) {
	m, err := transformer.Load(path)
	if err != nil {
		return nil, err
	}
	slog.Info("model loaded", "path", path, "digest", fmt.Sprintf("%016x", m.Digest),
		"enc_layers", len(m.EncoderBlocks), "dec_layers", len(m.DecoderBlocks))
	return m, nil
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe",
	Short: "Transcribe every audio file in a folder into a CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.InputDir == "" {
			return fmt.Errorf("no input folder: set --input or input_dir")
		}
		m, err := loadModel(cfg.ModelPath)
		if err != nil {
			return err
		}

		var cache *IO.TranscriptCache
		if cfg.CacheDir != "" {
			cache, err = IO.OpenTranscriptCache(IO.CacheOptions{Dir: cfg.CacheDir})
			if err != nil {
				return err
			}
			defer cache.Close()
		}

		tr, err := pipeline.New(cfg, m, cache)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		rows, sum, err := tr.TranscribeDir(ctx, cfg.InputDir, cfg.Extensions)
		if err != nil {
			return err
		}
		if err := IO.WriteTranscriptsFile(cfg.OutputPath, rows); err != nil {
			return err
		}
		fmt.Println(renderSummary("transcribe", [][2]string{
			{"files", strconv.Itoa(sum.Files)},
			{"decoded", strconv.Itoa(sum.Decoded)},
			{"cached", strconv.Itoa(sum.Cached)},
			{"failed", strconv.Itoa(sum.Failed)},
			{"elapsed", sum.Elapsed.Round(time.Millisecond).String()},
			{"output", cfg.OutputPath},
		}))
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a freshly initialized model artifact for the configured architecture",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		seed, _ := cmd.Flags().GetUint64("seed")
		vocab := IO.NewArabicVocabulary(cfg.Model.TargetMaxlen)
		m, err := transformer.CreateTransformer(cfg.Model, vocab.IDToToken, rand.New(rand.NewPCG(seed, seed)))
		if err != nil {
			return err
		}
		if err := transformer.Save(m, cfg.ModelPath); err != nil {
			return err
		}
		if out, _ := cmd.Flags().GetString("write-config"); out != "" {
			if err := params.Save(cfg, out); err != nil {
				return err
			}
		}
		slog.Info("model initialized", "path", cfg.ModelPath, "digest", fmt.Sprintf("%016x", m.Digest))
		return nil
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Report masked cross-entropy on a labeled manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Train.ManifestPath == "" {
			return fmt.Errorf("no manifest: set --manifest or train.manifest_path")
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
		sched, err := optimizations.NewSchedule(cfg.Schedule)
		if err != nil {
			return err
		}
		loss, err := transformer.NewHeadTrainer(m, sched, cfg.Train).Evaluate(examples)
		if err != nil {
			return err
		}
		fmt.Println(renderSummary("evaluate", [][2]string{
			{"examples", strconv.Itoa(len(examples))},
			{"skipped", strconv.Itoa(failed)},
			{"loss", strconv.FormatFloat(loss, 'f', 4, 64)},
		}))
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show a model artifact's architecture and vocabulary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		m, err := transformer.Load(cfg.ModelPath)
		if err != nil {
			return err
		}
		p := m.Params
		fmt.Println(renderSummary("model", [][2]string{
			{"path", cfg.ModelPath},
			{"digest", fmt.Sprintf("%016x", m.Digest)},
			{"hidden", strconv.Itoa(p.NumHid)},
			{"heads", fmt.Sprintf("%d x %d", p.NumHead, p.HeadDim())},
			{"feed forward", strconv.Itoa(p.NumFeedForward)},
			{"layers", fmt.Sprintf("%d enc / %d dec", p.NumLayersEnc, p.NumLayersDec)},
			{"conv", fmt.Sprintf("%d x k%d s%d", p.ConvLayers, p.ConvKernel, p.ConvStride)},
			{"target len", strconv.Itoa(p.TargetMaxlen)},
			{"vocab", fmt.Sprintf("%d: %s", len(m.Vocab), strings.Join(m.Vocab, " "))},
		}))
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print the learning rate for each epoch",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := optimizations.NewSchedule(cfg.Schedule)
		if err != nil {
			return err
		}
		epochs, _ := cmd.Flags().GetInt("epochs")
		if epochs <= 0 {
			epochs = s.WarmupEpochs + s.DecayEpochs + 5
		}
		fmt.Println(titleStyle.Render("learning rate schedule"))
		lrs := make([]float64, epochs)
		for e := range lrs {
			lrs[e] = s.CalculateLR(float64(e))
			fmt.Printf("%s %.6g\n", dimStyle.Render(fmt.Sprintf("%4d", e)), lrs[e])
		}
		asciiPlot(os.Stdout, lrs, 8)
		return nil
	},
}

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Chart one column of a training log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("log")
		if path == "" {
			path = cfg.Train.LogPath
		}
		if path == "" {
			return fmt.Errorf("no training log: set --log or train.log_path")
		}
		column, _ := cmd.Flags().GetString("column")
		height, _ := cmd.Flags().GetInt("height")
		values, err := readLogColumn(path, column)
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render(column + " per epoch"))
		asciiPlot(os.Stdout, values, max(height, 1))
		return nil
	},
}

func renderSummary(title string, rows [][2]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}
	lines := []string{titleStyle.Render(title)}
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(fmt.Sprintf("%-*s", width, r[0]))+"  "+r[1])
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
