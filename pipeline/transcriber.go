// Package pipeline runs audio folders through feature extraction and greedy
// decoding and collects one transcript per file.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/IO"
	"github.com/manningwu07/ArabicASR/features"
	"github.com/manningwu07/ArabicASR/params"
	"github.com/manningwu07/ArabicASR/transformer"
)

// Transcriber turns audio files into transcripts with a loaded model.
type Transcriber struct {
	Model     *transformer.Transformer
	Vocab     *IO.Vocabulary
	Extractor *features.Extractor
	Cache     *IO.TranscriptCache // optional
	Decode    params.DecodeParams
	Audio     params.AudioParams
	Workers   int
	Logger    *slog.Logger
}

// Summary reports what a run did.
type Summary struct {
	Files   int
	Decoded int
	Cached  int
	Failed  int
	Elapsed time.Duration
}

// New wires a Transcriber from cfg around m. cache may be nil.
func New(cfg params.Config, m *transformer.Transformer, cache *IO.TranscriptCache) (*Transcriber, error) {
	if m.Params.FeatureBins != cfg.Audio.NumBins() {
		return nil, fmt.Errorf("model expects %d feature bins, audio config gives %d",
			m.Params.FeatureBins, cfg.Audio.NumBins())
	}
	vocab, err := IO.NewVocabulary(m.Vocab, m.Params.TargetMaxlen)
	if err != nil {
		return nil, fmt.Errorf("model vocabulary: %w", err)
	}
	if err := vocab.SetSentinels(cfg.Decode.StartToken, cfg.Decode.EndToken); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	ext, err := features.New(cfg.Audio)
	if err != nil {
		return nil, err
	}
	return &Transcriber{
		Model:     m,
		Vocab:     vocab,
		Extractor: ext,
		Cache:     cache,
		Decode:    cfg.Decode,
		Audio:     cfg.Audio,
		Workers:   cfg.Workers,
		Logger:    slog.Default(),
	}, nil
}

// TranscribeDir transcribes every matching file under dir.
func (t *Transcriber) TranscribeDir(ctx context.Context, dir string, exts []string) ([]IO.Transcript, Summary, error) {
	paths, err := IO.FindAudioFiles(dir, exts)
	if err != nil {
		return nil, Summary{}, err
	}
	t.Logger.Info("found audio files", "dir", dir, "count", len(paths))
	return t.TranscribeFiles(ctx, paths)
}

// TranscribeFiles returns one row per path, in path order. A file that
// cannot be read or decoded gets an empty transcript and counts as failed;
// only cancellation aborts the run.
func (t *Transcriber) TranscribeFiles(ctx context.Context, paths []string) ([]IO.Transcript, Summary, error) {
	start := time.Now()
	sum := Summary{Files: len(paths)}
	rows := make([]IO.Transcript, len(paths))
	digests := make([]uint64, len(paths))

	var pending []int
	seen := make(map[string]string, len(paths))
	for i, p := range paths {
		rows[i].Audio = IO.FileID(p)
		if prev, dup := seen[rows[i].Audio]; dup {
			t.Logger.Warn("duplicate audio id, output rows will share it", "audio", rows[i].Audio, "path", p, "first", prev)
		} else {
			seen[rows[i].Audio] = p
		}
		if t.Cache == nil {
			pending = append(pending, i)
			continue
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			// let extraction report it
			pending = append(pending, i)
			continue
		}
		digests[i] = IO.AudioDigest(raw)
		text, ok, err := t.Cache.Get(t.Model.Digest, digests[i])
		if err != nil {
			t.Logger.Warn("cache lookup failed", "path", p, "err", err)
		}
		if ok {
			rows[i].Text = text
			sum.Cached++
			continue
		}
		pending = append(pending, i)
	}

	todo := make([]string, len(pending))
	for j, i := range pending {
		todo[j] = paths[i]
	}
	load := func(path string) ([]float64, error) {
		return IO.ReadWaveform(path, t.Audio.SampleRate)
	}
	results := t.Extractor.ExtractFiles(ctx, todo, load, t.Workers)
	if err := ctx.Err(); err != nil {
		return nil, sum, err
	}

	batch := make([]*mat.Dense, len(results))
	for j, r := range results {
		if r.Err != nil {
			t.Logger.Error("feature extraction failed", "path", r.Path, "err", r.Err)
			sum.Failed++
			continue
		}
		batch[j] = r.Features
	}
	seqs := t.Model.GenerateBatch(batch, t.Decode, t.Workers)
	if err := ctx.Err(); err != nil {
		return nil, sum, err
	}

	for j, i := range pending {
		if seqs[j] == nil {
			if batch[j] != nil {
				t.Logger.Error("decoding failed", "path", paths[i])
				sum.Failed++
			}
			continue
		}
		rows[i].Text = t.Vocab.Transcript(seqs[j])
		sum.Decoded++
		t.Logger.Debug("transcribed", "audio", rows[i].Audio, "chars", len([]rune(rows[i].Text)))
		if t.Cache != nil && digests[i] != 0 {
			if err := t.Cache.Put(t.Model.Digest, digests[i], rows[i].Text); err != nil {
				t.Logger.Warn("cache store failed", "path", paths[i], "err", err)
			}
		}
	}
	sum.Elapsed = time.Since(start)
	return rows, sum, nil
}
