package pipeline

import (
	"context"
	"math/rand/v2"

	"github.com/manningwu07/ArabicASR/IO"
	"github.com/manningwu07/ArabicASR/transformer"
)

// LoadExamples featurizes labeled records and encodes their text with the
// model vocabulary. Records whose audio fails are skipped and counted.
func (t *Transcriber) LoadExamples(ctx context.Context, records []IO.Record) ([]transformer.Example, int, error) {
	paths := make([]string, len(records))
	for i, r := range records {
		paths[i] = r.Audio
	}
	load := func(path string) ([]float64, error) {
		return IO.ReadWaveform(path, t.Audio.SampleRate)
	}
	results := t.Extractor.ExtractFiles(ctx, paths, load, t.Workers)
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	out := make([]transformer.Example, 0, len(records))
	failed := 0
	for i, r := range results {
		if r.Err != nil {
			t.Logger.Warn("skipping example", "path", r.Path, "err", r.Err)
			failed++
			continue
		}
		out = append(out, transformer.Example{
			Features: r.Features,
			Target:   t.Vocab.Encode(records[i].Text),
		})
	}
	return out, failed, nil
}

// Split shuffles examples with rng and holds out valFrac of them, at least
// one when there are two or more examples and valFrac > 0.
func Split(examples []transformer.Example, valFrac float64, rng *rand.Rand) (train, val []transformer.Example) {
	shuffled := append([]transformer.Example(nil), examples...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	nVal := int(float64(len(shuffled)) * valFrac)
	if nVal == 0 && valFrac > 0 && len(shuffled) > 1 {
		nVal = 1
	}
	return shuffled[nVal:], shuffled[:nVal]
}

// Batches cuts examples into consecutive batches of at most size.
func Batches(examples []transformer.Example, size int) [][]transformer.Example {
	if size <= 0 {
		size = len(examples)
	}
	var out [][]transformer.Example
	for start := 0; start < len(examples); start += size {
		end := min(start+size, len(examples))
		out = append(out, examples[start:end])
	}
	return out
}
