package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/manningwu07/ArabicASR/IO"
	"github.com/manningwu07/ArabicASR/optimizations"
	"github.com/manningwu07/ArabicASR/params"
	"github.com/manningwu07/ArabicASR/transformer"
)

func testConfig() params.Config {
	cfg := params.Default()
	cfg.Workers = 2
	cfg.Audio.FixedLength = 800 // 8 frames
	cfg.Model = params.ModelParams{
		NumHid:          8,
		NumHead:         2,
		NumFeedForward:  16,
		SourceMaxlen:    4,
		TargetMaxlen:    10,
		NumLayersEnc:    1,
		NumLayersDec:    1,
		NumClasses:      4 + len(params.ArabicAlphabet),
		ConvKernel:      3,
		ConvStride:      2,
		ConvLayers:      2,
		FeatureBins:     cfg.Audio.NumBins(),
		DropoutRate:     0.1,
		SelfAttnDropout: 0.5,
		LayerNormEps:    1e-6,
	}
	return cfg
}

func testModel(t *testing.T, cfg params.Config) *transformer.Transformer {
	t.Helper()
	vocab := IO.NewArabicVocabulary(cfg.Model.TargetMaxlen)
	m, err := transformer.CreateTransformer(cfg.Model, vocab.IDToToken, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("CreateTransformer: %v", err)
	}
	return m
}

func writeTone(t *testing.T, path string, freq float64, n int) {
	t.Helper()
	data := make([]int, n)
	for i := range data {
		data[i] = int(12000 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: 16000}, Data: data, SourceBitDepth: 16}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
}

func fixtureDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "b.wav"), 440, 1200)
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeTone(t, filepath.Join(dir, "nested", "a.wav"), 1000, 500)
	if err := os.WriteFile(filepath.Join(dir, "broken.wav"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestTranscribeDirIsolatesFailures(t *testing.T) {
	cfg := testConfig()
	m := testModel(t, cfg)
	tr, err := New(cfg, m, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir := fixtureDir(t)
	rows, sum, err := tr.TranscribeDir(context.Background(), dir, cfg.Extensions)
	if err != nil {
		t.Fatalf("TranscribeDir: %v", err)
	}
	if sum.Files != 3 || sum.Failed != 1 || sum.Decoded != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	byID := map[string]string{}
	for _, r := range rows {
		byID[r.Audio] = r.Text
	}
	if len(byID) != 3 || byID["broken"] != "" {
		t.Fatalf("rows = %+v", rows)
	}

	// each transcript matches decoding the file directly
	for id, path := range map[string]string{"a": filepath.Join(dir, "nested", "a.wav"), "b": filepath.Join(dir, "b.wav")} {
		wave, err := IO.ReadWaveform(path, 16000)
		if err != nil {
			t.Fatal(err)
		}
		seq := m.Generate(tr.Extractor.Extract(wave), cfg.Decode)
		if want := tr.Vocab.Transcript(seq); byID[id] != want {
			t.Fatalf("%s: transcript %q, want %q", id, byID[id], want)
		}
	}
}

func TestTranscribeUsesCache(t *testing.T) {
	cfg := testConfig()
	m := testModel(t, cfg)
	cache, err := IO.OpenTranscriptCache(IO.CacheOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenTranscriptCache: %v", err)
	}
	defer cache.Close()
	tr, err := New(cfg, m, cache)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir := fixtureDir(t)

	first, sum1, err := tr.TranscribeDir(context.Background(), dir, cfg.Extensions)
	if err != nil {
		t.Fatal(err)
	}
	second, sum2, err := tr.TranscribeDir(context.Background(), dir, cfg.Extensions)
	if err != nil {
		t.Fatal(err)
	}
	if sum1.Cached != 0 || sum2.Cached != 2 || sum2.Decoded != 0 || sum2.Failed != 1 {
		t.Fatalf("first %+v, second %+v", sum1, sum2)
	}
	if !slices.Equal(first, second) {
		t.Fatalf("cached rows differ:\n%v\n%v", first, second)
	}
}

func TestTranscribeCancelled(t *testing.T) {
	cfg := testConfig()
	tr, err := New(cfg, testModel(t, cfg), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := tr.TranscribeDir(ctx, fixtureDir(t), cfg.Extensions); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestNewRejectsBinMismatch(t *testing.T) {
	cfg := testConfig()
	m := testModel(t, cfg)
	cfg.Audio.FFTLength = 512
	if _, err := New(cfg, m, nil); err == nil {
		t.Fatal("expected feature bin mismatch error")
	}
}

func TestNewRejectsSentinelOutsideModelVocab(t *testing.T) {
	cfg := testConfig()
	m := testModel(t, cfg)
	cfg.Decode.StartToken = 99
	if _, err := New(cfg, m, nil); err == nil {
		t.Fatal("expected error for start token outside the model vocabulary")
	}
}

func TestTranscribeDirWarnsOnDuplicateIDs(t *testing.T) {
	cfg := testConfig()
	tr, err := New(cfg, testModel(t, cfg), nil)
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	tr.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	dir := t.TempDir()
	for _, sub := range []string{"x", "y"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
		writeTone(t, filepath.Join(dir, sub, "a.wav"), 440, 900)
	}
	rows, sum, err := tr.TranscribeDir(context.Background(), dir, cfg.Extensions)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Audio != "a" || rows[1].Audio != "a" || sum.Decoded != 2 {
		t.Fatalf("rows = %+v, summary = %+v", rows, sum)
	}
	if !strings.Contains(logs.String(), "duplicate audio id") {
		t.Fatalf("no duplicate warning in logs:\n%s", logs.String())
	}
}

func TestFitRestoresBestHeadAndLogs(t *testing.T) {
	cfg := testConfig()
	cfg.Model.DropoutRate, cfg.Model.SelfAttnDropout = 0, 0
	m := testModel(t, cfg)
	tr, err := New(cfg, m, nil)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "x.wav"), 300, 800)
	writeTone(t, filepath.Join(dir, "y.wav"), 900, 800)
	examples, failed, err := tr.LoadExamples(context.Background(), []IO.Record{
		{Audio: filepath.Join(dir, "x.wav"), Text: "با"},
		{Audio: filepath.Join(dir, "y.wav"), Text: "يا"},
		{Audio: filepath.Join(dir, "missing.wav"), Text: "لا"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(examples) != 2 || failed != 1 {
		t.Fatalf("examples %d failed %d", len(examples), failed)
	}

	sp := params.ScheduleParams{InitLR: 0.02, LRAfterWarmup: 0.02, FinalLR: 0.02, WarmupEpochs: 2, DecayEpochs: 1, StepsPerEpoch: 1}
	sched, err := optimizations.NewSchedule(sp)
	if err != nil {
		t.Fatal(err)
	}
	hp := cfg.Train
	hp.MaxEpochs, hp.BatchSize, hp.Patience = 5, 2, 3
	trainer := transformer.NewHeadTrainer(m, sched, hp)
	before, _ := trainer.Evaluate(examples)

	var logBuf bytes.Buffer
	res, err := Fit(context.Background(), trainer, examples, nil, hp, &logBuf)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if res.Epochs != 5 || res.BestLoss >= before {
		t.Fatalf("result %+v, loss before %g", res, before)
	}
	records, err := csv.NewReader(&logBuf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 6 || records[0][0] != "epoch" {
		t.Fatalf("log rows = %v", records)
	}
}

func TestSplitAndBatches(t *testing.T) {
	ex := make([]transformer.Example, 10)
	for i := range ex {
		ex[i].Target = []int{i}
	}
	train, val := Split(ex, 0.2, rand.New(rand.NewPCG(1, 1)))
	if len(train) != 8 || len(val) != 2 {
		t.Fatalf("split %d/%d", len(train), len(val))
	}
	if _, val := Split(ex[:3], 0.1, rand.New(rand.NewPCG(1, 1))); len(val) != 1 {
		t.Fatalf("small split should hold out one example, got %d", len(val))
	}
	bs := Batches(ex, 4)
	if len(bs) != 3 || len(bs[2]) != 2 {
		t.Fatalf("batches = %d, last %d", len(bs), len(bs[len(bs)-1]))
	}
}
