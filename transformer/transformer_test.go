package transformer

import (
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/features"
	"github.com/manningwu07/ArabicASR/optimizations"
	"github.com/manningwu07/ArabicASR/params"
	"github.com/manningwu07/ArabicASR/utils"
)

var tinyVocab = []string{"-", "#", "<", ">", "a", "b"}

func tinyParams() params.ModelParams {
	return params.ModelParams{
		NumHid:          8,
		NumHead:         2,
		KeyDim:          4,
		NumFeedForward:  16,
		SourceMaxlen:    10,
		TargetMaxlen:    12,
		NumLayersEnc:    1,
		NumLayersDec:    2,
		NumClasses:      len(tinyVocab),
		ConvKernel:      3,
		ConvStride:      2,
		ConvLayers:      2,
		FeatureBins:     5,
		DropoutRate:     0.1,
		SelfAttnDropout: 0.5,
		LayerNormEps:    1e-6,
	}
}

func tinyModel(t *testing.T, seed uint64) *Transformer {
	t.Helper()
	m, err := CreateTransformer(tinyParams(), tinyVocab, rand.New(rand.NewPCG(seed, seed)))
	if err != nil {
		t.Fatalf("CreateTransformer: %v", err)
	}
	return m
}

func randomFeatures(seed uint64, frames, bins int) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, 7))
	return mat.NewDense(frames, bins, utils.RandomArray(rng, frames*bins, 1))
}

func greedy() params.DecodeParams {
	return params.DecodeParams{StartToken: 2, EndToken: 3, KVCache: true}
}

func TestConvOutputLengthDefaults(t *testing.T) {
	p := params.Default().Model
	c := &Conv1D{Kernel: p.ConvKernel, Stride: p.ConvStride}
	want := []int{299, 150, 75}
	T := params.Default().Audio.NumFrames()
	if T != 598 {
		t.Fatalf("frames = %d, want 598", T)
	}
	for i, w := range want {
		T = c.OutputLen(T)
		if T != w {
			t.Fatalf("layer %d: length %d, want %d", i, T, w)
		}
	}
}

func TestConvSamePadding(t *testing.T) {
	c := &Conv1D{
		Kernel: 3, Stride: 1, In: 1, Out: 1,
		W: mat.NewDense(1, 3, []float64{1, 1, 1}),
		B: mat.NewDense(1, 1, nil),
	}
	y := c.Forward(mat.NewDense(1, 3, []float64{1, 2, 3}))
	want := []float64{3, 6, 5}
	for j, w := range want {
		if y.At(0, j) != w {
			t.Fatalf("col %d: got %g, want %g", j, y.At(0, j), w)
		}
	}

	c.Stride = 2
	c.B.Set(0, 0, -4)
	y = c.Forward(mat.NewDense(1, 4, []float64{1, 2, 3, 4}))
	// outLen 2, pad total 1, left 0: windows [1 2 3], [3 4 0]; relu(sum-4)
	if r, cols := y.Dims(); r != 1 || cols != 2 {
		t.Fatalf("shape %dx%d, want 1x2", r, cols)
	}
	if y.At(0, 0) != 2 || y.At(0, 1) != 3 {
		t.Fatalf("got [%g %g], want [2 3]", y.At(0, 0), y.At(0, 1))
	}
}

func TestCausalSelfAttentionZeroWeights(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	attn := NewAttention(8, 2, 4, rng)
	x := mat.NewDense(8, 6, utils.RandomArray(rng, 48, 1))
	_, weights := attn.ForwardWithWeights(x, x, true)
	for h, w := range weights {
		for i := 0; i < 6; i++ {
			sum := 0.0
			for j := 0; j < 6; j++ {
				if j > i && w.At(i, j) != 0 {
					t.Fatalf("head %d: weight[%d][%d] = %g, want exactly 0", h, i, j, w.At(i, j))
				}
				sum += w.At(i, j)
			}
			if math.Abs(sum-1) > 1e-12 {
				t.Fatalf("head %d row %d sums to %g", h, i, sum)
			}
		}
	}
}

func TestDecoderIgnoresFutureTokens(t *testing.T) {
	m := tinyModel(t, 1)
	enc := m.Encode(randomFeatures(1, 20, 5))
	a := []int{2, 4, 5, 4, 3, 0}
	b := []int{2, 4, 5, 1, 1, 5}
	da := m.Decode(enc, a)
	db := m.Decode(enc, b)
	r, _ := da.Dims()
	for j := 0; j < 3; j++ {
		for i := 0; i < r; i++ {
			if math.Abs(da.At(i, j)-db.At(i, j)) > 1e-12 {
				t.Fatalf("position %d changed when only later tokens differ", j)
			}
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	m := tinyModel(t, 2)
	feats := randomFeatures(2, 20, 5)
	first := m.Generate(feats, greedy())
	second := m.Generate(feats, greedy())
	if !slices.Equal(first, second) {
		t.Fatalf("decode not deterministic:\n%v\n%v", first, second)
	}
	if len(first) != m.Params.TargetMaxlen {
		t.Fatalf("len = %d, want %d", len(first), m.Params.TargetMaxlen)
	}
	if first[0] != 2 {
		t.Fatalf("first token = %d, want start", first[0])
	}
	for _, id := range first {
		if id < 0 || id >= len(tinyVocab) {
			t.Fatalf("id %d out of vocabulary", id)
		}
	}
}

func TestSilentWaveformDecodesFullLength(t *testing.T) {
	audio := params.Default().Audio
	ext, err := features.New(audio)
	if err != nil {
		t.Fatalf("features.New: %v", err)
	}
	feats := ext.Extract(make([]float64, audio.SampleRate)) // one second of silence
	for _, v := range feats.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("silent features not finite: %v", v)
		}
	}

	p := tinyParams()
	p.FeatureBins = audio.NumBins()
	m, err := CreateTransformer(p, tinyVocab, rand.New(rand.NewPCG(4, 4)))
	if err != nil {
		t.Fatalf("CreateTransformer: %v", err)
	}
	for _, cached := range []bool{true, false} {
		dp := greedy()
		dp.KVCache = cached
		seq := m.Generate(feats, dp)
		if len(seq) != m.Params.TargetMaxlen || seq[0] != dp.StartToken {
			t.Fatalf("cached=%v: got %v", cached, seq)
		}
	}
}

func TestCachedDecodeMatchesFull(t *testing.T) {
	m := tinyModel(t, 5)
	enc := m.Encode(randomFeatures(5, 20, 5))

	seq := []int{2, 4, 4, 5, 3, 1, 0}
	full := m.Decode(enc, seq)
	caches := make([]*DecoderCache, len(m.DecoderBlocks))
	for i, b := range m.DecoderBlocks {
		caches[i] = b.NewCache(enc)
	}
	for pos, id := range seq {
		x := m.DecInput.EmbedAt(id, pos)
		for j, b := range m.DecoderBlocks {
			x = b.ForwardLastWithKV(x, caches[j])
		}
		for i := 0; i < m.Params.NumHid; i++ {
			if math.Abs(x.At(i, 0)-full.At(i, pos)) > 1e-9 {
				t.Fatalf("pos %d row %d: cached %g, full %g", pos, i, x.At(i, 0), full.At(i, pos))
			}
		}
	}

	dp := greedy()
	cached := m.GenerateFromEncoding(enc, dp)
	dp.KVCache = false
	naive := m.GenerateFromEncoding(enc, dp)
	if !slices.Equal(cached, naive) {
		t.Fatalf("cached %v != naive %v", cached, naive)
	}
}

func TestGenerateBatchKeepsOrder(t *testing.T) {
	m := tinyModel(t, 6)
	batch := []*mat.Dense{
		randomFeatures(10, 20, 5),
		nil,
		randomFeatures(11, 20, 5),
		randomFeatures(12, 16, 5),
	}
	out := m.GenerateBatch(batch, greedy(), 3)
	if len(out) != len(batch) {
		t.Fatalf("got %d results, want %d", len(out), len(batch))
	}
	if out[1] != nil {
		t.Fatalf("nil features should give nil result, got %v", out[1])
	}
	for i, f := range batch {
		if f == nil {
			continue
		}
		if want := m.Generate(f, greedy()); !slices.Equal(out[i], want) {
			t.Fatalf("result %d out of order", i)
		}
	}
}

func TestGenerateBatchIsolatesFailures(t *testing.T) {
	m := tinyModel(t, 6)
	good := randomFeatures(10, 20, 5)
	batch := []*mat.Dense{good, randomFeatures(11, 20, 3), good}
	out := m.GenerateBatch(batch, greedy(), 2)
	if out[1] != nil {
		t.Fatalf("wrong bin count should give nil result, got %v", out[1])
	}
	want := m.Generate(good, greedy())
	if !slices.Equal(out[0], want) || !slices.Equal(out[2], want) {
		t.Fatalf("good utterances not decoded: %v %v", out[0], out[2])
	}

	dp := greedy()
	dp.StartToken = 99
	for i, seq := range m.GenerateBatch([]*mat.Dense{good, good}, dp, 2) {
		if seq != nil {
			t.Fatalf("start token outside vocabulary: result %d = %v", i, seq)
		}
	}
}

func TestTokenEmbeddingPanicsPastTable(t *testing.T) {
	m := tinyModel(t, 7)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for sequence longer than the position table")
		}
	}()
	m.DecInput.Forward(make([]int, m.Params.TargetMaxlen+1))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := tinyModel(t, 8)
	path := filepath.Join(t.TempDir(), "nested", "model.msgpack")
	if err := Save(m, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Digest == 0 || got.Digest != m.Digest {
		t.Fatalf("digest %x, saved %x", got.Digest, m.Digest)
	}
	if !slices.Equal(got.Vocab, tinyVocab) {
		t.Fatalf("vocab = %v", got.Vocab)
	}
	want := m.tensors()
	for i, tt := range got.tensors() {
		if tt.name != want[i].name || !mat.Equal(tt.m, want[i].m) {
			t.Fatalf("tensor %s differs after reload", tt.name)
		}
	}
	feats := randomFeatures(8, 20, 5)
	if !slices.Equal(got.Generate(feats, greedy()), m.Generate(feats, greedy())) {
		t.Fatal("reloaded model decodes differently")
	}
}

func TestLoadRejectsMismatch(t *testing.T) {
	m := tinyModel(t, 9)
	raw, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var data modelData
	if err := msgpack.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data.Tensors[0].Rows++
	bad, _ := msgpack.Marshal(&data)
	if _, err := Unmarshal(bad); !errors.Is(err, ErrArchitectureMismatch) {
		t.Fatalf("reshaped tensor: err = %v, want ErrArchitectureMismatch", err)
	}

	data.Tensors[0].Rows--
	data.Tensors = data.Tensors[1:]
	bad, _ = msgpack.Marshal(&data)
	if _, err := Unmarshal(bad); !errors.Is(err, ErrArchitectureMismatch) {
		t.Fatalf("missing tensor: err = %v, want ErrArchitectureMismatch", err)
	}

	data.Version = ArtifactVersion + 1
	bad, _ = msgpack.Marshal(&data)
	if _, err := Unmarshal(bad); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("version: err = %v, want ErrUnsupportedVersion", err)
	}
}

func flatSchedule(t *testing.T, lr float64) optimizations.Schedule {
	t.Helper()
	s, err := optimizations.NewSchedule(params.ScheduleParams{
		InitLR: lr, LRAfterWarmup: lr, FinalLR: lr,
		WarmupEpochs: 2, DecayEpochs: 1, StepsPerEpoch: 1,
	})
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	return s
}

func TestHeadGradientMatchesFiniteDifference(t *testing.T) {
	m := tinyModel(t, 10)
	tr := NewHeadTrainer(m, flatSchedule(t, 0.01), params.Default().Train)
	batch := []Example{
		{Features: randomFeatures(20, 20, 5), Target: []int{2, 4, 5, 3, 0, 0}},
		{Features: randomFeatures(21, 20, 5), Target: []int{2, 5, 3, 0, 0, 0}},
	}
	_, dW, db, _, err := tr.gradients(batch, nil)
	if err != nil {
		t.Fatalf("gradients: %v", err)
	}
	const eps = 1e-6
	numeric := func(p *mat.Dense, i, j int) float64 {
		orig := p.At(i, j)
		p.Set(i, j, orig+eps)
		up, _ := tr.Evaluate(batch)
		p.Set(i, j, orig-eps)
		down, _ := tr.Evaluate(batch)
		p.Set(i, j, orig)
		return (up - down) / (2 * eps)
	}
	for _, ij := range [][2]int{{0, 0}, {3, 2}, {4, 7}, {5, 5}} {
		if n, a := numeric(m.Classifier.W, ij[0], ij[1]), dW.At(ij[0], ij[1]); math.Abs(n-a) > 1e-6 {
			t.Fatalf("dW[%d][%d]: analytic %g, numeric %g", ij[0], ij[1], a, n)
		}
	}
	for i := 0; i < len(tinyVocab); i++ {
		if n, a := numeric(m.Classifier.B, i, 0), db.At(i, 0); math.Abs(n-a) > 1e-6 {
			t.Fatalf("db[%d]: analytic %g, numeric %g", i, a, n)
		}
	}
}

func TestTrainStepReducesLoss(t *testing.T) {
	p := tinyParams()
	p.DropoutRate, p.SelfAttnDropout = 0, 0
	m, err := CreateTransformer(p, tinyVocab, rand.New(rand.NewPCG(11, 11)))
	if err != nil {
		t.Fatalf("CreateTransformer: %v", err)
	}
	tr := NewHeadTrainer(m, flatSchedule(t, 0.05), params.Default().Train)
	batch := []Example{{Features: randomFeatures(30, 20, 5), Target: []int{2, 4, 5, 4, 3, 0}}}

	before, err := tr.Evaluate(batch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for i := 0; i < 30; i++ {
		if _, _, err := tr.TrainStep(batch); err != nil {
			t.Fatalf("TrainStep: %v", err)
		}
	}
	after, _ := tr.Evaluate(batch)
	if !(after < before) {
		t.Fatalf("loss did not drop: before %g after %g", before, after)
	}
	if tr.Step != 30 || tr.Opt.T != 30 {
		t.Fatalf("step counters = %d/%d, want 30", tr.Step, tr.Opt.T)
	}
}

func TestTrainStepRejectsAllPadding(t *testing.T) {
	m := tinyModel(t, 12)
	tr := NewHeadTrainer(m, flatSchedule(t, 0.01), params.Default().Train)
	batch := []Example{{Features: randomFeatures(31, 20, 5), Target: []int{2, 0, 0}}}
	if _, _, err := tr.TrainStep(batch); err == nil {
		t.Fatal("expected error for a batch with only padding targets")
	}
}
