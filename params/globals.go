package params

// ModelParams is the architecture record of a speech transformer. It is stored
// in every model artifact and is enough to rebuild the layer graph before the
// weights are copied in.
type ModelParams struct {
	NumHid         int `yaml:"num_hid" msgpack:"num_hid"`                   // model width
	NumHead        int `yaml:"num_head" msgpack:"num_head"`                 // attention heads
	KeyDim         int `yaml:"key_dim" msgpack:"key_dim"`                   // per-head projection, 0 = NumHid
	NumFeedForward int `yaml:"num_feed_forward" msgpack:"num_feed_forward"` // FFN hidden
	SourceMaxlen   int `yaml:"source_maxlen" msgpack:"source_maxlen"`
	TargetMaxlen   int `yaml:"target_maxlen" msgpack:"target_maxlen"` // position table + decode bound
	NumLayersEnc   int `yaml:"num_layers_enc" msgpack:"num_layers_enc"`
	NumLayersDec   int `yaml:"num_layers_dec" msgpack:"num_layers_dec"`
	NumClasses     int `yaml:"num_classes" msgpack:"num_classes"` // |V|

	ConvKernel  int `yaml:"conv_kernel" msgpack:"conv_kernel"`
	ConvStride  int `yaml:"conv_stride" msgpack:"conv_stride"`
	ConvLayers  int `yaml:"conv_layers" msgpack:"conv_layers"`
	FeatureBins int `yaml:"feature_bins" msgpack:"feature_bins"` // spectrogram width fed to the first conv

	DropoutRate     float64 `yaml:"dropout_rate" msgpack:"dropout_rate"`
	SelfAttnDropout float64 `yaml:"self_attn_dropout" msgpack:"self_attn_dropout"`
	LayerNormEps    float64 `yaml:"layer_norm_eps" msgpack:"layer_norm_eps"`
}

// HeadDim returns the per-head projection width.
func (p ModelParams) HeadDim() int {
	if p.KeyDim > 0 {
		return p.KeyDim
	}
	return p.NumHid
}

// AudioParams controls waveform loading and the spectrogram front end.
type AudioParams struct {
	SampleRate           int     `yaml:"sample_rate"`
	FixedLength          int     `yaml:"fixed_length"` // samples kept per utterance
	FrameLength          int     `yaml:"frame_length"`
	FrameStep            int     `yaml:"frame_step"`
	FFTLength            int     `yaml:"fft_length"`
	PowerExponent        float64 `yaml:"power_exponent"`
	NoiseReductionFactor float64 `yaml:"noise_reduction_factor"`
	VarianceEpsilon      float64 `yaml:"variance_epsilon"`
}

// NumFrames is the number of STFT frames produced for FixedLength samples.
func (a AudioParams) NumFrames() int {
	if a.FixedLength < a.FrameLength {
		return 0
	}
	return 1 + (a.FixedLength-a.FrameLength)/a.FrameStep
}

// NumBins is the number of non-negative frequency bins per frame.
func (a AudioParams) NumBins() int {
	return a.FFTLength/2 + 1
}

type DecodeParams struct {
	StartToken int  `yaml:"start_token"`
	EndToken   int  `yaml:"end_token"`
	KVCache    bool `yaml:"kv_cache"` // incremental decoding, same output as full re-decode
}

type ScheduleParams struct {
	InitLR        float64 `yaml:"init_lr"`
	LRAfterWarmup float64 `yaml:"lr_after_warmup"`
	FinalLR       float64 `yaml:"final_lr"`
	WarmupEpochs  int     `yaml:"warmup_epochs"`
	DecayEpochs   int     `yaml:"decay_epochs"`
	StepsPerEpoch int     `yaml:"steps_per_epoch"`
}

type TrainParams struct {
	ManifestPath string  `yaml:"manifest_path"` // csv with audio,text columns
	LogPath      string  `yaml:"log_path"`
	MaxEpochs    int     `yaml:"max_epochs"`
	Patience     int     `yaml:"patience"` // early stopping on validation loss
	BatchSize    int     `yaml:"batch_size"`
	ValFrac      float64 `yaml:"val_frac"`
	Seed         uint64  `yaml:"seed"`

	AdamBeta1   float64 `yaml:"adam_beta1"`
	AdamBeta2   float64 `yaml:"adam_beta2"`
	AdamEps     float64 `yaml:"adam_eps"`
	GradClip    float64 `yaml:"grad_clip"` // <=0 disables
	WeightDecay float64 `yaml:"weight_decay"`
}

// Config is built once at process start and passed down explicitly.
type Config struct {
	InputDir   string   `yaml:"input_dir"`
	OutputPath string   `yaml:"output_path"`
	ModelPath  string   `yaml:"model_path"`
	CacheDir   string   `yaml:"cache_dir"` // empty disables the transcript cache
	Workers    int      `yaml:"workers"`   // 0 = GOMAXPROCS
	Extensions []string `yaml:"extensions"`

	Audio    AudioParams    `yaml:"audio"`
	Model    ModelParams    `yaml:"model"`
	Decode   DecodeParams   `yaml:"decode"`
	Schedule ScheduleParams `yaml:"schedule"`
	Train    TrainParams    `yaml:"train"`
}

// Arabic alphabet used by the character vocabulary, after the four sentinels.
var ArabicAlphabet = []string{
	" ", "ء", "آ", "أ", "ؤ", "إ", "ئ", "ا", "ب", "ة", "ت", "ث", "ج", "ح",
	"خ", "د", "ذ", "ر", "ز", "س", "ش", "ص", "ض", "ط", "ظ", "ع", "غ", "ف",
	"ق", "ك", "ل", "م", "ن", "ه", "و", "ى", "ي",
}

// Sentinel symbols, in vocabulary order.
const (
	PadSymbol   = "-"
	UnkSymbol   = "#"
	StartSymbol = "<"
	EndSymbol   = ">"
)

// How many positions the token table holds; also the codec length.
const MaxTargetLen = 200

// Default returns the configuration the model was trained with.
func Default() Config {
	return Config{
		OutputPath: "transcripts.csv",
		ModelPath:  "models/model.msgpack",
		Extensions: []string{".wav"},

		Audio: AudioParams{
			SampleRate:           16000,
			FixedLength:          48000,
			FrameLength:          200,
			FrameStep:            80,
			FFTLength:            256,
			PowerExponent:        0.5,
			NoiseReductionFactor: 0.05,
			VarianceEpsilon:      1e-10,
		},
		Model: ModelParams{
			NumHid:          200,
			NumHead:         2,
			NumFeedForward:  400,
			SourceMaxlen:    100,
			TargetMaxlen:    MaxTargetLen,
			NumLayersEnc:    4,
			NumLayersDec:    1,
			NumClasses:      4 + len(ArabicAlphabet),
			ConvKernel:      11,
			ConvStride:      2,
			ConvLayers:      3,
			FeatureBins:     129,
			DropoutRate:     0.1,
			SelfAttnDropout: 0.5,
			LayerNormEps:    1e-6,
		},
		Decode: DecodeParams{
			StartToken: 2,
			EndToken:   3,
			KVCache:    true,
		},
		Schedule: ScheduleParams{
			InitLR:        0.00001,
			LRAfterWarmup: 0.001,
			FinalLR:       0.00001,
			WarmupEpochs:  15,
			DecayEpochs:   85,
			StepsPerEpoch: 203,
		},
		Train: TrainParams{
			LogPath:     "training_log.csv",
			MaxEpochs:   100,
			Patience:    10,
			BatchSize:   64,
			ValFrac:     0.1,
			Seed:        1,
			AdamBeta1:   0.9,
			AdamBeta2:   0.999,
			AdamEps:     1e-8,
			GradClip:    1.0,
			WeightDecay: 0.0,
		},
	}
}
