package transformer

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/params"
	"github.com/manningwu07/ArabicASR/utils"
)

// Conv1D is a strided 1-D convolution over time with "same" padding and a
// ReLU activation. Input and output are column-per-timestep: (In x T) and
// (Out x ceil(T/Stride)).
type Conv1D struct {
	Kernel, Stride int
	In, Out        int
	W              *mat.Dense // (Out x Kernel*In), row k*In+c of a patch is tap k, channel c
	B              *mat.Dense // (Out x 1)
}

func NewConv1D(in, out, kernel, stride int, rng *rand.Rand) *Conv1D {
	fanIn := kernel * in
	return &Conv1D{
		Kernel: kernel,
		Stride: stride,
		In:     in,
		Out:    out,
		W:      mat.NewDense(out, fanIn, utils.RandomArray(rng, out*fanIn, float64(fanIn))),
		B:      mat.NewDense(out, 1, nil),
	}
}

// OutputLen is the number of time steps produced for an input of length T.
func (c *Conv1D) OutputLen(T int) int {
	return (T + c.Stride - 1) / c.Stride
}

// padding returns the zero padding applied before the first input step.
// Any odd remainder goes to the end, as TensorFlow does.
func (c *Conv1D) padding(T int) int {
	total := (c.OutputLen(T)-1)*c.Stride + c.Kernel - T
	if total < 0 {
		total = 0
	}
	return total / 2
}

func (c *Conv1D) Forward(X *mat.Dense) *mat.Dense {
	in, T := X.Dims()
	if in != c.In {
		panic(fmt.Sprintf("Conv1D.Forward: expected %d channels, got %d", c.In, in))
	}
	outLen := c.OutputLen(T)
	pad := c.padding(T)

	// im2col: one column per output step
	patches := mat.NewDense(c.Kernel*c.In, outLen, nil)
	for t := 0; t < outLen; t++ {
		for k := 0; k < c.Kernel; k++ {
			src := t*c.Stride + k - pad
			if src < 0 || src >= T {
				continue
			}
			for ch := 0; ch < c.In; ch++ {
				patches.Set(k*c.In+ch, t, X.At(ch, src))
			}
		}
	}
	Y := utils.Linear(c.W, patches, c.B)
	Y.Apply(utils.ReluApply, Y)
	return Y
}

// SpeechFeatureEmbedding turns a spectrogram (bins x frames) into hidden
// states (hidden x frames/2^layers) with a stack of strided convolutions.
// No positional term is added; the convolutions carry local order.
type SpeechFeatureEmbedding struct {
	Convs []*Conv1D
}

func NewSpeechFeatureEmbedding(p params.ModelParams, rng *rand.Rand) *SpeechFeatureEmbedding {
	convs := make([]*Conv1D, p.ConvLayers)
	in := p.FeatureBins
	for i := range convs {
		convs[i] = NewConv1D(in, p.NumHid, p.ConvKernel, p.ConvStride, rng)
		in = p.NumHid
	}
	return &SpeechFeatureEmbedding{Convs: convs}
}

func (e *SpeechFeatureEmbedding) Forward(X *mat.Dense, _ *Dropout) *mat.Dense {
	for _, c := range e.Convs {
		X = c.Forward(X)
	}
	return X
}

// OutputLen is the encoder sequence length for T input frames.
func (e *SpeechFeatureEmbedding) OutputLen(T int) int {
	for _, c := range e.Convs {
		T = c.OutputLen(T)
	}
	return T
}
