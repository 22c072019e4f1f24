// Package features turns raw waveforms into the fixed-shape normalized
// spectrograms the speech encoder consumes.
package features

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/manningwu07/ArabicASR/params"
)

// Extractor computes (frames x bins) features. It holds no mutable state and
// is safe for concurrent use.
type Extractor struct {
	p      params.AudioParams
	window []float64
}

func New(p params.AudioParams) (*Extractor, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	return &Extractor{p: p, window: HannWindow(p.FrameLength)}, nil
}

// Shape is the feature matrix shape produced for every input.
func (e *Extractor) Shape() (frames, bins int) {
	return e.p.NumFrames(), e.p.NumBins()
}

// HannWindow returns the periodic Hann window of length n.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// FixLength truncates or right-pads wave with zeros to FixedLength samples.
// The input is never modified.
func (e *Extractor) FixLength(wave []float64) []float64 {
	out := make([]float64, e.p.FixedLength)
	copy(out, wave)
	return out
}

// Spectrogram is the compressed STFT magnitude of wave: frames start every
// FrameStep samples, trailing samples that do not fill a frame are dropped.
func (e *Extractor) Spectrogram(wave []float64) *mat.Dense {
	frames := 0
	if len(wave) >= e.p.FrameLength {
		frames = 1 + (len(wave)-e.p.FrameLength)/e.p.FrameStep
	}
	bins := e.p.NumBins()
	out := mat.NewDense(max(frames, 1), bins, nil)
	if frames == 0 {
		return out
	}

	fft := fourier.NewFFT(e.p.FFTLength)
	buf := make([]float64, e.p.FFTLength)
	coeff := make([]complex128, bins)
	for f := 0; f < frames; f++ {
		start := f * e.p.FrameStep
		for i := range buf {
			buf[i] = 0
		}
		for i := 0; i < e.p.FrameLength; i++ {
			buf[i] = wave[start+i] * e.window[i]
		}
		coeff = fft.Coefficients(coeff, buf)
		row := out.RawRowView(f)
		for k, c := range coeff {
			row[k] = math.Pow(cmplx.Abs(c), e.p.PowerExponent)
		}
	}
	return out
}

// Normalize standardizes spec in place over all of its entries using the
// population variance: (x - mean) / sqrt(var + eps).
func (e *Extractor) Normalize(spec *mat.Dense) *mat.Dense {
	data := values(spec)
	mean, variance := stat.PopMeanVariance(data, nil)
	inv := 1 / math.Sqrt(variance+e.p.VarianceEpsilon)
	spec.Apply(func(_, _ int, v float64) float64 {
		return (v - mean) * inv
	}, spec)
	return spec
}

// Gate zeroes, in place, every entry below NoiseReductionFactor times the
// mean of spec.
func (e *Extractor) Gate(spec *mat.Dense) *mat.Dense {
	threshold := e.p.NoiseReductionFactor * stat.Mean(values(spec), nil)
	spec.Apply(func(_, _ int, v float64) float64 {
		if v < threshold {
			return 0
		}
		return v
	}, spec)
	return spec
}

// Extract runs the full front end. The result is always Shape() regardless
// of the input length.
func (e *Extractor) Extract(wave []float64) *mat.Dense {
	spec := e.Spectrogram(e.FixLength(wave))
	return e.Gate(e.Normalize(spec))
}

func values(m *mat.Dense) []float64 {
	raw := m.RawMatrix()
	if raw.Stride == raw.Cols {
		return raw.Data[:raw.Rows*raw.Cols]
	}
	out := make([]float64, 0, raw.Rows*raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}
