package IO

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

var ErrNotWAV = errors.New("not a PCM WAV file")

// ReadWaveform decodes a PCM WAV file into samples in [-1, 1] at sampleRate.
// Only the first channel is kept. Files at another rate are resampled.
func ReadWaveform(path string, sampleRate int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotWAV)
	}
	if d.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%s: audio format %d: %w", path, d.WavAudioFormat, ErrNotWAV)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	chans := int(d.NumChans)
	if chans < 1 {
		chans = 1
	}
	bitDepth := int(d.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("%s: unsupported bit depth %d: %w", path, bitDepth, ErrNotWAV)
	}
	scale := float64(int64(1) << (bitDepth - 1))
	samples := make([]float64, 0, len(buf.Data)/chans)
	for i := 0; i < len(buf.Data); i += chans {
		s := buf.Data[i]
		if bitDepth == 8 {
			s -= 128 // 8-bit WAV is unsigned
		}
		samples = append(samples, float64(s)/scale)
	}

	rate := int(d.SampleRate)
	if rate == sampleRate || rate == 0 || len(samples) == 0 {
		return samples, nil
	}
	return Resample(samples, rate, sampleRate)
}

// Resample converts mono samples from one rate to another.
func Resample(samples []float64, from, to int) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler %d->%d: %w", from, to, err)
	}
	out, err := r.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample %d->%d: %w", from, to, err)
	}
	return out, nil
}
