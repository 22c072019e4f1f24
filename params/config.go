package params

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Load reads a YAML config on top of Default. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the values the pipeline cannot recover from.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if err := c.Audio.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Model.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Model.FeatureBins != c.Audio.NumBins() {
		errs = append(errs, fmt.Errorf("model.feature_bins %d does not match audio fft bins %d",
			c.Model.FeatureBins, c.Audio.NumBins()))
	}
	if err := c.Decode.Validate(c.Model.NumClasses); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks the sentinel ids against a vocabulary of numClasses ids.
func (d DecodeParams) Validate(numClasses int) error {
	switch {
	case d.StartToken < 0 || d.StartToken >= numClasses:
		return fmt.Errorf("decode.start_token %d outside vocabulary [0,%d)", d.StartToken, numClasses)
	case d.EndToken < 0 || d.EndToken >= numClasses:
		return fmt.Errorf("decode.end_token %d outside vocabulary [0,%d)", d.EndToken, numClasses)
	case d.StartToken == d.EndToken:
		return fmt.Errorf("decode.start_token and decode.end_token are both %d", d.StartToken)
	}
	return nil
}

func (a AudioParams) Validate() error {
	switch {
	case a.FixedLength <= 0:
		return fmt.Errorf("audio.fixed_length must be > 0")
	case a.FrameLength <= 0 || a.FrameStep <= 0:
		return fmt.Errorf("audio.frame_length and audio.frame_step must be > 0")
	case a.FFTLength < a.FrameLength:
		return fmt.Errorf("audio.fft_length %d is shorter than frame_length %d", a.FFTLength, a.FrameLength)
	case a.FixedLength < a.FrameLength:
		return fmt.Errorf("audio.fixed_length %d is shorter than one frame", a.FixedLength)
	}
	return nil
}

func (p ModelParams) Validate() error {
	switch {
	case p.NumHid <= 0 || p.NumHead <= 0 || p.NumFeedForward <= 0:
		return fmt.Errorf("model widths must be > 0")
	case p.TargetMaxlen < 2:
		return fmt.Errorf("model.target_maxlen must be >= 2, got %d", p.TargetMaxlen)
	case p.NumLayersEnc < 0 || p.NumLayersDec < 1:
		return fmt.Errorf("model needs >= 0 encoder and >= 1 decoder layers")
	case p.NumClasses < 4:
		return fmt.Errorf("model.num_classes must cover the 4 sentinels")
	case p.ConvKernel <= 0 || p.ConvStride <= 0 || p.ConvLayers < 1:
		return fmt.Errorf("model conv settings must be > 0")
	case p.FeatureBins <= 0:
		return fmt.Errorf("model.feature_bins must be > 0")
	case p.LayerNormEps <= 0:
		return fmt.Errorf("model.layer_norm_eps must be > 0")
	}
	return nil
}
