package optimizations

import (
	"fmt"
	"math"

	"github.com/manningwu07/ArabicASR/params"
)

// Schedule is a linear warmup followed by a linear decay, floored at FinalLR.
// The two ramps are stitched with min() rather than a branch; with the default
// values they cross once at WarmupEpochs.
type Schedule struct {
	InitLR        float64
	LRAfterWarmup float64
	FinalLR       float64
	WarmupEpochs  int
	DecayEpochs   int
	StepsPerEpoch int
}

func NewSchedule(p params.ScheduleParams) (Schedule, error) {
	switch {
	case p.WarmupEpochs < 2:
		return Schedule{}, fmt.Errorf("schedule: warmup_epochs must be >= 2, got %d", p.WarmupEpochs)
	case p.DecayEpochs <= 0:
		return Schedule{}, fmt.Errorf("schedule: decay_epochs must be > 0, got %d", p.DecayEpochs)
	case p.StepsPerEpoch <= 0:
		return Schedule{}, fmt.Errorf("schedule: steps_per_epoch must be > 0, got %d", p.StepsPerEpoch)
	}
	return Schedule{
		InitLR:        p.InitLR,
		LRAfterWarmup: p.LRAfterWarmup,
		FinalLR:       p.FinalLR,
		WarmupEpochs:  p.WarmupEpochs,
		DecayEpochs:   p.DecayEpochs,
		StepsPerEpoch: p.StepsPerEpoch,
	}, nil
}

// Epoch maps a global optimizer step to its (floored) epoch.
func (s Schedule) Epoch(step int) int {
	return step / s.StepsPerEpoch
}

// LearningRate returns the rate for a global optimizer step.
func (s Schedule) LearningRate(step int) float64 {
	return s.CalculateLR(float64(s.Epoch(step)))
}

func (s Schedule) CalculateLR(epoch float64) float64 {
	warmup := s.InitLR + ((s.LRAfterWarmup-s.InitLR)/float64(s.WarmupEpochs-1))*epoch
	decay := math.Max(s.FinalLR,
		s.LRAfterWarmup-(epoch-float64(s.WarmupEpochs))*(s.LRAfterWarmup-s.FinalLR)/float64(s.DecayEpochs))
	return math.Min(warmup, decay)
}
