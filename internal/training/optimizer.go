package training

import (
	"math"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"

	"phishing-detector/internal/model"
)

// newAdamW is Adam with decoupled weight decay
func newAdamW(opts Options) optimizers.Interface {
	return optimizers.Adam().
		Betas(opts.Beta1, opts.Beta2).
		Epsilon(opts.Epsilon).
		WeightDecay(opts.WeightDecay).
		Done()
}

// learningRate is the optimizer's learning-rate variable. The trainer sets it
// from the schedule before every step.
type learningRate struct {
	v *context.Variable
}

func newLearningRate(ctx *context.Context, peak float64) *learningRate {
	ctx.SetParam(optimizers.ParamLearningRate, peak)
	return &learningRate{v: optimizers.LearningRateVar(ctx, model.DType, peak)}
}

// Set takes effect on the next train step
func (lr *learningRate) Set(rate float64) {
	lr.v.SetValue(tensors.FromScalar(float32(rate)))
}

// Value reads the variable back
func (lr *learningRate) Value() float64 {
	return scalar(lr.v.Value())
}

// LinearSchedule warms up linearly to Peak over Warmup steps, then decays
// linearly to zero at Total
type LinearSchedule struct {
	Peak   float64
	Warmup int
	Total  int
}

// NewLinearSchedule derives the warmup length from a ratio of total steps
func NewLinearSchedule(peak float64, total int, warmupRatio float64) LinearSchedule {
	return LinearSchedule{
		Peak:   peak,
		Warmup: int(math.Ceil(float64(total) * warmupRatio)),
		Total:  total,
	}
}

// LR is the learning rate for the zero-based step
func (s LinearSchedule) LR(step int) float64 {
	if step < s.Warmup {
		return s.Peak * float64(step+1) / float64(s.Warmup)
	}
	remaining := s.Total - s.Warmup
	if remaining <= 0 {
		return s.Peak
	}
	frac := 1 - float64(step-s.Warmup)/float64(remaining)
	if frac < 0 {
		frac = 0
	}
	return s.Peak * frac
}
