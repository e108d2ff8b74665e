package style

import (
	"errors"
	"fmt"
	"time"

	"github.com/born-ml/stylize/internal/optim"
	"github.com/born-ml/stylize/internal/vgg"
)

// Errors reported by the pipeline.
var (
	// ErrNonFinite reports NaN or Inf in the loss or the image gradient.
	ErrNonFinite = errors.New("non-finite value")
	// ErrShape reports images, layers or weights inconsistent with the network.
	ErrShape = vgg.ErrShape
)

// OptimizerKind selects the pixel optimizer.
type OptimizerKind string

// Supported optimizers.
const (
	OptimizerAdam OptimizerKind = "adam"
	OptimizerSGD  OptimizerKind = "sgd"
)

// Progress is reported after every step.
type Progress struct {
	Iteration   int // completed steps, 1-based
	Total       int // configured iterations
	Loss        float64
	StyleLoss   float64
	ContentLoss float64
	Elapsed     time.Duration
}

// Config holds the pipeline settings.
type Config struct {
	Iterations    int
	StyleWeight   float64
	ContentWeight float64

	Optimizer OptimizerKind
	Adam      optim.AdamConfig
	SGD       optim.SGDConfig

	// LogEvery logs progress at info level every n steps. 0 disables it.
	LogEvery int
	// OnProgress, if set, is called after every step.
	OnProgress func(Progress)
}

// DefaultConfig returns the classic settings: 5 Adam steps with lr 0.02,
// beta1 0.99 and epsilon 0.1 in the Keras convention, style weight 1e-2 and
// content weight 1e4.
func DefaultConfig() Config {
	return Config{
		Iterations:    5,
		StyleWeight:   1e-2,
		ContentWeight: 1e4,
		Optimizer:     OptimizerAdam,
		Adam: optim.AdamConfig{
			LR:     0.02,
			Betas:  [2]float32{0.99, 0.999},
			Eps:    0.1,
			EpsHat: true,
		},
		SGD:      optim.SGDConfig{LR: 0.02, Momentum: 0.9},
		LogEvery: 1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Iterations < 0 {
		return fmt.Errorf("iterations must be >= 0, got %d", c.Iterations)
	}
	if c.LogEvery < 0 {
		return fmt.Errorf("log interval must be >= 0, got %d", c.LogEvery)
	}
	if !(c.StyleWeight >= 0) || !(c.ContentWeight >= 0) || !finite(c.StyleWeight) || !finite(c.ContentWeight) {
		return fmt.Errorf("loss weights must be >= 0, got style %g content %g", c.StyleWeight, c.ContentWeight)
	}
	switch c.Optimizer {
	case OptimizerAdam:
		if !(c.Adam.LR > 0) || !finite(float64(c.Adam.LR)) {
			return fmt.Errorf("adam learning rate must be > 0, got %g", c.Adam.LR)
		}
		for i, b := range c.Adam.Betas {
			if !(b >= 0 && b < 1) {
				return fmt.Errorf("adam beta%d must be in [0,1), got %g", i+1, b)
			}
		}
		if !(c.Adam.Eps > 0) || !finite(float64(c.Adam.Eps)) {
			return fmt.Errorf("adam epsilon must be > 0, got %g", c.Adam.Eps)
		}
	case OptimizerSGD:
		if !(c.SGD.LR > 0) || !finite(float64(c.SGD.LR)) {
			return fmt.Errorf("sgd learning rate must be > 0, got %g", c.SGD.LR)
		}
		if !(c.SGD.Momentum >= 0 && c.SGD.Momentum < 1) {
			return fmt.Errorf("sgd momentum must be in [0,1), got %g", c.SGD.Momentum)
		}
	default:
		return fmt.Errorf("unknown optimizer %q (expected adam or sgd)", c.Optimizer)
	}
	return nil
}
