// Package optim implements the gradient-descent optimizers that update the
// stylized image.
//
//	cfg := optim.DefaultAdamConfig()
//	cfg.LR = 0.02
//	opt := optim.NewAdam(params, cfg, backend)
//	for range iterations {
//	    grads := autodiff.Backward(loss, backend)
//	    opt.Step(grads)
//	    opt.ZeroGrad()
//	}
package optim

import (
	"github.com/born-ml/stylize/internal/nn"
	"github.com/born-ml/stylize/internal/tensor"
)

// Optimizer updates parameters in place from a gradient map produced by autodiff.
type Optimizer interface {
	// Step applies one update. Parameters without a gradient are skipped.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32
}

// getGradient looks up the gradient for a parameter, or nil.
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	return grads[param.Tensor().Raw()]
}
