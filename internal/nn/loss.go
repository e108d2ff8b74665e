package nn

import (
	"fmt"

	"github.com/born-ml/stylize/internal/tensor"
)

// MSELoss computes the mean squared error, mean((predictions - targets)²),
// as a differentiable 0-D tensor.
type MSELoss[B tensor.Backend] struct{}

// NewMSELoss creates a new MSE loss function.
func NewMSELoss[B tensor.Backend]() *MSELoss[B] {
	return &MSELoss[B]{}
}

// Forward computes the loss. Shapes must match exactly.
func (m *MSELoss[B]) Forward(predictions, targets *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !predictions.Shape().Equal(targets.Shape()) {
		panic(fmt.Sprintf("mse: predictions %v and targets %v must have the same shape",
			predictions.Shape(), targets.Shape()))
	}

	diff := predictions.Sub(targets)
	return diff.Mul(diff).Sum().MulScalar(1 / float64(predictions.NumElements()))
}
