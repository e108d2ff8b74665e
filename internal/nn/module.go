// Package nn provides the neural network layers of the feature extractor.
//
// Layers are built from pretrained tensors and are used frozen: their
// parameters are never updated, but gradients flow through them to the input.
package nn

import (
	"github.com/born-ml/stylize/internal/tensor"
)

// Module is a layer that maps one float32 tensor to another.
type Module[B tensor.Backend] interface {
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns the module's parameters. Stateless modules return nil.
	Parameters() []*Parameter[B]
}
