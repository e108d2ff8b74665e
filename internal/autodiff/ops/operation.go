// Package ops defines the differentiable operations recorded on the gradient tape.
//
// Each operation keeps references to its inputs and output from the forward pass
// and maps the output gradient to one gradient per input. A nil entry means the
// input needs no gradient.
//
// Supported operations:
//   - AddOp, SubOp, MulOp: element-wise with broadcasting
//   - MulScalarOp: multiplication by a constant
//   - BatchMatMulOp: d(A@B)/dA = grad@B^T, d(A@B)/dB = A^T@grad
//   - ReshapeOp, TransposeOp: layout changes
//   - SumOp, SumDimOp: reductions
//   - ReLUOp, Conv2DOp, MaxPool2DOp: network layers
package ops

import "github.com/born-ml/stylize/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// The returned slice is aligned with Inputs.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}
