package ops

import "github.com/born-ml/stylize/internal/tensor"

// Conv2DOp records a 2D convolution.
//
// Backward:
//   - d_input:  transposed convolution of d_output with the kernel
//   - d_kernel: correlation of the input with d_output
//
// Either gradient can be disabled. A frozen pretrained kernel never needs
// d_kernel, and the first layer's constant input never needs d_input.
type Conv2DOp struct {
	input      *tensor.RawTensor
	kernel     *tensor.RawTensor
	output     *tensor.RawTensor
	stride     int
	padding    int
	needInput  bool
	needKernel bool
}

// NewConv2DOpWithGrads creates a Conv2DOp computing only the requested gradients.
func NewConv2DOpWithGrads(input, kernel, output *tensor.RawTensor, stride, padding int, needInput, needKernel bool) *Conv2DOp {
	return &Conv2DOp{
		input:      input,
		kernel:     kernel,
		output:     output,
		stride:     stride,
		padding:    padding,
		needInput:  needInput,
		needKernel: needKernel,
	}
}

// Inputs returns [input, kernel].
func (op *Conv2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input, op.kernel}
}

// Output returns the convolution result.
func (op *Conv2DOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward delegates both gradients to the backend.
//
//	outputGrad: [N, C_out, H_out, W_out]
//	inputGrad:  [N, C_in, H, W]
//	kernelGrad: [C_out, C_in, K_h, K_w]
func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, 2)
	if op.needInput {
		grads[0] = backend.Conv2DInputBackward(op.input, op.kernel, outputGrad, op.stride, op.padding)
	}
	if op.needKernel {
		grads[1] = backend.Conv2DKernelBackward(op.input, op.kernel, outputGrad, op.stride, op.padding)
	}
	return grads
}
