package ops

import (
	"github.com/born-ml/stylize/internal/tensor"
)

// MaxPool2DOp records a max pooling operation.
//
// Each output gradient flows only to the input position that held the window
// maximum, so the flat indices of those positions are captured at forward time.
//
//	Input:  [[1, 2],  Output: [4]  Input grad: [[0, 0],
//	         [3, 4]]                            [0, g]]
type MaxPool2DOp struct {
	input      *tensor.RawTensor
	output     *tensor.RawTensor
	maxIndices []int
	kernelSize int
	stride     int
}

// NewMaxPool2DOp creates a MaxPool2DOp and records the argmax of every window.
func NewMaxPool2DOp(input, output *tensor.RawTensor, kernelSize, stride int) *MaxPool2DOp {
	return &MaxPool2DOp{
		input:      input,
		output:     output,
		maxIndices: computeMaxIndices(input, output, kernelSize, stride),
		kernelSize: kernelSize,
		stride:     stride,
	}
}

// Backward routes gradients to the recorded max positions.
func (op *MaxPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.MaxPool2DBackward(op.input, outputGrad, op.maxIndices, op.kernelSize, op.stride),
	}
}

// Inputs returns [x].
func (op *MaxPool2DOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the pooled tensor.
func (op *MaxPool2DOp) Output() *tensor.RawTensor { return op.output }

// computeMaxIndices finds the flat input index of the maximum in each pooling window.
// Ties keep the first position in row-major window order.
func computeMaxIndices(input, output *tensor.RawTensor, kernelSize, stride int) []int {
	in, out := input.Shape(), output.Shape()
	n, c, h, w := in[0], in[1], in[2], in[3]
	hOut, wOut := out[2], out[3]

	var at func(i int) float64
	switch input.DType() {
	case tensor.Float32:
		data := input.AsFloat32()
		at = func(i int) float64 { return float64(data[i]) }
	case tensor.Float64:
		data := input.AsFloat64()
		at = func(i int) float64 { return data[i] }
	default:
		panic("maxpool2d: unsupported dtype")
	}

	indices := make([]int, n*c*hOut*wOut)
	k := 0
	for plane := 0; plane < n*c; plane++ {
		base := plane * h * w
		for oh := 0; oh < hOut; oh++ {
			for ow := 0; ow < wOut; ow++ {
				best := base + oh*stride*w + ow*stride
				for kh := 0; kh < kernelSize; kh++ {
					for kw := 0; kw < kernelSize; kw++ {
						idx := base + (oh*stride+kh)*w + ow*stride + kw
						if at(idx) > at(best) {
							best = idx
						}
					}
				}
				indices[k] = best
				k++
			}
		}
	}
	return indices
}
