package ops

import (
	"fmt"

	"github.com/born-ml/stylize/internal/tensor"
)

// ReLUOp records y = max(0, x). The gradient passes where x > 0.
type ReLUOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(input, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{input: input, output: output}
}

// Backward masks the output gradient with x > 0.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	mask, err := tensor.NewRaw(op.input.Shape(), op.input.DType(), backend.Device())
	if err != nil {
		panic(fmt.Sprintf("relu backward: %v", err))
	}

	switch op.input.DType() {
	case tensor.Float32:
		m := mask.AsFloat32()
		for i, v := range op.input.AsFloat32() {
			if v > 0 {
				m[i] = 1
			}
		}
	case tensor.Float64:
		m := mask.AsFloat64()
		for i, v := range op.input.AsFloat64() {
			if v > 0 {
				m[i] = 1
			}
		}
	default:
		panic(fmt.Sprintf("relu backward: unsupported dtype %s", op.input.DType()))
	}

	return []*tensor.RawTensor{backend.Mul(outputGrad, mask)}
}

// Inputs returns [x].
func (op *ReLUOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns max(0, x).
func (op *ReLUOp) Output() *tensor.RawTensor { return op.output }
