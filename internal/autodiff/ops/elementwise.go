package ops

import "github.com/born-ml/stylize/internal/tensor"

// AddOp records c = a + b.
// Each needed input receives the output gradient, reduced over broadcast
// dimensions. A frozen conv bias is never needed.
type AddOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
	need   [2]bool
}

// NewAddOp creates a new AddOp computing gradients only for the needed inputs.
func NewAddOp(a, b, output *tensor.RawTensor, needA, needB bool) *AddOp {
	return &AddOp{inputs: []*tensor.RawTensor{a, b}, output: output, need: [2]bool{needA, needB}}
}

// Backward computes input gradients for addition.
func (op *AddOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, 2)
	for i, in := range op.inputs {
		if op.need[i] {
			grads[i] = reduceBroadcast(outputGrad, in.Shape(), backend)
		}
	}
	return grads
}

// Inputs returns [a, b].
func (op *AddOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns a + b.
func (op *AddOp) Output() *tensor.RawTensor { return op.output }

// SubOp records c = a - b.
type SubOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
	need   [2]bool
}

// NewSubOp creates a new SubOp computing gradients only for the needed inputs.
func NewSubOp(a, b, output *tensor.RawTensor, needA, needB bool) *SubOp {
	return &SubOp{inputs: []*tensor.RawTensor{a, b}, output: output, need: [2]bool{needA, needB}}
}

// Backward computes input gradients: d/da = grad, d/db = -grad.
func (op *SubOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, 2)
	if op.need[0] {
		grads[0] = reduceBroadcast(outputGrad, op.inputs[0].Shape(), backend)
	}
	if op.need[1] {
		grads[1] = reduceBroadcast(backend.MulScalar(outputGrad, -1), op.inputs[1].Shape(), backend)
	}
	return grads
}

// Inputs returns [a, b].
func (op *SubOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns a - b.
func (op *SubOp) Output() *tensor.RawTensor { return op.output }

// MulOp records c = a * b.
type MulOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
	need   [2]bool
}

// NewMulOp creates a new MulOp computing gradients only for the needed inputs.
func NewMulOp(a, b, output *tensor.RawTensor, needA, needB bool) *MulOp {
	return &MulOp{inputs: []*tensor.RawTensor{a, b}, output: output, need: [2]bool{needA, needB}}
}

// Backward computes input gradients: d/da = grad * b, d/db = grad * a.
func (op *MulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	grads := make([]*tensor.RawTensor, 2)
	if op.need[0] {
		grads[0] = reduceBroadcast(backend.Mul(outputGrad, b), a.Shape(), backend)
	}
	if op.need[1] {
		grads[1] = reduceBroadcast(backend.Mul(outputGrad, a), b.Shape(), backend)
	}
	return grads
}

// Inputs returns [a, b].
func (op *MulOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns a * b.
func (op *MulOp) Output() *tensor.RawTensor { return op.output }

// MulScalarOp records y = x * s for a constant s.
type MulScalarOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	scalar float64
}

// NewMulScalarOp creates a new MulScalarOp.
func NewMulScalarOp(input, output *tensor.RawTensor, scalar float64) *MulScalarOp {
	return &MulScalarOp{input: input, output: output, scalar: scalar}
}

// Backward scales the output gradient by the same constant.
func (op *MulScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MulScalar(outputGrad, op.scalar)}
}

// Inputs returns [x].
func (op *MulScalarOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns x * s.
func (op *MulScalarOp) Output() *tensor.RawTensor { return op.output }
