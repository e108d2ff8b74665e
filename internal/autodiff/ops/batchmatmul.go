package ops

import "github.com/born-ml/stylize/internal/tensor"

// BatchMatMulOp records C = A @ B for [batch, M, K] @ [batch, K, N].
//
// Backward:
//
//	dA = grad @ B^T  [batch, M, K]
//	dB = A^T @ grad  [batch, K, N]
//
// Only the needed gradients are computed; the constant color matrix of the
// preprocessing step never needs dB.
type BatchMatMulOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
	needA  bool
	needB  bool
}

// NewBatchMatMulOp creates a new BatchMatMulOp computing gradients only for
// the needed operands.
func NewBatchMatMulOp(a, b, output *tensor.RawTensor, needA, needB bool) *BatchMatMulOp {
	return &BatchMatMulOp{inputs: []*tensor.RawTensor{a, b}, output: output, needA: needA, needB: needB}
}

// Backward computes gradients for the needed operands.
func (op *BatchMatMulOp) Backward(grad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	grads := make([]*tensor.RawTensor, 2)
	if op.needA {
		grads[0] = backend.BatchMatMul(grad, backend.Transpose(b, 0, 2, 1))
	}
	if op.needB {
		grads[1] = backend.BatchMatMul(backend.Transpose(a, 0, 2, 1), grad)
	}
	return grads
}

// Inputs returns [A, B].
func (op *BatchMatMulOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns A @ B.
func (op *BatchMatMulOp) Output() *tensor.RawTensor { return op.output }
