// Package autodiff implements reverse-mode automatic differentiation using the
// decorator pattern.
//
// AutodiffBackend wraps any tensor.Backend and records every operation it
// performs on a GradientTape. Each recorded operation knows how to map its
// output gradient back to its inputs.
//
//	backend := autodiff.New(cpu.New())
//	x, _ := tensor.FromSlice([]float32{2}, tensor.Shape{1}, backend)
//	backend.Tape().Watch(x.Raw())
//	backend.Tape().StartRecording()
//	y := x.Mul(x)
//	grads := autodiff.Backward(y.Sum(), backend)
//	_ = grads[x.Raw()] // dy/dx = 2x = 4
package autodiff

import (
	"github.com/born-ml/stylize/internal/autodiff/ops"
	"github.com/born-ml/stylize/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
// It implements tensor.Backend and records operations in a GradientTape.
type AutodiffBackend[B tensor.Backend] struct {
	inner B
	tape  *GradientTape
}

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *AutodiffBackend[B]) Device() tensor.Device {
	return b.inner.Device()
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend[B]) Add(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(a, c)
	if b.tape.ShouldRecord(a, c) {
		b.tape.Record(ops.NewAddOp(a, c, result, b.tape.Tracks(a), b.tape.Tracks(c)))
	}
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend[B]) Sub(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sub(a, c)
	if b.tape.ShouldRecord(a, c) {
		b.tape.Record(ops.NewSubOp(a, c, result, b.tape.Tracks(a), b.tape.Tracks(c)))
	}
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend[B]) Mul(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(a, c)
	if b.tape.ShouldRecord(a, c) {
		b.tape.Record(ops.NewMulOp(a, c, result, b.tape.Tracks(a), b.tape.Tracks(c)))
	}
	return result
}

// MulScalar multiplies by a constant and records the operation.
func (b *AutodiffBackend[B]) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := b.inner.MulScalar(x, scalar)
	if b.tape.ShouldRecord(x) {
		b.tape.Record(ops.NewMulScalarOp(x, result, scalar))
	}
	return result
}

// BatchMatMul performs batched matrix multiplication and records the operation.
func (b *AutodiffBackend[B]) BatchMatMul(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.BatchMatMul(a, c)
	if b.tape.ShouldRecord(a, c) {
		b.tape.Record(ops.NewBatchMatMulOp(a, c, result, b.tape.Tracks(a), b.tape.Tracks(c)))
	}
	return result
}

// Reshape changes the shape and records the operation.
func (b *AutodiffBackend[B]) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Reshape(t, newShape)
	if b.tape.ShouldRecord(t) {
		b.tape.Record(ops.NewReshapeOp(t, result))
	}
	return result
}

// Transpose permutes axes and records the operation.
func (b *AutodiffBackend[B]) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	result := b.inner.Transpose(t, axes...)
	if b.tape.ShouldRecord(t) {
		b.tape.Record(ops.NewTransposeOp(t, result, axes))
	}
	return result
}

// Sum reduces to a scalar and records the operation.
func (b *AutodiffBackend[B]) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sum(x)
	if b.tape.ShouldRecord(x) {
		b.tape.Record(ops.NewSumOp(x, result))
	}
	return result
}

// SumDim sums along a dimension and records the operation.
func (b *AutodiffBackend[B]) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	result := b.inner.SumDim(x, dim, keepDim)
	if b.tape.ShouldRecord(x) {
		b.tape.Record(ops.NewSumDimOp(x, result, dim, keepDim))
	}
	return result
}

// ReLU applies max(0, x) and records the operation.
func (b *AutodiffBackend[B]) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.ReLU(x)
	if b.tape.ShouldRecord(x) {
		b.tape.Record(ops.NewReLUOp(x, result))
	}
	return result
}

// Conv2D performs 2D convolution and records the operation.
// Gradients are only computed for the operands the tape tracks.
func (b *AutodiffBackend[B]) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	result := b.inner.Conv2D(input, kernel, stride, padding)
	if b.tape.ShouldRecord(input, kernel) {
		b.tape.Record(ops.NewConv2DOpWithGrads(input, kernel, result, stride, padding,
			b.tape.Tracks(input), b.tape.Tracks(kernel)))
	}
	return result
}

// MaxPool2D performs 2D max pooling and records the operation.
func (b *AutodiffBackend[B]) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	result := b.inner.MaxPool2D(input, kernelSize, stride)
	if b.tape.ShouldRecord(input) {
		b.tape.Record(ops.NewMaxPool2DOp(input, result, kernelSize, stride))
	}
	return result
}

// Conv2DInputBackward delegates to the wrapped backend without recording.
func (b *AutodiffBackend[B]) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.inner.Conv2DInputBackward(input, kernel, grad, stride, padding)
}

// Conv2DKernelBackward delegates to the wrapped backend without recording.
func (b *AutodiffBackend[B]) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.inner.Conv2DKernelBackward(input, kernel, grad, stride, padding)
}

// MaxPool2DBackward delegates to the wrapped backend without recording.
func (b *AutodiffBackend[B]) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int, kernelSize, stride int) *tensor.RawTensor {
	return b.inner.MaxPool2DBackward(input, grad, maxIndices, kernelSize, stride)
}
