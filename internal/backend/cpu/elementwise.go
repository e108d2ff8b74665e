package cpu

import (
	"fmt"

	"github.com/born-ml/stylize/internal/parallel"
	"github.com/born-ml/stylize/internal/tensor"
)

type float interface {
	~float32 | ~float64
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float64) float64 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, func(x, y float64) float64 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float64) float64 { return x * y })
}

// MulScalar multiplies every element of x by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := cpu.alloc("mulscalar", x.Shape(), x.DType())
	switch x.DType() {
	case tensor.Float32:
		mapUnary(cpu.par, result.AsFloat32(), x.AsFloat32(), func(v float32) float32 { return v * float32(scalar) })
	case tensor.Float64:
		mapUnary(cpu.par, result.AsFloat64(), x.AsFloat64(), func(v float64) float64 { return v * scalar })
	default:
		panic(fmt.Sprintf("mulscalar: unsupported dtype %s", x.DType()))
	}
	return result
}

// ReLU applies max(0, x) element-wise. NaN propagates.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := cpu.alloc("relu", x.Shape(), x.DType())
	switch x.DType() {
	case tensor.Float32:
		mapUnary(cpu.par, result.AsFloat32(), x.AsFloat32(), relu[float32])
	case tensor.Float64:
		mapUnary(cpu.par, result.AsFloat64(), x.AsFloat64(), relu[float64])
	default:
		panic(fmt.Sprintf("relu: unsupported dtype %s", x.DType()))
	}
	return result
}

func relu[T float](v T) T {
	if v <= 0 {
		return 0
	}
	return v
}

func (cpu *CPUBackend) binary(op string, a, b *tensor.RawTensor, f func(x, y float64) float64) *tensor.RawTensor {
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("%s: dtype mismatch %s vs %s", op, a.DType(), b.DType()))
	}
	outShape, _, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}

	result := cpu.alloc(op, outShape, a.DType())
	switch a.DType() {
	case tensor.Float32:
		broadcastBinary(cpu.par, result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), a.Shape(), b.Shape(), outShape,
			func(x, y float32) float32 { return float32(f(float64(x), float64(y))) })
	case tensor.Float64:
		broadcastBinary(cpu.par, result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), a.Shape(), b.Shape(), outShape, f)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", op, a.DType()))
	}
	return result
}

func mapUnary[T float](par parallel.Config, out, in []T, f func(T) T) {
	parallel.Range(len(in), func(start, end int) {
		for i := start; i < end; i++ {
			out[i] = f(in[i])
		}
	}, par.WithMinChunk(1<<14))
}

// broadcastBinary evaluates out = f(a, b) over outShape.
// Equal shapes take a flat loop; otherwise indices are mapped through
// broadcast strides, where stretched dimensions have stride 0.
func broadcastBinary[T float](par parallel.Config, out, a, b []T, aShape, bShape, outShape tensor.Shape, f func(x, y T) T) {
	if aShape.Equal(bShape) {
		parallel.Range(len(out), func(start, end int) {
			for i := start; i < end; i++ {
				out[i] = f(a[i], b[i])
			}
		}, par.WithMinChunk(1<<14))
		return
	}

	outStrides := outShape.ComputeStrides()
	aStrides := broadcastStrides(aShape, outShape)
	bStrides := broadcastStrides(bShape, outShape)

	parallel.Range(len(out), func(start, end int) {
		for i := start; i < end; i++ {
			out[i] = f(a[flatIndex(i, outStrides, aStrides)], b[flatIndex(i, outStrides, bStrides)])
		}
	}, par.WithMinChunk(1<<12))
}

// broadcastStrides computes strides for reading inShape as if it had outShape.
func broadcastStrides(inShape, outShape tensor.Shape) []int {
	strides := make([]int, len(outShape))
	offset := len(outShape) - len(inShape)
	inStrides := inShape.ComputeStrides()

	for i := range outShape {
		j := i - offset
		if j < 0 || inShape[j] == 1 {
			continue
		}
		strides[i] = inStrides[j]
	}
	return strides
}

// flatIndex maps a flat output index to a flat source index.
func flatIndex(outIdx int, outStrides, inStrides []int) int {
	idx := 0
	for i, s := range outStrides {
		coord := outIdx / s
		outIdx %= s
		idx += coord * inStrides[i]
	}
	return idx
}
