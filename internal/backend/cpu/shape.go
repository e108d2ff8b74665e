package cpu

import (
	"fmt"

	"github.com/born-ml/stylize/internal/parallel"
	"github.com/born-ml/stylize/internal/tensor"
)

// Reshape returns a copy of t with a new shape. The element count must match.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if newShape.NumElements() != t.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v (%d elements) to %v (%d elements)",
			t.Shape(), t.NumElements(), newShape, newShape.NumElements()))
	}
	result := cpu.alloc("reshape", newShape, t.DType())
	copy(result.Data(), t.Data())
	return result
}

// Transpose permutes axes. Without axes the last two dimensions are swapped.
//
//	x: [1, 64, 32, 32]
//	Transpose(x, 0, 2, 3, 1) // [1, 32, 32, 64]
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		if ndim < 2 {
			panic(fmt.Sprintf("transpose: need at least 2 dimensions, got %d", ndim))
		}
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = i
		}
		axes[ndim-1], axes[ndim-2] = axes[ndim-2], axes[ndim-1]
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: got %d axes for %dD tensor", len(axes), ndim))
	}

	seen := make([]bool, ndim)
	outShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		if ax < 0 || ax >= ndim || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid permutation %v", axes))
		}
		seen[ax] = true
		outShape[i] = shape[ax]
	}

	result := cpu.alloc("transpose", outShape, t.DType())
	switch t.DType() {
	case tensor.Float32:
		permute(cpu.par, result.AsFloat32(), t.AsFloat32(), shape, outShape, axes)
	case tensor.Float64:
		permute(cpu.par, result.AsFloat64(), t.AsFloat64(), shape, outShape, axes)
	default:
		panic(fmt.Sprintf("transpose: unsupported dtype %s", t.DType()))
	}
	return result
}

// permute walks the output in row-major order, advancing an input offset
// through the permuted strides like an odometer.
func permute[T float](par parallel.Config, out, in []T, inShape, outShape tensor.Shape, axes []int) {
	ndim := len(outShape)
	if ndim == 0 {
		copy(out, in)
		return
	}

	inStrides := inShape.ComputeStrides()
	srcStrides := make([]int, ndim)
	for i, ax := range axes {
		srcStrides[i] = inStrides[ax]
	}
	outStrides := outShape.ComputeStrides()

	parallel.Range(len(out), func(start, end int) {
		coord := make([]int, ndim)
		rem, off := start, 0
		for d := 0; d < ndim; d++ {
			coord[d] = rem / outStrides[d]
			rem %= outStrides[d]
			off += coord[d] * srcStrides[d]
		}

		for i := start; i < end; i++ {
			out[i] = in[off]
			for d := ndim - 1; d >= 0; d-- {
				coord[d]++
				off += srcStrides[d]
				if coord[d] < outShape[d] {
					break
				}
				off -= coord[d] * srcStrides[d]
				coord[d] = 0
			}
		}
	}, par.WithMinChunk(1<<14))
}
