package cpu

import (
	"fmt"

	"github.com/born-ml/stylize/internal/tensor"
)

// Sum reduces all elements to a 0-D tensor. Accumulation is done in float64.
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := cpu.alloc("sum", tensor.Shape{}, x.DType())
	switch x.DType() {
	case tensor.Float32:
		result.AsFloat32()[0] = float32(sumAll(x.AsFloat32()))
	case tensor.Float64:
		result.AsFloat64()[0] = sumAll(x.AsFloat64())
	default:
		panic(fmt.Sprintf("sum: unsupported dtype %s", x.DType()))
	}
	return result
}

func sumAll[T float](data []T) float64 {
	var s float64
	for _, v := range data {
		s += float64(v)
	}
	return s
}

// SumDim sums tensor elements along dim.
// Negative dims count from the end. With keepDim the reduced dimension stays as size 1.
//
//	x: [2, 3, 4]
//	SumDim(x, -1, true)  // [2, 3, 1]
//	SumDim(x, 0, false)  // [3, 4]
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	ndim := len(shape)
	if dim < 0 {
		dim += ndim
	}
	if dim < 0 || dim >= ndim {
		panic(fmt.Sprintf("sumdim: dimension %d out of range for %dD tensor", dim, ndim))
	}

	var outShape tensor.Shape
	if keepDim {
		outShape = shape.Clone()
		outShape[dim] = 1
	} else {
		outShape = make(tensor.Shape, 0, ndim-1)
		for i, d := range shape {
			if i != dim {
				outShape = append(outShape, d)
			}
		}
	}

	result := cpu.alloc("sumdim", outShape, x.DType())
	switch x.DType() {
	case tensor.Float32:
		sumDim(result.AsFloat32(), x.AsFloat32(), shape, dim)
	case tensor.Float64:
		sumDim(result.AsFloat64(), x.AsFloat64(), shape, dim)
	default:
		panic(fmt.Sprintf("sumdim: unsupported dtype %s", x.DType()))
	}
	return result
}

// sumDim views the input as [outer, size, inner] and reduces the middle axis.
func sumDim[T float](out, in []T, shape tensor.Shape, dim int) {
	outer, inner := 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	size := shape[dim]

	for o := 0; o < outer; o++ {
		dst := out[o*inner : (o+1)*inner]
		for s := 0; s < size; s++ {
			src := in[(o*size+s)*inner : (o*size+s+1)*inner]
			for i, v := range src {
				dst[i] += v
			}
		}
	}
}
