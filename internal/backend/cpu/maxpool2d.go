package cpu

import (
	"fmt"

	"github.com/born-ml/stylize/internal/parallel"
	"github.com/born-ml/stylize/internal/tensor"
)

func poolDims(op string, input *tensor.RawTensor, kernelSize, stride int) (n, c, h, w, hOut, wOut int) {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %dD", op, len(shape)))
	}
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("%s: invalid kernel size %d / stride %d", op, kernelSize, stride))
	}
	n, c, h, w = shape[0], shape[1], shape[2], shape[3]
	hOut = (h-kernelSize)/stride + 1
	wOut = (w-kernelSize)/stride + 1
	if h < kernelSize || w < kernelSize {
		panic(fmt.Sprintf("%s: input %dx%d smaller than kernel %d", op, h, w, kernelSize))
	}
	return n, c, h, w, hOut, wOut
}

// MaxPool2D applies max pooling over [N, C, H, W] with no padding.
// Output spatial size is (H-kernelSize)/stride + 1, trailing rows and columns are dropped.
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	n, c, h, w, hOut, wOut := poolDims("maxpool2d", input, kernelSize, stride)
	output := cpu.alloc("maxpool2d", tensor.Shape{n, c, hOut, wOut}, input.DType())

	switch input.DType() {
	case tensor.Float32:
		maxPool(cpu.par, output.AsFloat32(), input.AsFloat32(), n, c, h, w, hOut, wOut, kernelSize, stride)
	case tensor.Float64:
		maxPool(cpu.par, output.AsFloat64(), input.AsFloat64(), n, c, h, w, hOut, wOut, kernelSize, stride)
	default:
		panic(fmt.Sprintf("maxpool2d: unsupported dtype %s", input.DType()))
	}
	return output
}

func maxPool[T float](par parallel.Config, out, in []T, n, c, h, w, hOut, wOut, k, stride int) {
	parallel.ForBatch(n, c, func(b, ch int) {
		plane := in[(b*c+ch)*h*w:]
		dst := out[(b*c+ch)*hOut*wOut:]
		for oh := 0; oh < hOut; oh++ {
			for ow := 0; ow < wOut; ow++ {
				best := plane[oh*stride*w+ow*stride]
				for kh := 0; kh < k; kh++ {
					row := plane[(oh*stride+kh)*w:]
					for kw := 0; kw < k; kw++ {
						if v := row[ow*stride+kw]; v > best {
							best = v
						}
					}
				}
				dst[oh*wOut+ow] = best
			}
		}
	}, par.WithMinChunk(1))
}

// MaxPool2DBackward routes each output gradient to the input position that held
// the maximum. maxIndices holds one flat input index per output element.
func (cpu *CPUBackend) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int, kernelSize, stride int) *tensor.RawTensor {
	n, c, _, _, hOut, wOut := poolDims("maxpool2d_backward", input, kernelSize, stride)
	if want := (tensor.Shape{n, c, hOut, wOut}); !grad.Shape().Equal(want) {
		panic(fmt.Sprintf("maxpool2d_backward: gradient shape %v, expected %v", grad.Shape(), want))
	}
	if len(maxIndices) != grad.NumElements() {
		panic(fmt.Sprintf("maxpool2d_backward: %d max indices for %d gradients", len(maxIndices), grad.NumElements()))
	}

	result := cpu.alloc("maxpool2d_backward", input.Shape(), input.DType())
	switch input.DType() {
	case tensor.Float32:
		scatterAdd(result.AsFloat32(), grad.AsFloat32(), maxIndices)
	case tensor.Float64:
		scatterAdd(result.AsFloat64(), grad.AsFloat64(), maxIndices)
	default:
		panic(fmt.Sprintf("maxpool2d_backward: unsupported dtype %s", input.DType()))
	}
	return result
}

func scatterAdd[T float](dst, src []T, indices []int) {
	for i, idx := range indices {
		dst[idx] += src[i]
	}
}
