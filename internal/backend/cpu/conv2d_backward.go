package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/stylize/internal/tensor"
)

// Conv2DInputBackward computes the gradient of Conv2D with respect to its input.
//
// For each band of output rows:
//
//	dcol = kernel^T [C_in*K_h*K_w, C_out] @ grad [C_out, band*W_out]
//
// and col2im scatter-adds dcol into the input gradient.
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeom("conv2d_input_backward", input, kernel, stride, padding)
	checkConvGrad("conv2d_input_backward", grad, g)

	result := cpu.alloc("conv2d_input_backward", input.Shape(), input.DType())
	dIn, k, dOut := result.AsFloat32(), kernel.AsFloat32(), grad.AsFloat32()
	ck := g.colRows()
	outPlane := g.HOut * g.WOut

	for n := 0; n < g.N; n++ {
		img := dIn[n*g.CIn*g.H*g.W : (n+1)*g.CIn*g.H*g.W]
		src := dOut[n*g.COut*outPlane : (n+1)*g.COut*outPlane]

		for _, band := range g.bands() {
			cols := (band[1] - band[0]) * g.WOut
			col := make([]float32, ck*cols)

			sgemm(blas.Trans, blas.NoTrans, ck, cols, g.COut,
				k, ck,
				src[band[0]*g.WOut:], outPlane,
				0, col, cols)

			col2im(cpu.par, img, col, g, band[0], band[1])
		}
	}

	return result
}

// Conv2DKernelBackward computes the gradient of Conv2D with respect to its kernel.
//
//	dkernel [C_out, C_in*K_h*K_w] += grad [C_out, band*W_out] @ col^T
//
// accumulated over batch items and bands.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeom("conv2d_kernel_backward", input, kernel, stride, padding)
	checkConvGrad("conv2d_kernel_backward", grad, g)

	result := cpu.alloc("conv2d_kernel_backward", kernel.Shape(), kernel.DType())
	dK, in, dOut := result.AsFloat32(), input.AsFloat32(), grad.AsFloat32()
	ck := g.colRows()
	outPlane := g.HOut * g.WOut

	for n := 0; n < g.N; n++ {
		img := in[n*g.CIn*g.H*g.W : (n+1)*g.CIn*g.H*g.W]
		src := dOut[n*g.COut*outPlane : (n+1)*g.COut*outPlane]

		for _, band := range g.bands() {
			cols := (band[1] - band[0]) * g.WOut
			col := make([]float32, ck*cols)
			im2col(cpu.par, col, img, g, band[0], band[1])

			sgemm(blas.NoTrans, blas.Trans, g.COut, ck, cols,
				src[band[0]*g.WOut:], outPlane,
				col, cols,
				1, dK, ck)
		}
	}

	return result
}

func checkConvGrad(op string, grad *tensor.RawTensor, g convGeom) {
	want := tensor.Shape{g.N, g.COut, g.HOut, g.WOut}
	if !grad.Shape().Equal(want) {
		panic(fmt.Sprintf("%s: gradient shape %v, expected %v", op, grad.Shape(), want))
	}
}
