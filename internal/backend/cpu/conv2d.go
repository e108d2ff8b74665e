package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/stylize/internal/parallel"
	"github.com/born-ml/stylize/internal/tensor"
)

// maxColElements bounds the im2col scratch buffer. Larger outputs are processed
// in bands of output rows.
const maxColElements = 1 << 24

// convGeom holds the dimensions of one Conv2D call.
type convGeom struct {
	N, CIn, H, W    int
	COut, KH, KW    int
	HOut, WOut      int
	stride, padding int
}

func newConvGeom(op string, input, kernel *tensor.RawTensor, stride, padding int) convGeom {
	inputShape, kernelShape := input.Shape(), kernel.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %dD", op, len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("%s: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", op, len(kernelShape)))
	}
	if input.DType() != tensor.Float32 || kernel.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtype %s (only float32 supported)", op, input.DType()))
	}
	if stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("%s: invalid stride %d / padding %d", op, stride, padding))
	}

	g := convGeom{
		N: inputShape[0], CIn: inputShape[1], H: inputShape[2], W: inputShape[3],
		COut: kernelShape[0], KH: kernelShape[2], KW: kernelShape[3],
		stride: stride, padding: padding,
	}
	if kernelShape[1] != g.CIn {
		panic(fmt.Sprintf("%s: input channels %d != kernel channels %d", op, g.CIn, kernelShape[1]))
	}

	g.HOut = (g.H+2*padding-g.KH)/stride + 1
	g.WOut = (g.W+2*padding-g.KW)/stride + 1
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", op, g.HOut, g.WOut))
	}
	return g
}

// colRows is the patch length C_in*K_h*K_w.
func (g convGeom) colRows() int { return g.CIn * g.KH * g.KW }

// bands splits the output rows so that each im2col buffer stays under maxColElements.
func (g convGeom) bands() [][2]int {
	rowsPerBand := max(maxColElements/(g.colRows()*g.WOut), 1)
	var out [][2]int
	for start := 0; start < g.HOut; start += rowsPerBand {
		out = append(out, [2]int{start, min(start+rowsPerBand, g.HOut)})
	}
	return out
}

// Conv2D performs 2D convolution using im2col + SGEMM.
//
//	input:  [N, C_in, H, W]
//	kernel: [C_out, C_in, K_h, K_w]
//	output: [N, C_out, H_out, W_out]
//
// For each batch item and band of output rows:
//  1. im2col unfolds the input patches into col [C_in*K_h*K_w, band*W_out]
//  2. SGEMM computes kernel[C_out, C_in*K_h*K_w] @ col into the output rows
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeom("conv2d", input, kernel, stride, padding)
	output := cpu.alloc("conv2d", tensor.Shape{g.N, g.COut, g.HOut, g.WOut}, input.DType())

	in, k, out := input.AsFloat32(), kernel.AsFloat32(), output.AsFloat32()
	ck := g.colRows()
	outPlane := g.HOut * g.WOut

	for n := 0; n < g.N; n++ {
		img := in[n*g.CIn*g.H*g.W : (n+1)*g.CIn*g.H*g.W]
		dst := out[n*g.COut*outPlane : (n+1)*g.COut*outPlane]

		for _, band := range g.bands() {
			cols := (band[1] - band[0]) * g.WOut
			col := make([]float32, ck*cols)
			im2col(cpu.par, col, img, g, band[0], band[1])

			sgemm(blas.NoTrans, blas.NoTrans, g.COut, cols, ck,
				k, ck,
				col, cols,
				0, dst[band[0]*g.WOut:], outPlane)
		}
	}

	return output
}

// im2col fills col[(c*K_h+kh)*K_w+kw, (oh-oh0)*W_out+ow] with the input value under
// kernel tap (kh, kw) at output position (oh, ow). Out-of-bounds taps read zero.
func im2col(par parallel.Config, col, img []float32, g convGeom, oh0, oh1 int) {
	cols := (oh1 - oh0) * g.WOut
	parallel.For(g.CIn, func(c int) {
		plane := img[c*g.H*g.W : (c+1)*g.H*g.W]
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := col[((c*g.KH+kh)*g.KW+kw)*cols:]
				idx := 0
				for oh := oh0; oh < oh1; oh++ {
					ih := oh*g.stride - g.padding + kh
					if ih < 0 || ih >= g.H {
						for ow := 0; ow < g.WOut; ow++ {
							row[idx] = 0
							idx++
						}
						continue
					}
					src := plane[ih*g.W : (ih+1)*g.W]
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*g.stride - g.padding + kw
						if iw >= 0 && iw < g.W {
							row[idx] = src[iw]
						} else {
							row[idx] = 0
						}
						idx++
					}
				}
			}
		}
	}, par.WithMinChunk(1))
}

// col2im is the adjoint of im2col: it scatter-adds col back into the input plane layout.
func col2im(par parallel.Config, img, col []float32, g convGeom, oh0, oh1 int) {
	cols := (oh1 - oh0) * g.WOut
	parallel.For(g.CIn, func(c int) {
		plane := img[c*g.H*g.W : (c+1)*g.H*g.W]
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := col[((c*g.KH+kh)*g.KW+kw)*cols:]
				idx := 0
				for oh := oh0; oh < oh1; oh++ {
					ih := oh*g.stride - g.padding + kh
					if ih < 0 || ih >= g.H {
						idx += g.WOut
						continue
					}
					dst := plane[ih*g.W : (ih+1)*g.W]
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*g.stride - g.padding + kw
						if iw >= 0 && iw < g.W {
							dst[iw] += row[idx]
						}
						idx++
					}
				}
			}
		}
	}, par.WithMinChunk(1))
}
