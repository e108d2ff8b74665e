package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/born-ml/stylize/internal/tensor"
)

// BatchMatMul multiplies [batch, M, K] by [batch, K, N] giving [batch, M, N].
//
// Each batch item is a single GEMM call. The gonum kernels split large
// products across goroutines themselves.
func (cpu *CPUBackend) BatchMatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 3 || len(bShape) != 3 {
		panic(fmt.Sprintf("batchmatmul: expected 3D tensors, got %v and %v", aShape, bShape))
	}
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("batchmatmul: dtype mismatch %s vs %s", a.DType(), b.DType()))
	}

	batch, m, k := aShape[0], aShape[1], aShape[2]
	if bShape[0] != batch || bShape[1] != k {
		panic(fmt.Sprintf("batchmatmul: incompatible shapes %v @ %v", aShape, bShape))
	}
	n := bShape[2]

	result := cpu.alloc("batchmatmul", tensor.Shape{batch, m, n}, a.DType())

	switch a.DType() {
	case tensor.Float32:
		ad, bd, cd := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()
		for i := 0; i < batch; i++ {
			sgemm(blas.NoTrans, blas.NoTrans, m, n, k,
				ad[i*m*k:(i+1)*m*k], k,
				bd[i*k*n:(i+1)*k*n], n,
				0, cd[i*m*n:(i+1)*m*n], n)
		}
	case tensor.Float64:
		ad, bd, cd := a.AsFloat64(), b.AsFloat64(), result.AsFloat64()
		for i := 0; i < batch; i++ {
			blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
				blas64.General{Rows: m, Cols: k, Stride: k, Data: ad[i*m*k : (i+1)*m*k]},
				blas64.General{Rows: k, Cols: n, Stride: n, Data: bd[i*k*n : (i+1)*k*n]},
				0,
				blas64.General{Rows: m, Cols: n, Stride: n, Data: cd[i*m*n : (i+1)*m*n]})
		}
	default:
		panic(fmt.Sprintf("batchmatmul: unsupported dtype %s", a.DType()))
	}

	return result
}

// sgemm computes C = op(A) @ op(B) + beta*C for row-major float32 matrices.
//
// m, n and k are the logical dimensions after applying the transposes:
// op(A) is m×k and op(B) is k×n. lda, ldb and ldc are the row strides of
// the stored matrices.
func sgemm(tA, tB blas.Transpose, m, n, k int, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	aRows, aCols := m, k
	if tA == blas.Trans {
		aRows, aCols = k, m
	}
	bRows, bCols := k, n
	if tB == blas.Trans {
		bRows, bCols = n, k
	}

	blas32.Gemm(tA, tB, 1,
		blas32.General{Rows: aRows, Cols: aCols, Stride: lda, Data: a},
		blas32.General{Rows: bRows, Cols: bCols, Stride: ldb, Data: b},
		beta,
		blas32.General{Rows: m, Cols: n, Stride: ldc, Data: c})
}
