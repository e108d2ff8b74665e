package ops

import (
	"fmt"

	"github.com/born-ml/stylize/internal/tensor"
)

// reduceBroadcast sums a gradient down to targetShape, undoing forward broadcasting.
//
//	Forward:  a[1,64,1,1] + b[1,64,32,32] -> c[1,64,32,32]
//	Backward: grad_c[1,64,32,32] -> grad_a[1,64,1,1]
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	gradShape := grad.Shape()
	if gradShape.Equal(targetShape) {
		return grad
	}
	if len(targetShape) == 0 {
		return backend.Sum(grad)
	}
	if len(targetShape) > len(gradShape) {
		panic(fmt.Sprintf("reduceBroadcast: target %v has more dimensions than gradient %v", targetShape, gradShape))
	}

	result := grad
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}
	for i, dim := range targetShape {
		if dim == 1 && result.Shape()[i] > 1 {
			result = backend.SumDim(result, i, true)
		}
	}

	if !result.Shape().Equal(targetShape) {
		panic(fmt.Sprintf("reduceBroadcast: cannot reduce %v to %v", gradShape, targetShape))
	}
	return result
}
