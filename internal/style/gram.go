package style

import (
	"fmt"

	"github.com/born-ml/stylize/internal/tensor"
)

// Gram returns the style signature of an activation [1,h,w,c]:
//
//	G[i][j] = sum over (y,x) of a[y,x,i] * a[y,x,j] / (h*w)
//
// as a [1,c,c] tensor. It is differentiable and independent of the spatial
// arrangement of the activation.
func Gram[B tensor.Backend](activation *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	s := activation.Shape()
	if len(s) != 4 || s[0] != 1 {
		panic(fmt.Sprintf("gram: expected activation [1,h,w,c], got %v", s))
	}

	hw := s[1] * s[2]
	f := activation.Reshape(1, hw, s[3])
	return f.Transpose(0, 2, 1).BatchMatMul(f).MulScalar(1 / float64(hw))
}
