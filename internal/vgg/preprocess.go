package vgg

import (
	"fmt"

	"github.com/born-ml/stylize/internal/loader"
	"github.com/born-ml/stylize/internal/tensor"
)

// ImageNet statistics.
var (
	caffeMean = [3]float32{103.939, 116.779, 123.68} // BGR, 0-255
	torchMean = [3]float32{0.485, 0.456, 0.406}      // RGB, 0-1
	torchStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocessor maps an NHWC image in [0,1] RGB to the NCHW input the weights
// were trained on. It is built from differentiable ops, so gradients flow
// from the network back to the pixels.
//
// Each output channel j is in[perm[j]]*scale[j] + shift[j], applied as a
// [3,3] matrix product and a broadcast add.
type Preprocessor[B tensor.Backend] struct {
	kind   loader.Preprocessing
	matrix *tensor.Tensor[float32, B] // [1, 3, 3]
	shift  *tensor.Tensor[float32, B] // [1, 1, 3]
}

// NewPreprocessor builds the transform for a preprocessing convention.
func NewPreprocessor[B tensor.Backend](kind loader.Preprocessing, backend B) (*Preprocessor[B], error) {
	var perm [3]int
	var scale, shift [3]float32

	switch kind {
	case loader.PreprocessCaffe:
		perm = [3]int{2, 1, 0}
		for j := range 3 {
			scale[j] = 255
			shift[j] = -caffeMean[j]
		}
	case loader.PreprocessTorch:
		perm = [3]int{0, 1, 2}
		for j := range 3 {
			scale[j] = 1 / torchStd[j]
			shift[j] = -torchMean[j] / torchStd[j]
		}
	default:
		return nil, fmt.Errorf("unknown preprocessing %q", kind)
	}

	// Row vector x[1,3] times M[3,3]: y[j] = sum_i x[i]*M[i][j].
	m := make([]float32, 9)
	for j := range 3 {
		m[perm[j]*3+j] = scale[j]
	}

	matrix, err := tensor.FromSlice(m, tensor.Shape{1, 3, 3}, backend)
	if err != nil {
		return nil, err
	}
	shiftT, err := tensor.FromSlice(shift[:], tensor.Shape{1, 1, 3}, backend)
	if err != nil {
		return nil, err
	}

	return &Preprocessor[B]{kind: kind, matrix: matrix, shift: shiftT}, nil
}

// Kind returns the preprocessing convention.
func (p *Preprocessor[B]) Kind() loader.Preprocessing {
	return p.kind
}

// Apply transforms image [1,H,W,3] into [1,3,H,W].
func (p *Preprocessor[B]) Apply(image *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	s := image.Shape()
	h, w := s[1], s[2]

	x := image.Reshape(1, h*w, 3).BatchMatMul(p.matrix).Add(p.shift)
	return x.Reshape(1, h, w, 3).Transpose(0, 3, 1, 2)
}
