package loader

import (
	"fmt"
	"strings"
)

// Convention identifies how a weight file names and lays out VGG kernels.
type Convention string

// Supported weight conventions.
const (
	ConventionCanonical   Convention = "canonical"
	ConventionKeras       Convention = "keras"
	ConventionTorchvision Convention = "torchvision"
)

// Preprocessing names the input normalization the weights were trained with.
type Preprocessing string

// Supported preprocessing conventions.
const (
	// PreprocessCaffe: pixels in [0,255], BGR channel order, ImageNet mean subtracted.
	PreprocessCaffe Preprocessing = "caffe"
	// PreprocessTorch: pixels in [0,1], RGB, normalized by ImageNet mean and std.
	PreprocessTorch Preprocessing = "torch"
)

// MetadataPreprocess is the SafeTensors metadata key recording Preprocessing.
const MetadataPreprocess = "preprocess"

// ParsePreprocessing validates a preprocessing name.
func ParsePreprocessing(s string) (Preprocessing, error) {
	switch p := Preprocessing(strings.ToLower(strings.TrimSpace(s))); p {
	case PreprocessCaffe, PreprocessTorch:
		return p, nil
	default:
		return "", fmt.Errorf("unknown preprocessing %q (expected caffe or torch)", s)
	}
}

// KernelLayout is the axis order of stored convolution kernels.
type KernelLayout int

// Kernel layouts.
const (
	LayoutOIHW KernelLayout = iota // [out, in, kh, kw]
	LayoutHWIO                     // [kh, kw, in, out]
)

// LayerName returns the canonical name of convolution conv (1-based) in block
// (1-based), e.g. "block5_conv2".
func LayerName(block, conv int) string {
	return fmt.Sprintf("block%d_conv%d", block, conv)
}

// WeightMapper maps VGG convolution layers to tensor names in a weight file.
type WeightMapper interface {
	// ConvNames returns the kernel and bias tensor names of a convolution.
	ConvNames(block, conv int) (weight, bias string)

	// KernelLayout returns the stored kernel axis order.
	KernelLayout() KernelLayout

	// DefaultPreprocessing returns the preprocessing assumed when the file
	// does not record one.
	DefaultPreprocessing() Preprocessing

	// Convention returns the naming convention.
	Convention() Convention
}

// CanonicalMapper handles files written by "stylize convert".
type CanonicalMapper struct{}

// ConvNames implements WeightMapper.
func (CanonicalMapper) ConvNames(block, conv int) (string, string) {
	name := LayerName(block, conv)
	return name + ".weight", name + ".bias"
}

// KernelLayout implements WeightMapper.
func (CanonicalMapper) KernelLayout() KernelLayout { return LayoutOIHW }

// DefaultPreprocessing implements WeightMapper.
func (CanonicalMapper) DefaultPreprocessing() Preprocessing { return PreprocessCaffe }

// Convention implements WeightMapper.
func (CanonicalMapper) Convention() Convention { return ConventionCanonical }

// KerasMapper handles weights exported from keras.applications.VGG19.
type KerasMapper struct{}

// ConvNames implements WeightMapper.
func (KerasMapper) ConvNames(block, conv int) (string, string) {
	name := LayerName(block, conv)
	return name + "/kernel:0", name + "/bias:0"
}

// KernelLayout implements WeightMapper.
func (KerasMapper) KernelLayout() KernelLayout { return LayoutHWIO }

// DefaultPreprocessing implements WeightMapper.
func (KerasMapper) DefaultPreprocessing() Preprocessing { return PreprocessCaffe }

// Convention implements WeightMapper.
func (KerasMapper) Convention() Convention { return ConventionKeras }

// TorchvisionMapper handles torchvision.models.vgg19 state dicts, where the
// feature stack is a flat nn.Sequential of conv, relu and pool modules.
type TorchvisionMapper struct {
	convs []int
}

// NewTorchvisionMapper creates a mapper for a network with the given number
// of convolutions per block.
func NewTorchvisionMapper(convsPerBlock []int) *TorchvisionMapper {
	return &TorchvisionMapper{convs: append([]int(nil), convsPerBlock...)}
}

// Index returns the position of a convolution in the features sequence.
// Each conv is followed by a ReLU and each block ends with a pool.
func (m *TorchvisionMapper) Index(block, conv int) int {
	idx := 0
	for b := 0; b < block-1 && b < len(m.convs); b++ {
		idx += 2*m.convs[b] + 1
	}
	return idx + 2*(conv-1)
}

// ConvNames implements WeightMapper.
func (m *TorchvisionMapper) ConvNames(block, conv int) (string, string) {
	idx := m.Index(block, conv)
	return fmt.Sprintf("features.%d.weight", idx), fmt.Sprintf("features.%d.bias", idx)
}

// KernelLayout implements WeightMapper.
func (m *TorchvisionMapper) KernelLayout() KernelLayout { return LayoutOIHW }

// DefaultPreprocessing implements WeightMapper.
func (m *TorchvisionMapper) DefaultPreprocessing() Preprocessing { return PreprocessTorch }

// Convention implements WeightMapper.
func (m *TorchvisionMapper) Convention() Convention { return ConventionTorchvision }

// DetectMapper picks a mapper from the tensor names present in a file.
func DetectMapper(names []string, convsPerBlock []int) (WeightMapper, error) {
	for _, name := range names {
		switch {
		case strings.HasPrefix(name, "features."):
			return NewTorchvisionMapper(convsPerBlock), nil
		case strings.HasSuffix(name, "/kernel:0"):
			return KerasMapper{}, nil
		case strings.HasPrefix(name, "block") && strings.HasSuffix(name, ".weight"):
			return CanonicalMapper{}, nil
		}
	}
	return nil, fmt.Errorf("%w: no VGG convolution tensors among %d names", ErrUnsupportedFormat, len(names))
}
