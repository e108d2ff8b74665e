package loader

import (
	"fmt"
	"log/slog"

	"github.com/born-ml/stylize/internal/backend/cpu"
	"github.com/born-ml/stylize/internal/tensor"
)

// Weights serves VGG convolution parameters from a weight file in a single
// layout: kernels [out, in, kh, kw] and biases [out], both float32.
type Weights struct {
	reader     ModelReader
	mapper     WeightMapper
	preprocess Preprocessing
	backend    *cpu.CPUBackend
}

// OpenWeights opens path and detects its naming convention.
// convsPerBlock describes the network so torchvision indices can be resolved.
func OpenWeights(path string, convsPerBlock []int) (*Weights, error) {
	reader, err := OpenModel(path)
	if err != nil {
		return nil, err
	}

	w, err := NewWeights(reader, convsPerBlock)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	slog.Debug("opened weights",
		"path", path,
		"format", reader.Format(),
		"convention", w.mapper.Convention(),
		"preprocess", w.preprocess,
		"tensors", len(reader.TensorNames()))
	return w, nil
}

// NewWeights wraps an open reader.
func NewWeights(reader ModelReader, convsPerBlock []int) (*Weights, error) {
	mapper, err := DetectMapper(reader.TensorNames(), convsPerBlock)
	if err != nil {
		return nil, err
	}

	preprocess := mapper.DefaultPreprocessing()
	if v, ok := reader.Metadata()[MetadataPreprocess]; ok {
		if preprocess, err = ParsePreprocessing(v); err != nil {
			return nil, err
		}
	}

	return &Weights{
		reader:     reader,
		mapper:     mapper,
		preprocess: preprocess,
		backend:    cpu.New(),
	}, nil
}

// Conv returns the kernel and bias of convolution conv in block (both 1-based).
func (w *Weights) Conv(block, conv int) (kernel, bias *tensor.RawTensor, err error) {
	kernelName, biasName := w.mapper.ConvNames(block, conv)

	kernel, err = w.reader.LoadTensor(kernelName)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", LayerName(block, conv), err)
	}
	bias, err = w.reader.LoadTensor(biasName)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", LayerName(block, conv), err)
	}

	if w.mapper.KernelLayout() == LayoutHWIO {
		if len(kernel.Shape()) != 4 {
			return nil, nil, fmt.Errorf("%s: kernel %s has rank %d, want 4",
				LayerName(block, conv), kernelName, len(kernel.Shape()))
		}
		kernel = w.backend.Transpose(kernel, 3, 2, 0, 1)
	}
	return kernel, bias, nil
}

// Preprocessing returns the input normalization the weights expect.
func (w *Weights) Preprocessing() Preprocessing {
	return w.preprocess
}

// Convention returns the detected naming convention.
func (w *Weights) Convention() Convention {
	return w.mapper.Convention()
}

// Format returns the underlying file format.
func (w *Weights) Format() ModelFormat {
	return w.reader.Format()
}

// Close closes the underlying reader.
func (w *Weights) Close() error {
	return w.reader.Close()
}
