package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/born-ml/stylize/internal/tensor"
)

// Sentinel errors.
var (
	ErrTensorNotFound    = errors.New("tensor not found")
	ErrUnsupportedFormat = errors.New("unsupported weight format")
)

// ModelFormat represents the weight file format.
type ModelFormat int

const (
	// FormatUnknown indicates unknown format.
	FormatUnknown ModelFormat = iota
	// FormatSafeTensors indicates SafeTensors format.
	FormatSafeTensors
	// FormatTorch indicates a PyTorch pickle.
	FormatTorch
)

// String returns the format name.
func (f ModelFormat) String() string {
	switch f {
	case FormatSafeTensors:
		return "SafeTensors"
	case FormatTorch:
		return "PyTorch"
	default:
		return "Unknown"
	}
}

// DetectFormat returns the format implied by a file extension.
func DetectFormat(path string) ModelFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return FormatSafeTensors
	case ".pth", ".pt", ".bin":
		return FormatTorch
	default:
		return FormatUnknown
	}
}

// ModelReader is the common interface for weight file readers.
// All tensors are returned as float32.
type ModelReader interface {
	// Close releases resources.
	Close() error

	// Format returns the file format.
	Format() ModelFormat

	// Metadata returns string metadata, or nil.
	Metadata() map[string]string

	// TensorNames returns all tensor names in sorted order.
	TensorNames() []string

	// TensorShape returns a tensor's shape without loading its data.
	TensorShape(name string) (tensor.Shape, error)

	// LoadTensor loads a tensor as float32.
	LoadTensor(name string) (*tensor.RawTensor, error)
}

type safeTensorsModel struct {
	*SafeTensorsReader
}

func (m *safeTensorsModel) Format() ModelFormat { return FormatSafeTensors }

type torchModel struct {
	*TorchReader
}

func (m *torchModel) Format() ModelFormat { return FormatTorch }

// OpenModel opens a weight file, choosing the reader by extension.
func OpenModel(path string) (ModelReader, error) {
	switch DetectFormat(path) {
	case FormatSafeTensors:
		r, err := NewSafeTensorsReader(path)
		if err != nil {
			return nil, err
		}
		return &safeTensorsModel{r}, nil
	case FormatTorch:
		r, err := NewTorchReader(path)
		if err != nil {
			return nil, err
		}
		return &torchModel{r}, nil
	default:
		return nil, fmt.Errorf("%w: %s (expected .safetensors, .pth, .pt or .bin)",
			ErrUnsupportedFormat, filepath.Ext(path))
	}
}
