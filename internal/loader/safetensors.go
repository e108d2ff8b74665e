package loader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/born-ml/stylize/internal/serialization"
	"github.com/born-ml/stylize/internal/tensor"
)

// SafeTensorsDType represents data types in SafeTensors format.
type SafeTensorsDType string

// SafeTensors data types readable by stylize.
const (
	SafeTensorsF16  SafeTensorsDType = "F16"
	SafeTensorsBF16 SafeTensorsDType = "BF16"
	SafeTensorsF32  SafeTensorsDType = "F32"
	SafeTensorsF64  SafeTensorsDType = "F64"
)

// Size returns the element size in bytes, or 0 for unknown types.
func (d SafeTensorsDType) Size() int {
	switch d {
	case SafeTensorsF16, SafeTensorsBF16:
		return 2
	case SafeTensorsF32:
		return 4
	case SafeTensorsF64:
		return 8
	default:
		return 0
	}
}

// SafeTensorInfo contains metadata about a tensor in a SafeTensors file.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end) relative to the data section
}

// SafeTensorsHeader is the decoded JSON header.
type SafeTensorsHeader struct {
	Metadata map[string]string
	Tensors  map[string]SafeTensorInfo
}

// UnmarshalJSON splits the reserved metadata entry from tensor entries.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap[serialization.MetadataKey]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]SafeTensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == serialization.MetadataKey {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}

	return nil
}

// SafeTensorsReader reads tensors lazily from a SafeTensors file.
type SafeTensorsReader struct {
	file       *os.File
	header     SafeTensorsHeader
	dataOffset int64
}

// NewSafeTensorsReader opens path, parses and validates its header.
func NewSafeTensorsReader(path string) (*SafeTensorsReader, error) {
	//nolint:gosec // G304: weight path is chosen by the user
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r, err := newSafeTensorsReader(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func newSafeTensorsReader(file *os.File) (*SafeTensorsReader, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("%w: failed to read header size: %w", ErrUnsupportedFormat, err)
	}

	if headerSize > serialization.MaxHeaderSize || int64(headerSize) > stat.Size()-8 { //nolint:gosec // bounded above
		return nil, fmt.Errorf("%w: invalid header size %d", ErrUnsupportedFormat, headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var header SafeTensorsHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: failed to parse header JSON: %w", ErrUnsupportedFormat, err)
	}

	dataOffset := int64(8 + headerSize) //nolint:gosec // G115: bounded by file size
	if err := validateHeader(&header, stat.Size()-dataOffset); err != nil {
		return nil, err
	}

	return &SafeTensorsReader{
		file:       file,
		header:     header,
		dataOffset: dataOffset,
	}, nil
}

func validateHeader(h *SafeTensorsHeader, dataSize int64) error {
	metas := make([]serialization.TensorMeta, 0, len(h.Tensors))
	for name, info := range h.Tensors {
		if err := serialization.ValidateTensorName(name); err != nil {
			return err
		}
		if info.DType.Size() == 0 {
			return fmt.Errorf("%w: tensor %s has dtype %q", ErrUnsupportedFormat, name, info.DType)
		}
		if err := tensor.Shape(info.Shape).Validate(); err != nil {
			return fmt.Errorf("invalid shape for tensor %s: %w", name, err)
		}
		metas = append(metas, serialization.TensorMeta{
			Name:     name,
			Offset:   info.DataOffsets[0],
			Size:     info.DataOffsets[1] - info.DataOffsets[0],
			Expected: int64(tensor.Shape(info.Shape).NumElements() * info.DType.Size()),
		})
	}
	return serialization.ValidateTensorOffsets(metas, dataSize)
}

// Close closes the underlying file.
func (r *SafeTensorsReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Metadata returns the string metadata stored in the header.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns all tensor names in sorted order.
func (r *SafeTensorsReader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorInfo returns the header entry for a tensor.
func (r *SafeTensorsReader) TensorInfo(name string) (*SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return &info, nil
}

// TensorShape returns the stored shape of a tensor.
func (r *SafeTensorsReader) TensorShape(name string) (tensor.Shape, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	return tensor.Shape(info.Shape).Clone(), nil
}

// ReadTensorData reads the raw stored bytes of a tensor.
func (r *SafeTensorsReader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	data := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if _, err := r.file.ReadAt(data, r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}
	return data, nil
}

// LoadTensor reads a tensor and converts it to float32.
func (r *SafeTensorsReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}

	raw, err := tensor.NewRaw(tensor.Shape(info.Shape).Clone(), tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor %s: %w", name, err)
	}

	if err := decodeFloat32(info.DType, data, raw.AsFloat32()); err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return raw, nil
}

// decodeFloat32 converts little-endian stored values into dst.
func decodeFloat32(dtype SafeTensorsDType, data []byte, dst []float32) error {
	if len(data) != len(dst)*dtype.Size() {
		return fmt.Errorf("%w: %d bytes for %d %s elements", ErrUnsupportedFormat, len(data), len(dst), dtype)
	}

	switch dtype {
	case SafeTensorsF32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
	case SafeTensorsF64:
		for i := range dst {
			dst[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:])))
		}
	case SafeTensorsF16:
		for i := range dst {
			dst[i] = float16.Frombits(binary.LittleEndian.Uint16(data[2*i:])).Float32()
		}
	case SafeTensorsBF16:
		copy(dst, bfloat16.DecodeFloat32(data))
	default:
		return fmt.Errorf("%w: dtype %q", ErrUnsupportedFormat, dtype)
	}
	return nil
}
