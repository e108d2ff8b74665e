package loader

import (
	"fmt"
	"sort"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/born-ml/stylize/internal/tensor"
)

// TorchReader reads a state dict written by torch.save.
// Pickles cannot be read lazily, so the whole file is decoded on open.
type TorchReader struct {
	tensors map[string]*pytorch.Tensor
}

// NewTorchReader decodes the pickle at path.
func NewTorchReader(path string) (*TorchReader, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedFormat, path, err)
	}

	tensors := make(map[string]*pytorch.Tensor)
	if err := collectTorchTensors(obj, "", tensors); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(tensors) == 0 {
		return nil, fmt.Errorf("%w: %s: no tensors in state dict", ErrUnsupportedFormat, path)
	}

	return &TorchReader{tensors: tensors}, nil
}

// collectTorchTensors walks a (possibly nested) state dict. Nested dicts such
// as {"state_dict": {...}} are flattened with their key as prefix, except for
// the conventional "state_dict" and "model" wrappers which are unwrapped.
func collectTorchTensors(obj any, prefix string, out map[string]*pytorch.Tensor) error {
	visit := func(key, value any) error {
		name, ok := key.(string)
		if !ok {
			return fmt.Errorf("%w: non-string state dict key %v", ErrUnsupportedFormat, key)
		}
		switch v := value.(type) {
		case *pytorch.Tensor:
			out[prefix+name] = v
		case *types.Dict, *types.OrderedDict:
			next := prefix + name + "."
			if prefix == "" && (name == "state_dict" || name == "model") {
				next = ""
			}
			return collectTorchTensors(v, next, out)
		}
		return nil
	}

	switch d := obj.(type) {
	case *types.Dict:
		for _, k := range d.Keys() {
			if err := visit(k, d.MustGet(k)); err != nil {
				return err
			}
		}
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			if err := visit(entry.Key, entry.Value); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: top-level object is %T, want a state dict", ErrUnsupportedFormat, obj)
	}
	return nil
}

// Close releases the decoded tensors.
func (r *TorchReader) Close() error {
	r.tensors = nil
	return nil
}

// Metadata returns nil; torch state dicts carry no string metadata.
func (r *TorchReader) Metadata() map[string]string {
	return nil
}

// TensorNames returns all tensor names in sorted order.
func (r *TorchReader) TensorNames() []string {
	names := make([]string, 0, len(r.tensors))
	for name := range r.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorShape returns the shape of a tensor.
func (r *TorchReader) TensorShape(name string) (tensor.Shape, error) {
	t, ok := r.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return tensor.Shape(t.Size).Clone(), nil
}

// LoadTensor converts a tensor to float32.
func (r *TorchReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	t, ok := r.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}

	raw, err := torchToRaw(t)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return raw, nil
}

func torchToRaw(t *pytorch.Tensor) (*tensor.RawTensor, error) {
	shape := tensor.Shape(t.Size).Clone()
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if !contiguous(t.Size, t.Stride) {
		return nil, fmt.Errorf("%w: non-contiguous strides %v for shape %v", ErrUnsupportedFormat, t.Stride, t.Size)
	}

	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	dst := raw.AsFloat32()
	start, end := t.StorageOffset, t.StorageOffset+len(dst)

	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		if end > len(s.Data) {
			return nil, fmt.Errorf("%w: storage holds %d values, need %d", ErrUnsupportedFormat, len(s.Data), end)
		}
		copy(dst, s.Data[start:end])
	case *pytorch.HalfStorage:
		if end > len(s.Data) {
			return nil, fmt.Errorf("%w: storage holds %d values, need %d", ErrUnsupportedFormat, len(s.Data), end)
		}
		copy(dst, s.Data[start:end])
	case *pytorch.DoubleStorage:
		if end > len(s.Data) {
			return nil, fmt.Errorf("%w: storage holds %d values, need %d", ErrUnsupportedFormat, len(s.Data), end)
		}
		for i, v := range s.Data[start:end] {
			dst[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("%w: storage type %T", ErrUnsupportedFormat, t.Source)
	}
	return raw, nil
}

// contiguous reports whether stride is the row-major stride of size.
// Dimensions of extent 1 may carry any stride.
func contiguous(size, stride []int) bool {
	if len(stride) != len(size) {
		return false
	}
	expected := 1
	for i := len(size) - 1; i >= 0; i-- {
		if size[i] != 1 && stride[i] != expected {
			return false
		}
		expected *= size[i]
	}
	return true
}
