package serialization

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/stylize/internal/tensor"
)

func rawF32(t *testing.T, shape tensor.Shape, values ...float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsFloat32(), values)
	return raw
}

func TestWriteSafeTensors_Layout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.safetensors")

	b := rawF32(t, tensor.Shape{2}, 3, 4)
	a := rawF32(t, tensor.Shape{1, 3}, 1, 2, 5)
	err := WriteSafeTensors(path, map[string]*tensor.RawTensor{"b": b, "a": a},
		map[string]string{"preprocess": "caffe"})
	require.NoError(t, err)

	buf, err := os.ReadFile(path)
	require.NoError(t, err)

	n := binary.LittleEndian.Uint64(buf[:8])
	assert.Zero(t, n%8)

	var header map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf[8:8+n], &header))

	var meta map[string]string
	require.NoError(t, json.Unmarshal(header[MetadataKey], &meta))
	assert.Equal(t, "caffe", meta["preprocess"])

	var ha, hb SafeTensorHeader
	require.NoError(t, json.Unmarshal(header["a"], &ha))
	require.NoError(t, json.Unmarshal(header["b"], &hb))

	// Alphabetical: "a" first.
	assert.Equal(t, "F32", ha.DType)
	assert.Equal(t, []int64{1, 3}, ha.Shape)
	assert.Equal(t, [2]int64{0, 12}, ha.DataOffsets)
	assert.Equal(t, [2]int64{12, 20}, hb.DataOffsets)

	data := buf[8+n:]
	require.Len(t, data, 20)
	assert.Equal(t, float32(5), math.Float32frombits(binary.LittleEndian.Uint32(data[8:12])))
	assert.Equal(t, float32(3), math.Float32frombits(binary.LittleEndian.Uint32(data[12:16])))
}

func TestWriteSafeTensors_RejectsReservedName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.safetensors")
	err := WriteSafeTensors(path, map[string]*tensor.RawTensor{
		MetadataKey: rawF32(t, tensor.Shape{1}, 1),
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidTensorName)
}

func TestWriter_Closed(t *testing.T) {
	w, err := NewSafeTensorsWriter(filepath.Join(t.TempDir(), "w.safetensors"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteStateDict(nil, nil), ErrWriterClosed)
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name    string
		tensors []TensorMeta
		want    error
	}{
		{"ok", []TensorMeta{{"a", 0, 8, 8}, {"b", 8, 4, -1}}, nil},
		{"overlap", []TensorMeta{{"a", 0, 8, 8}, {"b", 4, 4, 4}}, ErrOffsetOverlap},
		{"out of bounds", []TensorMeta{{"a", 8, 8, 8}}, ErrOutOfBounds},
		{"negative", []TensorMeta{{"a", -1, 4, 4}}, ErrNegativeOffset},
		{"size mismatch", []TensorMeta{{"a", 0, 8, 12}}, ErrSizeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, 12)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestValidateTensorName(t *testing.T) {
	assert.NoError(t, ValidateTensorName("block1_conv1/kernel:0"))
	assert.ErrorIs(t, ValidateTensorName(""), ErrInvalidTensorName)
	assert.ErrorIs(t, ValidateTensorName("a\x00b"), ErrInvalidTensorName)

	long := make([]byte, MaxTensorNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	assert.ErrorIs(t, ValidateTensorName(string(long)), ErrTensorNameTooLong)
}
