package autodiff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/stylize/internal/autodiff"
	"github.com/born-ml/stylize/internal/autodiff/ops"
	"github.com/born-ml/stylize/internal/backend/cpu"
	"github.com/born-ml/stylize/internal/tensor"
)

func TestAutodiffBackend_Metadata(t *testing.T) {
	backend := autodiff.New(cpu.New())
	assert.Equal(t, "Autodiff(CPU)", backend.Name())
	assert.Equal(t, tensor.CPU, backend.Device())
}

func TestBackward_Square(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, err := tensor.FromSlice([]float32{3}, tensor.Shape{1}, backend)
	require.NoError(t, err)
	y := x.Mul(x).Sum()

	grads := autodiff.Backward(y, backend)
	assert.InDelta(t, 6.0, grads[x.Raw()].AsFloat32()[0], 1e-6)
}

func TestBackward_NoOpsPanics(t *testing.T) {
	backend := autodiff.New(cpu.New())
	x := tensor.Zeros[float32](tensor.Shape{1}, backend)
	assert.Panics(t, func() { autodiff.Backward(x, backend) })
}

func TestTape_NotRecordingByDefault(t *testing.T) {
	backend := autodiff.New(cpu.New())
	x := tensor.Full[float32](tensor.Shape{2}, 1, backend)
	_ = x.Add(x)
	assert.Equal(t, 0, backend.Tape().NumOps())
}

func TestTape_WatchSkipsConstantSubgraphs(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()

	x := tensor.Full[float32](tensor.Shape{1, 1, 3, 3}, 0.5, backend)
	k := tensor.Full[float32](tensor.Shape{1, 1, 3, 3}, 0.1, backend)
	c := tensor.Full[float32](tensor.Shape{1, 1, 3, 3}, 2, backend)

	tape.Watch(x.Raw())
	tape.StartRecording()

	constant := c.Mul(c) // independent of x
	assert.Equal(t, 0, tape.NumOps())

	y := x.Conv2D(k, 1, 1).Add(constant).Sum()
	assert.Equal(t, 3, tape.NumOps())

	grads := autodiff.Backward(y, backend)
	require.Contains(t, grads, x.Raw())
	assert.NotContains(t, grads, k.Raw(), "frozen kernel must not receive a gradient")
	assert.NotContains(t, grads, constant.Raw())
	assert.Len(t, grads, 1, "only watched gradients survive")
}

func TestTape_UnwatchedRecordsEverything(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x := tensor.Full[float32](tensor.Shape{1, 1, 3, 3}, 0.5, backend)
	k := tensor.Full[float32](tensor.Shape{1, 1, 3, 3}, 0.1, backend)

	y := x.Conv2D(k, 1, 1).Sum()
	grads := autodiff.Backward(y, backend)

	require.Contains(t, grads, x.Raw())
	require.Contains(t, grads, k.Raw())
	// Center kernel tap sees every input pixel: 9 * 0.5.
	assert.InDelta(t, 4.5, grads[k.Raw()].AsFloat32()[4], 1e-5)
}

func TestTape_ClearKeepsWatchedTensors(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()

	x := tensor.Full[float32](tensor.Shape{2}, 1, backend)
	tape.Watch(x.Raw())
	tape.StartRecording()

	first := x.MulScalar(2)
	require.Equal(t, 1, tape.NumOps())

	tape.Clear()
	assert.Equal(t, 0, tape.NumOps())
	assert.True(t, tape.Watching())
	assert.True(t, tape.Tracks(x.Raw()))
	assert.False(t, tape.Tracks(first.Raw()), "outputs from before Clear are no longer tracked")

	y := x.MulScalar(3).Sum()
	assert.Equal(t, 2, tape.NumOps(), "still recording after Clear")
	grads := autodiff.Backward(y, backend)
	assert.Equal(t, []float32{3, 3}, grads[x.Raw()].AsFloat32())
}

func TestTape_GradientAccumulatesOverReuse(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()

	x, err := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, backend)
	require.NoError(t, err)
	tape.Watch(x.Raw())
	tape.StartRecording()

	// y = sum(x + x*x) -> dy/dx = 1 + 2x
	y := x.Add(x.Mul(x)).Sum()
	grads := autodiff.Backward(y, backend)
	assert.Equal(t, []float32{3, 5}, grads[x.Raw()].AsFloat32())
	assert.False(t, tape.Tracks(tensor.Zeros[float32](tensor.Shape{1}, backend).Raw()))
}

func TestTape_ConstantOperandsGetNoGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()

	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{1, 2, 3}, backend)
	require.NoError(t, err)
	m, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, tensor.Shape{1, 3, 3}, backend)
	require.NoError(t, err)
	shift := tensor.Full[float32](tensor.Shape{1, 1, 3}, -0.5, backend)

	tape.Watch(x.Raw())
	tape.StartRecording()

	// y = sum(x @ m + shift) -> dy/dx[i,k] = sum_j m[k,j]
	y := x.BatchMatMul(m).Add(shift).Sub(shift).Sum()
	grads := autodiff.Backward(y, backend)

	require.Contains(t, grads, x.Raw())
	assert.Equal(t, []float32{6, 15, 24, 6, 15, 24}, grads[x.Raw()].AsFloat32())
	assert.NotContains(t, grads, m.Raw())
	assert.NotContains(t, grads, shift.Raw())
}

func TestOps_SkipUnneededGradients(t *testing.T) {
	backend := cpu.New()
	a := tensor.Full[float32](tensor.Shape{1, 2, 3}, 2, backend).Raw()
	bias := tensor.Full[float32](tensor.Shape{1, 1, 3}, 1, backend).Raw()
	m := tensor.Full[float32](tensor.Shape{1, 3, 3}, 1, backend).Raw()

	sum := backend.Add(a, bias)
	grad := tensor.Full[float32](sum.Shape(), 1, backend).Raw()

	add := ops.NewAddOp(a, bias, sum, true, false).Backward(grad, backend)
	require.Len(t, add, 2)
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, add[0].AsFloat32())
	assert.Nil(t, add[1])

	add = ops.NewAddOp(a, bias, sum, false, true).Backward(grad, backend)
	assert.Nil(t, add[0])
	assert.Equal(t, tensor.Shape{1, 1, 3}, add[1].Shape())
	assert.Equal(t, []float32{2, 2, 2}, add[1].AsFloat32())

	diff := backend.Sub(a, bias)
	sub := ops.NewSubOp(a, bias, diff, false, true).Backward(grad, backend)
	assert.Nil(t, sub[0])
	assert.Equal(t, []float32{-2, -2, -2}, sub[1].AsFloat32())

	prod := backend.Mul(a, bias)
	mul := ops.NewMulOp(a, bias, prod, true, false).Backward(grad, backend)
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, mul[0].AsFloat32())
	assert.Nil(t, mul[1])

	out := backend.BatchMatMul(a, m)
	mmGrad := tensor.Full[float32](out.Shape(), 1, backend).Raw()
	mm := ops.NewBatchMatMulOp(a, m, out, true, false).Backward(mmGrad, backend)
	assert.Equal(t, []float32{3, 3, 3, 3, 3, 3}, mm[0].AsFloat32())
	assert.Nil(t, mm[1])
}
