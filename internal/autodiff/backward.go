package autodiff

import "github.com/born-ml/stylize/internal/tensor"

// BackwardCapable is implemented by backends that own a gradient tape.
type BackwardCapable interface {
	tensor.Backend
	GetTape() *GradientTape
}

// GetTape returns the gradient tape (implements BackwardCapable).
func (b *AutodiffBackend[B]) GetTape() *GradientTape {
	return b.tape
}

// Backward computes gradients of t, seeded with ones, using the backend's tape.
//
// Recording is paused while the tape runs, so gradient computation itself is
// never recorded.
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	tape := backend.GetTape()
	if tape.NumOps() == 0 {
		panic("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}

	outputGrad := tensor.Full[T](t.Shape(), 1, backend).Raw()
	return tape.Backward(outputGrad, backend)
}
