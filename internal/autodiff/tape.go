package autodiff

import (
	"github.com/born-ml/stylize/internal/autodiff/ops"
	"github.com/born-ml/stylize/internal/tensor"
)

// GradientTape records operations during the forward pass and computes
// gradients during the backward pass using reverse-mode automatic differentiation.
//
// With no watched tensors every operation is recorded. Once Watch has been
// called, only operations that depend on a watched tensor are recorded, so
// constant subgraphs (frozen weights, precomputed targets) cost nothing on
// the backward pass.
//
//	tape := NewGradientTape()
//	tape.Watch(image.Raw())
//	tape.StartRecording()
//	// ... forward pass ...
//	grads := tape.Backward(outputGrad, backend)
type GradientTape struct {
	operations []ops.Operation
	recording  bool

	watched map[*tensor.RawTensor]struct{}
	tracked map[*tensor.RawTensor]struct{}
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		operations: make([]ops.Operation, 0, 64),
		watched:    make(map[*tensor.RawTensor]struct{}),
		tracked:    make(map[*tensor.RawTensor]struct{}),
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.recording = false
}

// Watch marks a tensor as a differentiation source.
func (t *GradientTape) Watch(raw *tensor.RawTensor) {
	t.watched[raw] = struct{}{}
	t.tracked[raw] = struct{}{}
}

// Watching reports whether any tensor has been watched.
func (t *GradientTape) Watching() bool {
	return len(t.watched) > 0
}

// Tracks reports whether gradients are needed for raw: it is watched, it was
// produced by a recorded operation, or nothing is watched at all.
func (t *GradientTape) Tracks(raw *tensor.RawTensor) bool {
	if !t.Watching() {
		return true
	}
	_, ok := t.tracked[raw]
	return ok
}

// ShouldRecord reports whether an operation on inputs belongs on the tape.
func (t *GradientTape) ShouldRecord(inputs ...*tensor.RawTensor) bool {
	if !t.recording {
		return false
	}
	for _, in := range inputs {
		if t.Tracks(in) {
			return true
		}
	}
	return false
}

// Record adds an operation to the tape and marks its output as tracked.
// Only records if the tape is currently recording.
func (t *GradientTape) Record(op ops.Operation) {
	if !t.recording {
		return
	}
	t.operations = append(t.operations, op)
	if t.Watching() {
		t.tracked[op.Output()] = struct{}{}
	}
}

// Clear removes all recorded operations. Watched tensors and the recording
// state are preserved.
func (t *GradientTape) Clear() {
	clear(t.operations)
	t.operations = t.operations[:0]
	t.tracked = make(map[*tensor.RawTensor]struct{}, len(t.watched))
	for raw := range t.watched {
		t.tracked[raw] = struct{}{}
	}
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	return len(t.operations)
}

// Backward computes gradients by walking the tape in reverse.
//
//  1. Seed the last operation's output with outputGrad
//  2. For each operation in reverse, compute input gradients by the chain rule
//  3. Sum gradients for tensors used more than once
//
// Without watched tensors the result holds a gradient for every tensor on the
// tape. With watched tensors intermediate gradients are released as soon as
// they are consumed and only the watched gradients are returned.
func (t *GradientTape) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) map[*tensor.RawTensor]*tensor.RawTensor {
	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	if len(t.operations) == 0 {
		return grads
	}

	wasRecording := t.recording
	t.recording = false
	defer func() {
		t.recording = wasRecording
	}()

	grads[t.operations[len(t.operations)-1].Output()] = outputGrad

	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		out := op.Output()
		grad, ok := grads[out]
		if !ok {
			continue
		}

		inputGrads := op.Backward(grad, backend)
		if t.Watching() {
			if _, keep := t.watched[out]; !keep {
				delete(grads, out)
			}
		}
		t.accumulate(op.Inputs(), inputGrads, grads, backend)
	}

	return grads
}

// accumulate adds each non-nil input gradient into grads.
func (t *GradientTape) accumulate(
	inputs, inputGrads []*tensor.RawTensor,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	backend tensor.Backend,
) {
	for j, input := range inputs {
		if j >= len(inputGrads) || inputGrads[j] == nil || !t.Tracks(input) {
			continue
		}
		if existing, ok := grads[input]; ok {
			grads[input] = backend.Add(existing, inputGrads[j])
		} else {
			grads[input] = inputGrads[j]
		}
	}
}
