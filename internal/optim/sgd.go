package optim

import (
	"github.com/born-ml/stylize/internal/nn"
	"github.com/born-ml/stylize/internal/tensor"
)

// SGD implements stochastic gradient descent with optional momentum.
//
//	velocity = momentum * velocity + g
//	param    = param - lr * velocity
type SGD[B tensor.Backend] struct {
	params   []*nn.Parameter[B]
	lr       float32
	momentum float32
	velocity map[*nn.Parameter[B]][]float32
	backend  B
}

// SGDConfig holds configuration for SGD.
type SGDConfig struct {
	LR       float32 // Learning rate
	Momentum float32 // Momentum factor, 0 disables momentum
}

// NewSGD creates a new SGD optimizer.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	return &SGD[B]{
		params:   params,
		lr:       config.LR,
		momentum: config.Momentum,
		velocity: make(map[*nn.Parameter[B]][]float32),
		backend:  backend,
	}
}

// Step applies one SGD update.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		param.SetGrad(tensor.New[float32, B](grad, s.backend))

		p, g := param.Tensor().Data(), grad.AsFloat32()
		if s.momentum == 0 {
			for i := range p {
				p[i] -= s.lr * g[i]
			}
			continue
		}

		vel, ok := s.velocity[param]
		if !ok {
			vel = make([]float32, len(p))
			s.velocity[param] = vel
		}
		for i := range p {
			vel[i] = s.momentum*vel[i] + g[i]
			p[i] -= s.lr * vel[i]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[B]) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the learning rate.
func (s *SGD[B]) GetLR() float32 {
	return s.lr
}
