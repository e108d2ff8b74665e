package optim

import (
	"math"

	"github.com/born-ml/stylize/internal/nn"
	"github.com/born-ml/stylize/internal/tensor"
)

// Adam implements the Adam optimizer (Kingma & Ba, 2014).
//
//	m_t   = beta1 * m_{t-1} + (1-beta1) * g
//	v_t   = beta2 * v_{t-1} + (1-beta2) * g²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// With EpsHat set, epsilon is added to the uncorrected sqrt(v_t) instead, as
// TensorFlow/Keras do:
//
//	lr_t  = lr * sqrt(1 - beta2^t) / (1 - beta1^t)
//	param = param - lr_t * m_t / (sqrt(v_t) + eps)
//
// A large epsilon such as 0.1 behaves very differently under the two forms.
type Adam[B tensor.Backend] struct {
	params  []*nn.Parameter[B]
	lr      float32
	beta1   float32
	beta2   float32
	eps     float32
	epsHat  bool
	t       int
	m       map[*nn.Parameter[B]][]float32
	v       map[*nn.Parameter[B]][]float32
	backend B
}

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LR     float32    // Learning rate
	Betas  [2]float32 // Running average coefficients, each in [0,1)
	Eps    float32    // Numerical stability term
	EpsHat bool       // Add Eps to the uncorrected second moment (Keras convention)
}

// DefaultAdamConfig returns lr 0.001, betas (0.9, 0.999) and eps 1e-8.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LR:    0.001,
		Betas: [2]float32{0.9, 0.999},
		Eps:   1e-8,
	}
}

// NewAdam creates a new Adam optimizer. Every config field is used as given;
// start from DefaultAdamConfig for the usual values.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, backend B) *Adam[B] {
	return &Adam[B]{
		params:  params,
		lr:      config.LR,
		beta1:   config.Betas[0],
		beta2:   config.Betas[1],
		eps:     config.Eps,
		epsHat:  config.EpsHat,
		m:       make(map[*nn.Parameter[B]][]float32),
		v:       make(map[*nn.Parameter[B]][]float32),
		backend: backend,
	}
}

// Step performs a single Adam update on every parameter that has a gradient.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++

	bc1 := 1 - math.Pow(float64(a.beta1), float64(a.t))
	bc2 := 1 - math.Pow(float64(a.beta2), float64(a.t))

	for _, param := range a.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		param.SetGrad(tensor.New[float32, B](grad, a.backend))

		n := param.Tensor().NumElements()
		m, ok := a.m[param]
		if !ok {
			m = make([]float32, n)
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = make([]float32, n)
			a.v[param] = v
		}

		if a.epsHat {
			a.updateEpsHat(param.Tensor().Data(), grad.AsFloat32(), m, v, bc1, bc2)
		} else {
			a.update(param.Tensor().Data(), grad.AsFloat32(), m, v, bc1, bc2)
		}
	}
}

func (a *Adam[B]) update(p, g, m, v []float32, bc1, bc2 float64) {
	for i := range p {
		m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
		v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]

		mHat := float64(m[i]) / bc1
		vHat := float64(v[i]) / bc2
		p[i] -= float32(float64(a.lr) * mHat / (math.Sqrt(vHat) + float64(a.eps)))
	}
}

func (a *Adam[B]) updateEpsHat(p, g, m, v []float32, bc1, bc2 float64) {
	lrT := float64(a.lr) * math.Sqrt(bc2) / bc1
	for i := range p {
		m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
		v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
		p[i] -= float32(lrT * float64(m[i]) / (math.Sqrt(float64(v[i])) + float64(a.eps)))
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam[B]) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the learning rate.
func (a *Adam[B]) GetLR() float32 {
	return a.lr
}
