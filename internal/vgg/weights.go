package vgg

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/stylize/internal/loader"
	"github.com/born-ml/stylize/internal/tensor"
)

// WeightSource supplies convolution parameters, kernels as [out, in, kh, kw].
// *loader.Weights implements it.
type WeightSource interface {
	Conv(block, conv int) (kernel, bias *tensor.RawTensor, err error)
	Preprocessing() loader.Preprocessing
}

// MemoryWeights is an in-memory WeightSource.
type MemoryWeights struct {
	kernels    map[Layer]*tensor.RawTensor
	biases     map[Layer]*tensor.RawTensor
	preprocess loader.Preprocessing
}

// NewMemoryWeights creates an empty weight set.
func NewMemoryWeights(preprocess loader.Preprocessing) *MemoryWeights {
	return &MemoryWeights{
		kernels:    make(map[Layer]*tensor.RawTensor),
		biases:     make(map[Layer]*tensor.RawTensor),
		preprocess: preprocess,
	}
}

// Set stores the parameters of one convolution.
func (m *MemoryWeights) Set(l Layer, kernel, bias *tensor.RawTensor) {
	m.kernels[l] = kernel
	m.biases[l] = bias
}

// Conv implements WeightSource.
func (m *MemoryWeights) Conv(block, conv int) (*tensor.RawTensor, *tensor.RawTensor, error) {
	l := Layer{Block: block, Conv: conv}
	kernel, ok := m.kernels[l]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", l, loader.ErrTensorNotFound)
	}
	return kernel, m.biases[l], nil
}

// Preprocessing implements WeightSource.
func (m *MemoryWeights) Preprocessing() loader.Preprocessing {
	return m.preprocess
}

// RandomWeights returns He-initialized weights for every convolution of arch,
// deterministic for a given seed. Biases are zero.
func RandomWeights(arch Arch, seed uint64) *MemoryWeights {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	w := NewMemoryWeights(loader.PreprocessCaffe)

	for _, l := range arch.Layers() {
		shape := tensor.Shape(arch.KernelShape(l))
		kernel, _ := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
		fanIn := shape[1] * shape[2] * shape[3]
		std := math.Sqrt(2 / float64(fanIn))
		data := kernel.AsFloat32()
		for i := range data {
			data[i] = float32(rng.NormFloat64() * std)
		}

		bias, _ := tensor.NewRaw(tensor.Shape{shape[0]}, tensor.Float32, tensor.CPU)
		w.Set(l, kernel, bias)
	}
	return w
}

// CanonicalTensors reads every convolution up to and including deepest from
// src and returns them under canonical names ("block1_conv1.weight", ...).
func CanonicalTensors(arch Arch, src WeightSource, deepest Layer) (map[string]*tensor.RawTensor, error) {
	if err := arch.Validate(deepest); err != nil {
		return nil, err
	}

	out := make(map[string]*tensor.RawTensor)
	for _, l := range arch.Layers() {
		if deepest.Before(l) {
			break
		}
		kernel, bias, err := src.Conv(l.Block, l.Conv)
		if err != nil {
			return nil, err
		}
		if err := checkConvShapes(arch, l, kernel, bias); err != nil {
			return nil, err
		}
		out[l.String()+".weight"] = kernel
		out[l.String()+".bias"] = bias
	}
	return out, nil
}

func checkConvShapes(arch Arch, l Layer, kernel, bias *tensor.RawTensor) error {
	want := tensor.Shape(arch.KernelShape(l))
	if !kernel.Shape().Equal(want) {
		return fmt.Errorf("%w: %s kernel %v, want %v", ErrShape, l, kernel.Shape(), want)
	}
	if bias == nil {
		return fmt.Errorf("%w: %s has no bias", ErrShape, l)
	}
	if !bias.Shape().Equal(tensor.Shape{want[0]}) {
		return fmt.Errorf("%w: %s bias %v, want [%d]", ErrShape, l, bias.Shape(), want[0])
	}
	return nil
}
