package vgg

import (
	"fmt"
	"strings"

	"github.com/born-ml/stylize/internal/nn"
	"github.com/born-ml/stylize/internal/tensor"
)

// Network is a frozen VGG feature stack truncated after its deepest layer.
type Network[B tensor.Backend] struct {
	arch    Arch
	deepest Layer
	pre     *Preprocessor[B]
	blocks  [][]*nn.Conv2D[B]
	relu    *nn.ReLU[B]
	pool    *nn.MaxPool2D[B]
}

// NewNetwork loads every convolution up to and including deepest.
// Kernel or bias shapes that disagree with arch yield ErrShape.
func NewNetwork[B tensor.Backend](arch Arch, weights WeightSource, deepest Layer, backend B) (*Network[B], error) {
	if err := arch.Validate(deepest); err != nil {
		return nil, err
	}

	pre, err := NewPreprocessor(weights.Preprocessing(), backend)
	if err != nil {
		return nil, err
	}

	net := &Network[B]{
		arch:    arch,
		deepest: deepest,
		pre:     pre,
		blocks:  make([][]*nn.Conv2D[B], deepest.Block),
		relu:    nn.NewReLU[B](),
		pool:    nn.NewMaxPool2D[B](arch.Pool, arch.Pool),
	}

	for _, l := range arch.Layers() {
		if deepest.Before(l) {
			break
		}

		kernel, bias, err := weights.Conv(l.Block, l.Conv)
		if err != nil {
			return nil, err
		}
		if err := checkConvShapes(arch, l, kernel, bias); err != nil {
			return nil, err
		}

		conv, err := nn.NewConv2D(l.String(),
			tensor.New[float32](kernel, backend),
			tensor.New[float32](bias, backend),
			1, arch.Padding, backend)
		if err != nil {
			return nil, err
		}
		net.blocks[l.Block-1] = append(net.blocks[l.Block-1], conv)
	}

	return net, nil
}

// Arch returns the network architecture.
func (n *Network[B]) Arch() Arch {
	return n.arch
}

// Deepest returns the last layer the network was built with.
func (n *Network[B]) Deepest() Layer {
	return n.deepest
}

// Preprocessor returns the input transform.
func (n *Network[B]) Preprocessor() *Preprocessor[B] {
	return n.pre
}

// Forward runs image [1,H,W,3] in [0,1] through the network and returns the
// post-ReLU activation [1,h,w,C] of each tap, in the order requested.
// The forward pass stops at the deepest tap.
func (n *Network[B]) Forward(image *tensor.Tensor[float32, B], taps []Layer) ([]*tensor.Tensor[float32, B], error) {
	want := make(map[Layer][]int, len(taps))
	last := Layer{Block: 1, Conv: 1}
	for i, l := range taps {
		if err := n.arch.Validate(l); err != nil {
			return nil, err
		}
		if n.deepest.Before(l) {
			return nil, fmt.Errorf("%w: %s is past %s", ErrUnknownLayer, l, n.deepest)
		}
		want[l] = append(want[l], i)
		if last.Before(l) {
			last = l
		}
	}
	if len(taps) == 0 {
		return nil, nil
	}

	s := image.Shape()
	if len(s) != 4 || s[0] != 1 || s[3] != 3 {
		return nil, fmt.Errorf("%w: image must be [1,H,W,3], got %v", ErrShape, s)
	}
	if minSize := n.arch.MinInputSize(last); s[1] < minSize || s[2] < minSize {
		return nil, fmt.Errorf("%w: image %dx%d is smaller than %dx%d needed to reach %s",
			ErrShape, s[2], s[1], minSize, minSize, last)
	}

	out := make([]*tensor.Tensor[float32, B], len(taps))
	x := n.pre.Apply(image)

	for b, convs := range n.blocks {
		if b > 0 {
			x = n.pool.Forward(x)
		}
		for c, conv := range convs {
			l := Layer{Block: b + 1, Conv: c + 1}
			x = n.relu.Forward(conv.Forward(x))

			if idx, ok := want[l]; ok {
				nhwc := x.Transpose(0, 2, 3, 1)
				for _, i := range idx {
					out[i] = nhwc
				}
			}
			if l == last {
				return out, nil
			}
		}
	}
	return out, nil
}

// Modules lists the layers in execution order.
func (n *Network[B]) Modules() []nn.Module[B] {
	var out []nn.Module[B]
	for b, convs := range n.blocks {
		if b > 0 {
			out = append(out, n.pool)
		}
		for _, conv := range convs {
			out = append(out, conv, n.relu)
		}
	}
	return out
}

// NumParameters counts the weights and biases of every layer.
func (n *Network[B]) NumParameters() int {
	total := 0
	for _, m := range n.Modules() {
		for _, p := range m.Parameters() {
			total += p.Tensor().NumElements()
		}
	}
	return total
}

// String renders the layer stack.
func (n *Network[B]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (up to %s, %s preprocessing)\n", n.arch.Name, n.deepest, n.pre.Kind())
	for _, m := range n.Modules() {
		fmt.Fprintf(&sb, "  %v\n", m)
	}
	return sb.String()
}
