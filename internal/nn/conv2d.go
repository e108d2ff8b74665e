package nn

import (
	"fmt"

	"github.com/born-ml/stylize/internal/tensor"
)

// Conv2D is a 2D convolution layer over NCHW input with optional bias.
//
//	weight: [out_channels, in_channels, kernel_h, kernel_w]
//	bias:   [out_channels] or nil
type Conv2D[B tensor.Backend] struct {
	name    string
	stride  int
	padding int

	weight *Parameter[B]
	bias   *Parameter[B]

	backend B
}

// NewConv2D creates a convolution layer from existing weight and bias tensors.
// The bias may be nil. An error is returned for malformed shapes.
func NewConv2D[B tensor.Backend](
	name string,
	weight, bias *tensor.Tensor[float32, B],
	stride, padding int,
	backend B,
) (*Conv2D[B], error) {
	ws := weight.Shape()
	if len(ws) != 4 {
		return nil, fmt.Errorf("conv2d %s: weight must be 4D [out,in,kh,kw], got %v", name, ws)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("conv2d %s: invalid stride %d", name, stride)
	}
	if padding < 0 {
		return nil, fmt.Errorf("conv2d %s: invalid padding %d", name, padding)
	}

	c := &Conv2D[B]{
		name:    name,
		stride:  stride,
		padding: padding,
		weight:  NewParameter(name+".weight", weight),
		backend: backend,
	}
	if bias != nil {
		if !bias.Shape().Equal(tensor.Shape{ws[0]}) {
			return nil, fmt.Errorf("conv2d %s: bias shape %v, expected [%d]", name, bias.Shape(), ws[0])
		}
		// Stored pre-shaped for broadcasting over [N, C, H, W].
		c.bias = NewParameter(name+".bias", bias.Reshape(1, ws[0], 1, 1))
	}
	return c, nil
}

// Forward applies the convolution: output = conv(input, weight) + bias.
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.InChannels() {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", inputShape[1], c.InChannels()))
	}

	output := input.Conv2D(c.weight.Tensor(), c.stride, c.padding)
	if c.bias != nil {
		output = output.Add(c.bias.Tensor())
	}
	return output
}

// Parameters returns [weight] or [weight, bias].
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// Name returns the layer name.
func (c *Conv2D[B]) Name() string { return c.name }

// InChannels returns the number of input channels.
func (c *Conv2D[B]) InChannels() int { return c.weight.Tensor().Shape()[1] }

// OutChannels returns the number of output channels.
func (c *Conv2D[B]) OutChannels() int { return c.weight.Tensor().Shape()[0] }

// KernelSize returns [kernel_h, kernel_w].
func (c *Conv2D[B]) KernelSize() [2]int {
	s := c.weight.Tensor().Shape()
	return [2]int{s[2], s[3]}
}

func (c *Conv2D[B]) String() string {
	k := c.KernelSize()
	return fmt.Sprintf("Conv2D(%s, in_channels=%d, out_channels=%d, kernel_size=(%d, %d), stride=%d, padding=%d, bias=%v)",
		c.name, c.InChannels(), c.OutChannels(), k[0], k[1], c.stride, c.padding, c.bias != nil)
}
