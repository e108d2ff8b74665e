// Package vgg builds the frozen VGG feature network used for style transfer.
//
// Only the convolutional feature stack is built, and only as deep as the
// deepest requested tap. Activations are returned post-ReLU in NHWC layout.
//
//	w, _ := loader.OpenWeights(path, vgg.VGG19.Convs)
//	net, err := vgg.NewNetwork(vgg.VGG19, w, vgg.Layer{Block: 5, Conv: 2}, backend)
//	feats, err := net.Forward(image, []vgg.Layer{{Block: 1, Conv: 1}})
package vgg

import (
	"errors"
	"fmt"

	"github.com/born-ml/stylize/internal/loader"
)

// Errors returned while building or running a network.
var (
	ErrShape        = errors.New("shape mismatch")
	ErrUnknownLayer = errors.New("unknown layer")
)

// Arch describes a VGG feature stack: blocks of 3x3 same-padded convolutions,
// each conv followed by ReLU and each block by a 2x2 stride-2 max pool.
type Arch struct {
	Name     string
	Convs    []int // convolutions per block
	Channels []int // output channels per block
	InputC   int
	Kernel   int
	Padding  int
	Pool     int
}

// VGG19 is the 19-layer configuration (16 convolutions).
var VGG19 = Arch{
	Name:     "vgg19",
	Convs:    []int{2, 2, 4, 4, 4},
	Channels: []int{64, 128, 256, 512, 512},
	InputC:   3,
	Kernel:   3,
	Padding:  1,
	Pool:     2,
}

// VGG16 is the 16-layer configuration (13 convolutions).
var VGG16 = Arch{
	Name:     "vgg16",
	Convs:    []int{2, 2, 3, 3, 3},
	Channels: []int{64, 128, 256, 512, 512},
	InputC:   3,
	Kernel:   3,
	Padding:  1,
	Pool:     2,
}

// Layer addresses one convolution by 1-based block and conv index.
type Layer struct {
	Block int
	Conv  int
}

// String returns the Keras-style name, e.g. "block5_conv2".
func (l Layer) String() string {
	return loader.LayerName(l.Block, l.Conv)
}

// Before reports whether l comes strictly before other in the network.
func (l Layer) Before(other Layer) bool {
	if l.Block != other.Block {
		return l.Block < other.Block
	}
	return l.Conv < other.Conv
}

// ParseLayer parses a name of the form "blockB_convC".
func ParseLayer(name string) (Layer, error) {
	var l Layer
	var rest string
	n, _ := fmt.Sscanf(name, "block%d_conv%d%s", &l.Block, &l.Conv, &rest)
	if n != 2 || l.Block <= 0 || l.Conv <= 0 || l.String() != name {
		return Layer{}, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
	return l, nil
}

// Validate checks that l exists in the architecture.
func (a Arch) Validate(l Layer) error {
	if l.Block < 1 || l.Block > len(a.Convs) || l.Conv < 1 || l.Conv > a.Convs[l.Block-1] {
		return fmt.Errorf("%w: %s not in %s", ErrUnknownLayer, l, a.Name)
	}
	return nil
}

// Layers lists every convolution in order.
func (a Arch) Layers() []Layer {
	var out []Layer
	for b, n := range a.Convs {
		for c := 1; c <= n; c++ {
			out = append(out, Layer{Block: b + 1, Conv: c})
		}
	}
	return out
}

// InChannels returns the input channel count of a convolution.
func (a Arch) InChannels(l Layer) int {
	if l.Conv > 1 {
		return a.Channels[l.Block-1]
	}
	if l.Block > 1 {
		return a.Channels[l.Block-2]
	}
	return a.InputC
}

// KernelShape returns the expected [out, in, kh, kw] kernel shape.
func (a Arch) KernelShape(l Layer) []int {
	return []int{a.Channels[l.Block-1], a.InChannels(l), a.Kernel, a.Kernel}
}

// MinInputSize returns the smallest spatial extent that survives the pools
// in front of layer l.
func (a Arch) MinInputSize(l Layer) int {
	size := 1
	for range l.Block - 1 {
		size *= a.Pool
	}
	return size
}
