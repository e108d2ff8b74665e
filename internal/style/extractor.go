package style

import (
	"errors"
	"fmt"

	"github.com/born-ml/stylize/internal/loader"
	"github.com/born-ml/stylize/internal/tensor"
	"github.com/born-ml/stylize/internal/vgg"
)

// Features are the extractor outputs for one image: a style signature per
// style layer and a raw activation per content layer.
type Features[B tensor.Backend] struct {
	Style   StyleSet[*tensor.Tensor[float32, B]]
	Content ContentSet[*tensor.Tensor[float32, B]]
}

// Extractor wraps the frozen network tapped at the fixed style and content
// layers. It is built once and reused for every image.
type Extractor[B tensor.Backend] struct {
	net  *vgg.Network[B]
	taps []vgg.Layer
}

// NewExtractor builds the network for arch from weights, up to the deepest
// tapped layer. An architecture lacking a tapped layer, weights missing a
// layer the network needs, or weights of the wrong shape yield ErrShape.
func NewExtractor[B tensor.Backend](arch vgg.Arch, weights vgg.WeightSource, backend B) (*Extractor[B], error) {
	taps := taps()
	for _, l := range taps {
		if err := arch.Validate(l); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrShape, err)
		}
	}

	net, err := vgg.NewNetwork(arch, weights, deepestTap(), backend)
	if err != nil {
		if errors.Is(err, vgg.ErrUnknownLayer) || errors.Is(err, loader.ErrTensorNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrShape, err)
		}
		return nil, err
	}
	return &Extractor[B]{net: net, taps: taps}, nil
}

// Network returns the underlying network.
func (e *Extractor[B]) Network() *vgg.Network[B] {
	return e.net
}

// Activations runs image [1,H,W,3] through the network and returns the raw
// post-ReLU activations [1,h,w,c] of every tap.
func (e *Extractor[B]) Activations(image *tensor.Tensor[float32, B]) (StyleSet[*tensor.Tensor[float32, B]], ContentSet[*tensor.Tensor[float32, B]], error) {
	var style StyleSet[*tensor.Tensor[float32, B]]
	var content ContentSet[*tensor.Tensor[float32, B]]

	outs, err := e.net.Forward(image, e.taps)
	if err != nil {
		return style, content, err
	}

	copy(style[:], outs[:NumStyleLayers])
	copy(content[:], outs[NumStyleLayers:])
	return style, content, nil
}

// Extract returns the style signatures and content activations of image.
func (e *Extractor[B]) Extract(image *tensor.Tensor[float32, B]) (*Features[B], error) {
	style, content, err := e.Activations(image)
	if err != nil {
		return nil, err
	}

	f := &Features[B]{Content: content}
	for i, a := range style {
		f.Style[i] = Gram(a)
	}
	return f, nil
}
