package style

import (
	"github.com/born-ml/stylize/internal/vgg"
)

// Number of tapped layers in each group.
const (
	NumStyleLayers   = 5
	NumContentLayers = 1
)

// LayerIndex indexes StyleSet or ContentSet.
type LayerIndex int

// Style layer indices.
const (
	Block1Conv1 LayerIndex = iota
	Block2Conv1
	Block3Conv1
	Block4Conv1
	Block5Conv1
)

// Content layer indices.
const (
	Block5Conv2 LayerIndex = 0
)

var (
	styleLayers = [NumStyleLayers]vgg.Layer{
		{Block: 1, Conv: 1},
		{Block: 2, Conv: 1},
		{Block: 3, Conv: 1},
		{Block: 4, Conv: 1},
		{Block: 5, Conv: 1},
	}
	contentLayers = [NumContentLayers]vgg.Layer{
		{Block: 5, Conv: 2},
	}
)

// StyleLayer returns the network layer behind a style index.
func StyleLayer(i LayerIndex) vgg.Layer {
	return styleLayers[i]
}

// ContentLayer returns the network layer behind a content index.
func ContentLayer(i LayerIndex) vgg.Layer {
	return contentLayers[i]
}

// StyleSet holds one value per style layer.
type StyleSet[T any] [NumStyleLayers]T

// ContentSet holds one value per content layer.
type ContentSet[T any] [NumContentLayers]T

// taps lists every tapped layer, style layers first.
func taps() []vgg.Layer {
	out := make([]vgg.Layer, 0, NumStyleLayers+NumContentLayers)
	out = append(out, styleLayers[:]...)
	return append(out, contentLayers[:]...)
}

// deepestTap returns the last layer the network must compute.
func deepestTap() vgg.Layer {
	deepest := styleLayers[0]
	for _, l := range taps() {
		if deepest.Before(l) {
			deepest = l
		}
	}
	return deepest
}
