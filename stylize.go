// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package stylize is the public API for neural style transfer.
//
// It wraps the internal pipeline: a frozen VGG feature network, gram-matrix
// style signatures, a weighted style + content loss and an optimizer that
// updates the image pixels directly.
//
// Example usage:
//
//	import "github.com/born-ml/stylize"
//
//	content, err := stylize.LoadImage("photo.jpg", 512)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	style, err := stylize.LoadImage("painting.jpg", 512)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	weights, err := stylize.OpenWeights("vgg19.safetensors", stylize.VGG19)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer weights.Close()
//
//	cfg := stylize.DefaultConfig()
//	cfg.Iterations = 100
//	t, err := stylize.New(cfg, stylize.VGG19, weights, content, style)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := t.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = stylize.SaveImage("out.png", out)
package stylize

import (
	"github.com/born-ml/stylize/internal/imageio"
	"github.com/born-ml/stylize/internal/loader"
	"github.com/born-ml/stylize/internal/style"
	"github.com/born-ml/stylize/internal/vgg"
)

// Image is an RGB image with float32 channels in [0,1].
type Image = imageio.Image

// Config holds the transfer settings.
type Config = style.Config

// Progress is reported after every optimization step.
type Progress = style.Progress

// Transfer is one style transfer run.
type Transfer = style.Transfer

// Arch describes a VGG feature network.
type Arch = vgg.Arch

// WeightSource supplies convolution weights for a network.
type WeightSource = vgg.WeightSource

// Weights are pretrained weights read from a file.
type Weights = loader.Weights

// Supported architectures.
var (
	VGG19 = vgg.VGG19
	VGG16 = vgg.VGG16
)

// Errors returned by the pipeline.
var (
	ErrNonFinite         = style.ErrNonFinite
	ErrShape             = style.ErrShape
	ErrDecode            = imageio.ErrDecode
	ErrTensorNotFound    = loader.ErrTensorNotFound
	ErrUnsupportedFormat = loader.ErrUnsupportedFormat
)

// DefaultConfig returns 5 Adam steps with the classic loss weights.
func DefaultConfig() Config {
	return style.DefaultConfig()
}

// New prepares a transfer of style onto content.
//
// The result has the size of content. The style image may have any size
// large enough for the network.
func New(cfg Config, arch Arch, weights WeightSource, content, styleImage *Image) (*Transfer, error) {
	return style.New(cfg, arch, weights, content, styleImage)
}

// OpenWeights opens a .safetensors or PyTorch weight file for arch.
// The naming convention (canonical, Keras or torchvision) is detected.
func OpenWeights(path string, arch Arch) (*Weights, error) {
	return loader.OpenWeights(path, arch.Convs)
}

// RandomWeights returns deterministic He-initialized weights for arch.
func RandomWeights(arch Arch, seed uint64) WeightSource {
	return vgg.RandomWeights(arch, seed)
}

// LoadImage decodes an image file, downscaling it so its longest side is at
// most maxSize pixels when maxSize > 0.
func LoadImage(path string, maxSize int) (*Image, error) {
	return imageio.Load(path, maxSize)
}

// SaveImage encodes img as PNG or JPEG according to the extension of path.
func SaveImage(path string, img *Image) error {
	return imageio.Save(path, img)
}

// PreserveColor recolors stylized with the chroma of content.
func PreserveColor(content, stylized *Image) (*Image, error) {
	return imageio.PreserveColor(content, stylized)
}
