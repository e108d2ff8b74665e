// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package stylize_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/stylize"
)

func gradient(w, h int, base float32) *stylize.Image {
	img := &stylize.Image{Width: w, Height: h, Pix: make([]float32, w*h*3)}
	for i := range img.Pix {
		img.Pix[i] = base + float32(i%w)/float32(4*w)
	}
	return img
}

func TestTransfer_VGG19(t *testing.T) {
	content := gradient(16, 16, 0.2)
	style := gradient(24, 16, 0.5)

	cfg := stylize.DefaultConfig()
	cfg.Iterations = 1
	cfg.LogEvery = 0

	tr, err := stylize.New(cfg, stylize.VGG19, stylize.RandomWeights(stylize.VGG19, 7), content, style)
	require.NoError(t, err)

	out, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 16, out.Width)
	assert.Equal(t, 16, out.Height)
	assert.Equal(t, 1, tr.Iteration())
	for _, v := range out.Pix {
		require.True(t, v >= 0 && v <= 1)
	}

	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, stylize.SaveImage(path, out))
	back, err := stylize.LoadImage(path, 0)
	require.NoError(t, err)
	assert.Equal(t, out.Width, back.Width)
}

func TestTransfer_TooSmall(t *testing.T) {
	_, err := stylize.New(stylize.DefaultConfig(), stylize.VGG19, stylize.RandomWeights(stylize.VGG19, 1),
		gradient(8, 8, 0), gradient(16, 16, 0))
	assert.ErrorIs(t, err, stylize.ErrShape)
}

func TestOpenWeights_Missing(t *testing.T) {
	_, err := stylize.OpenWeights(filepath.Join(t.TempDir(), "none.safetensors"), stylize.VGG19)
	assert.Error(t, err)
}
