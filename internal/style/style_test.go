package style_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/stylize/internal/backend/cpu"
	"github.com/born-ml/stylize/internal/imageio"
	"github.com/born-ml/stylize/internal/loader"
	"github.com/born-ml/stylize/internal/optim"
	"github.com/born-ml/stylize/internal/style"
	"github.com/born-ml/stylize/internal/tensor"
	"github.com/born-ml/stylize/internal/vgg"
)

// tiny has every tapped layer with a handful of channels.
var tiny = vgg.Arch{
	Name:     "tiny",
	Convs:    []int{1, 1, 1, 1, 2},
	Channels: []int{4, 4, 4, 4, 4},
	InputC:   3,
	Kernel:   3,
	Padding:  1,
	Pool:     2,
}

func solid(w, h int, r, g, b float32) *imageio.Image {
	img := imageio.NewImage(w, h)
	for i := 0; i < len(img.Pix); i += 3 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = r, g, b
	}
	return img
}

func noise(w, h int, seed int) *imageio.Image {
	img := imageio.NewImage(w, h)
	for i := range img.Pix {
		img.Pix[i] = float32((i*7919+seed*104729)%251) / 250
	}
	return img
}

func newTransfer(t *testing.T, cfg style.Config, content, styleImg *imageio.Image) *style.Transfer {
	t.Helper()
	tr, err := style.New(cfg, tiny, vgg.RandomWeights(tiny, 1), content, styleImg)
	require.NoError(t, err)
	return tr
}

// constantWeights sets every kernel element to 1/fan-in, so a positive image
// keeps positive activations of the same order, except the deepest
// convolution whose elements are last.
func constantWeights(t *testing.T, arch vgg.Arch, last float32) *vgg.MemoryWeights {
	t.Helper()
	w := vgg.NewMemoryWeights(loader.PreprocessCaffe)
	layers := arch.Layers()
	for i, l := range layers {
		shape := tensor.Shape(arch.KernelShape(l))
		kernel, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
		require.NoError(t, err)
		v := 1 / float32(shape[1]*shape[2]*shape[3])
		if i == len(layers)-1 {
			v = last
		}
		data := kernel.AsFloat32()
		for j := range data {
			data[j] = v
		}
		bias, err := tensor.NewRaw(tensor.Shape{shape[0]}, tensor.Float32, tensor.CPU)
		require.NoError(t, err)
		w.Set(l, kernel, bias)
	}
	return w
}

func activation(t *testing.T, backend *cpu.CPUBackend, data []float32, h, w, c int) *tensor.Tensor[float32, *cpu.CPUBackend] {
	t.Helper()
	a, err := tensor.FromSlice(data, tensor.Shape{1, h, w, c}, backend)
	require.NoError(t, err)
	return a
}

func TestLayers(t *testing.T) {
	assert.Equal(t, "block1_conv1", style.StyleLayer(style.Block1Conv1).String())
	assert.Equal(t, "block4_conv1", style.StyleLayer(style.Block4Conv1).String())
	assert.Equal(t, "block5_conv1", style.StyleLayer(style.Block5Conv1).String())
	assert.Equal(t, "block5_conv2", style.ContentLayer(style.Block5Conv2).String())
}

func TestGram_Shape(t *testing.T) {
	backend := cpu.New()
	for _, dims := range [][3]int{{1, 1, 3}, {4, 7, 5}, {16, 2, 8}} {
		h, w, c := dims[0], dims[1], dims[2]
		a := activation(t, backend, make([]float32, h*w*c), h, w, c)
		assert.Equal(t, tensor.Shape{1, c, c}, style.Gram(a).Shape(), "%v", dims)
	}
}

func TestGram_Values(t *testing.T) {
	backend := cpu.New()
	// Two positions, two channels: (1,2) and (3,4).
	a := activation(t, backend, []float32{1, 2, 3, 4}, 1, 2, 2)
	g := style.Gram(a).Data()

	assert.InDeltaSlice(t, []float32{(1 + 9) / 2.0, (2 + 12) / 2.0, (2 + 12) / 2.0, (4 + 16) / 2.0}, g, 1e-6)
}

func TestGram_Solid(t *testing.T) {
	backend := cpu.New()
	h, w, c := 6, 5, 3
	data := make([]float32, h*w*c)
	for i := range data {
		data[i] = []float32{0.2, 0.5, 0.9}[i%c]
	}
	g := style.Gram(activation(t, backend, data, h, w, c)).Data()
	assert.InDelta(t, 0.2*0.9, g[2], 1e-6)
	assert.InDelta(t, 0.5*0.5, g[4], 1e-6)
}

func TestGram_FlipInvariant(t *testing.T) {
	backend := cpu.New()
	h, w, c := 5, 4, 3
	data := make([]float32, h*w*c)
	for i := range data {
		data[i] = float32((i*37)%11) / 10
	}

	hflip := make([]float32, len(data))
	vflip := make([]float32, len(data))
	for y := range h {
		for x := range w {
			for k := range c {
				src := (y*w+x)*c + k
				hflip[(y*w+(w-1-x))*c+k] = data[src]
				vflip[((h-1-y)*w+x)*c+k] = data[src]
			}
		}
	}

	want := style.Gram(activation(t, backend, data, h, w, c)).Data()
	assert.InDeltaSlice(t, want, style.Gram(activation(t, backend, hflip, h, w, c)).Data(), 1e-5)
	assert.InDeltaSlice(t, want, style.Gram(activation(t, backend, vflip, h, w, c)).Data(), 1e-5)
}

func TestGram_PanicsOnBadRank(t *testing.T) {
	backend := cpu.New()
	a, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, backend)
	require.NoError(t, err)
	assert.Panics(t, func() { style.Gram(a) })
}

func TestLoss_ZeroWhenEqual(t *testing.T) {
	backend := cpu.New()
	ext, err := style.NewExtractor(tiny, vgg.RandomWeights(tiny, 3), backend)
	require.NoError(t, err)

	img, err := tensor.FromSlice(noise(32, 32, 1).Pix, tensor.Shape{1, 32, 32, 3}, backend)
	require.NoError(t, err)
	f, err := ext.Extract(img)
	require.NoError(t, err)

	terms := style.Loss(f, f, 1e-2, 1e4)
	assert.Zero(t, terms.Total.Item())
	assert.Zero(t, terms.Style.Item())
	assert.Zero(t, terms.Content.Item())
}

func TestLoss_Weights(t *testing.T) {
	backend := cpu.New()
	ext, err := style.NewExtractor(tiny, vgg.RandomWeights(tiny, 3), backend)
	require.NoError(t, err)

	a, err := tensor.FromSlice(noise(32, 32, 1).Pix, tensor.Shape{1, 32, 32, 3}, backend)
	require.NoError(t, err)
	b, err := tensor.FromSlice(noise(32, 32, 2).Pix, tensor.Shape{1, 32, 32, 3}, backend)
	require.NoError(t, err)
	fa, err := ext.Extract(a)
	require.NoError(t, err)
	fb, err := ext.Extract(b)
	require.NoError(t, err)

	unit := style.Loss(fa, fb, 1, 1)
	scaled := style.Loss(fa, fb, 2, 3)

	s, c := float64(unit.Style.Item()), float64(unit.Content.Item())
	assert.Greater(t, s, 0.0)
	assert.InEpsilon(t, 2*s, float64(scaled.Style.Item()), 1e-5)
	assert.InDelta(t, 3*c, float64(scaled.Content.Item()), 1e-5*max(c, 1))
	assert.InEpsilon(t, s+c, float64(unit.Total.Item()), 1e-5)
}

func TestExtractor_Shapes(t *testing.T) {
	backend := cpu.New()
	ext, err := style.NewExtractor(tiny, vgg.RandomWeights(tiny, 3), backend)
	require.NoError(t, err)

	img, err := tensor.FromSlice(noise(32, 48, 1).Pix, tensor.Shape{1, 48, 32, 3}, backend)
	require.NoError(t, err)
	sty, content, err := ext.Activations(img)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{1, 48, 32, 4}, sty[style.Block1Conv1].Shape())
	assert.Equal(t, tensor.Shape{1, 24, 16, 4}, sty[style.Block2Conv1].Shape())
	assert.Equal(t, tensor.Shape{1, 3, 2, 4}, sty[style.Block5Conv1].Shape())
	assert.Equal(t, tensor.Shape{1, 3, 2, 4}, content[style.Block5Conv2].Shape())

	for _, a := range sty {
		for _, v := range a.Data() {
			require.GreaterOrEqual(t, v, float32(0))
		}
	}
}

func TestNewExtractor_ShapeErrors(t *testing.T) {
	backend := cpu.New()

	shallow := tiny
	shallow.Convs = []int{1, 1, 1, 1, 1}
	_, err := style.NewExtractor(shallow, vgg.RandomWeights(shallow, 1), backend)
	assert.ErrorIs(t, err, style.ErrShape)

	wide := tiny
	wide.Channels = []int{8, 8, 8, 8, 8}
	_, err = style.NewExtractor(tiny, vgg.RandomWeights(wide, 1), backend)
	assert.ErrorIs(t, err, style.ErrShape)
}

func TestNewExtractor_MissingLayer(t *testing.T) {
	full := vgg.RandomWeights(tiny, 1)
	partial := vgg.NewMemoryWeights(full.Preprocessing())
	for _, l := range tiny.Layers() {
		if l == (vgg.Layer{Block: 5, Conv: 2}) {
			continue
		}
		kernel, bias, err := full.Conv(l.Block, l.Conv)
		require.NoError(t, err)
		partial.Set(l, kernel, bias)
	}

	_, err := style.NewExtractor(tiny, partial, cpu.New())
	assert.ErrorIs(t, err, style.ErrShape)
	assert.ErrorIs(t, err, loader.ErrTensorNotFound)
	assert.ErrorContains(t, err, "block5_conv2")
}

func TestConfig_Validate(t *testing.T) {
	cfg := style.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Iterations)
	assert.Equal(t, 1e-2, cfg.StyleWeight)
	assert.Equal(t, 1e4, cfg.ContentWeight)
	assert.Equal(t, style.OptimizerAdam, cfg.Optimizer)
	assert.Equal(t, float32(0.02), cfg.Adam.LR)

	bad := []func(*style.Config){
		func(c *style.Config) { c.Iterations = -1 },
		func(c *style.Config) { c.StyleWeight = -1 },
		func(c *style.Config) { c.ContentWeight = -1 },
		func(c *style.Config) { c.Optimizer = "lbfgs" },
		func(c *style.Config) { c.StyleWeight = math.Inf(1) },
		func(c *style.Config) { c.ContentWeight = math.NaN() },
		func(c *style.Config) { c.Optimizer = style.OptimizerSGD; c.SGD.LR = 0 },
		func(c *style.Config) { c.Optimizer = style.OptimizerSGD; c.SGD.LR = float32(math.Inf(1)) },
		func(c *style.Config) { c.Optimizer = style.OptimizerSGD; c.SGD.Momentum = 1 },
		func(c *style.Config) { c.Adam.LR = 0 },
		func(c *style.Config) { c.Adam.LR = -0.1 },
		func(c *style.Config) { c.Adam.LR = float32(math.NaN()) },
		func(c *style.Config) { c.Adam.Betas[0] = 1 },
		func(c *style.Config) { c.Adam.Betas[0] = -0.5 },
		func(c *style.Config) { c.Adam.Betas[1] = 1 },
		func(c *style.Config) { c.Adam.Betas[1] = float32(math.NaN()) },
		func(c *style.Config) { c.Adam.Eps = 0 },
		func(c *style.Config) { c.Adam.Eps = -1 },
		func(c *style.Config) { c.LogEvery = -2 },
	}
	for i, mutate := range bad {
		c := style.DefaultConfig()
		mutate(&c)
		assert.Error(t, c.Validate(), "case %d", i)
	}

	zero := style.DefaultConfig()
	zero.Adam.Betas = [2]float32{0, 0}
	assert.NoError(t, zero.Validate())
}

func TestClamp(t *testing.T) {
	data := []float32{-3, 0, 0.5, 1, 7}
	style.Clamp(data)
	assert.Equal(t, []float32{0, 0, 0.5, 1, 1}, data)
}

func TestTransfer_ZeroIterations(t *testing.T) {
	content := noise(64, 64, 1)
	cfg := style.DefaultConfig()
	cfg.Iterations = 0

	tr := newTransfer(t, cfg, content, noise(64, 64, 2))
	out, err := tr.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, content.Pix, out.Pix)
	assert.Zero(t, tr.Iteration())
}

func TestTransfer_ClampsOvershoot(t *testing.T) {
	cfg := style.DefaultConfig()
	cfg.Iterations = 2
	cfg.StyleWeight = 1e4
	cfg.Optimizer = style.OptimizerSGD
	cfg.SGD = optim.SGDConfig{LR: 1e6}

	tr := newTransfer(t, cfg, noise(64, 64, 1), noise(64, 64, 5))
	out, err := tr.Run(context.Background())
	require.NoError(t, err)

	for i, v := range out.Pix {
		require.True(t, v >= 0 && v <= 1, "pixel %d = %g", i, v)
	}
	assert.Equal(t, 2, tr.Iteration())
}

func TestTransfer_RedContentBlueStyle(t *testing.T) {
	red := solid(64, 64, 1, 0, 0)
	blue := solid(64, 64, 0, 0, 1)
	cfg := style.DefaultConfig()
	cfg.Iterations = 1

	tr := newTransfer(t, cfg, red, blue)
	out, err := tr.Run(context.Background())
	require.NoError(t, err)

	toRed, err := imageio.MSE(out, red)
	require.NoError(t, err)
	toBlue, err := imageio.MSE(out, blue)
	require.NoError(t, err)
	assert.Less(t, toRed, toBlue)
}

func TestTransfer_IdenticalImages(t *testing.T) {
	content := noise(64, 64, 3)
	cfg := style.DefaultConfig()
	cfg.Iterations = 2

	tr := newTransfer(t, cfg, content, content.Clone())
	out, err := tr.Run(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0, tr.Last().StyleLoss, 1e-9)
	assert.InDelta(t, 0, tr.Last().ContentLoss, 1e-9)
	assert.Equal(t, content.Pix, out.Pix)
}

func TestTransfer_Progress(t *testing.T) {
	var seen []style.Progress
	cfg := style.DefaultConfig()
	cfg.Iterations = 3
	cfg.LogEvery = 0
	cfg.OnProgress = func(p style.Progress) { seen = append(seen, p) }

	tr := newTransfer(t, cfg, noise(32, 32, 1), noise(32, 32, 2))
	_, err := tr.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, seen, 3)
	for i, p := range seen {
		assert.Equal(t, i+1, p.Iteration)
		assert.Equal(t, 3, p.Total)
		assert.InEpsilon(t, p.StyleLoss+p.ContentLoss, p.Loss, 1e-4)
	}
	assert.Greater(t, seen[0].StyleLoss, 0.0)

	// Run is idempotent once every iteration is done.
	_, err = tr.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}

func TestTransfer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := newTransfer(t, style.DefaultConfig(), noise(32, 32, 1), noise(32, 32, 2))
	_, err := tr.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tr.Iteration())
}

func TestTransfer_NonFinite(t *testing.T) {
	content := noise(32, 32, 1)
	content.Pix[100] = float32(math.NaN())

	tr := newTransfer(t, style.DefaultConfig(), content, noise(32, 32, 2))
	err := tr.Step()
	assert.ErrorIs(t, err, style.ErrNonFinite)
	assert.Zero(t, tr.Iteration())
}

func TestTransfer_NonFiniteGradient(t *testing.T) {
	white := solid(32, 32, 1, 1, 1)
	cfg := style.DefaultConfig()
	cfg.ContentWeight = 1e38

	tr, err := style.New(cfg, tiny, constantWeights(t, tiny, 100), white, white.Clone())
	require.NoError(t, err)

	// Offset the content target by one. The loss stays near 1e38 while the
	// gradient overflows going back through the deepest convolution.
	target := tr.Targets().Features().Content[0].Data()
	for i := range target {
		target[i]++
	}
	before := tr.Image().Pix

	err = tr.Step()
	require.ErrorIs(t, err, style.ErrNonFinite)
	assert.ErrorContains(t, err, "image gradient")
	assert.Zero(t, tr.Iteration())
	assert.Equal(t, before, tr.Image().Pix)
}

func TestTransfer_ZeroBeta1(t *testing.T) {
	run := func(beta1 float32) []float32 {
		cfg := style.DefaultConfig()
		cfg.Iterations = 2
		cfg.LogEvery = 0
		cfg.Adam.Betas[0] = beta1

		tr := newTransfer(t, cfg, noise(32, 32, 1), noise(32, 32, 2))
		out, err := tr.Run(context.Background())
		require.NoError(t, err)
		for i, v := range out.Pix {
			require.True(t, v >= 0 && v <= 1, "pixel %d = %g", i, v)
		}
		return out.Pix
	}

	// The first Keras-style update does not depend on beta1; the second does.
	assert.NotEqual(t, run(0.9), run(0))
}

func TestTransfer_TooSmall(t *testing.T) {
	_, err := style.New(style.DefaultConfig(), tiny, vgg.RandomWeights(tiny, 1), noise(8, 8, 1), noise(32, 32, 2))
	assert.ErrorIs(t, err, style.ErrShape)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := style.DefaultConfig()
	cfg.Iterations = -1
	_, err := style.New(cfg, tiny, vgg.RandomWeights(tiny, 1), noise(32, 32, 1), noise(32, 32, 2))
	assert.Error(t, err)

	cfg = style.DefaultConfig()
	cfg.Adam.Betas[0] = 1
	_, err = style.New(cfg, tiny, vgg.RandomWeights(tiny, 1), noise(32, 32, 1), noise(32, 32, 2))
	assert.ErrorContains(t, err, "beta1")
}
