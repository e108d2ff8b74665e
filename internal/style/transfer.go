package style

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/born-ml/stylize/internal/autodiff"
	"github.com/born-ml/stylize/internal/backend/cpu"
	"github.com/born-ml/stylize/internal/imageio"
	"github.com/born-ml/stylize/internal/nn"
	"github.com/born-ml/stylize/internal/optim"
	"github.com/born-ml/stylize/internal/tensor"
	"github.com/born-ml/stylize/internal/vgg"
)

// Backend is the differentiable CPU backend the pipeline runs on.
type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

// Tensor is a float32 tensor on Backend.
type Tensor = tensor.Tensor[float32, Backend]

// Targets are the fixed objectives of a transfer: the style signatures of
// the style image and the content activations of the content image.
type Targets[B tensor.Backend] struct {
	features Features[B]
}

// NewTargets extracts targets from the content and style images. Both are
// [1,H,W,3] tensors; their sizes may differ. The caller must not be recording
// on the backend's tape.
func NewTargets[B tensor.Backend](ext *Extractor[B], content, style *tensor.Tensor[float32, B]) (*Targets[B], error) {
	c, err := ext.Extract(content)
	if err != nil {
		return nil, fmt.Errorf("content image: %w", err)
	}
	s, err := ext.Extract(style)
	if err != nil {
		return nil, fmt.Errorf("style image: %w", err)
	}
	return &Targets[B]{features: Features[B]{Style: s.Style, Content: c.Content}}, nil
}

// Features returns the target features.
func (t *Targets[B]) Features() *Features[B] {
	return &t.features
}

// Transfer owns one style transfer run: the extractor, the targets and the
// image being optimized. It is not safe for concurrent use.
type Transfer struct {
	cfg     Config
	backend Backend
	ext     *Extractor[Backend]
	targets *Targets[Backend]
	image   *nn.Parameter[Backend]
	opt     optim.Optimizer

	width, height int
	iter          int
	start         time.Time
	last          Progress
}

// New prepares a transfer of style onto content. The image variable starts
// as a copy of content.
func New(cfg Config, arch vgg.Arch, weights vgg.WeightSource, content, style *imageio.Image) (*Transfer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend := autodiff.New(cpu.New())
	ext, err := NewExtractor(arch, weights, backend)
	if err != nil {
		return nil, err
	}

	contentT, err := tensor.FromSlice(content.Pix, content.Shape(), backend)
	if err != nil {
		return nil, fmt.Errorf("%w: content image: %w", ErrShape, err)
	}
	styleT, err := tensor.FromSlice(style.Pix, style.Shape(), backend)
	if err != nil {
		return nil, fmt.Errorf("%w: style image: %w", ErrShape, err)
	}

	targets, err := NewTargets(ext, contentT, styleT)
	if err != nil {
		return nil, err
	}

	img := contentT.Clone()
	backend.Tape().Watch(img.Raw())
	param := nn.NewParameter("image", img)

	var opt optim.Optimizer
	switch cfg.Optimizer {
	case OptimizerSGD:
		opt = optim.NewSGD([]*nn.Parameter[Backend]{param}, cfg.SGD, backend)
	default:
		opt = optim.NewAdam([]*nn.Parameter[Backend]{param}, cfg.Adam, backend)
	}

	slog.Debug("style transfer ready",
		"arch", arch.Name,
		"preprocess", ext.Network().Preprocessor().Kind(),
		"content", fmt.Sprintf("%dx%d", content.Width, content.Height),
		"style", fmt.Sprintf("%dx%d", style.Width, style.Height),
		"optimizer", cfg.Optimizer,
		"iterations", cfg.Iterations)

	return &Transfer{
		cfg:     cfg,
		backend: backend,
		ext:     ext,
		targets: targets,
		image:   param,
		opt:     opt,
		width:   content.Width,
		height:  content.Height,
	}, nil
}

// Extractor returns the feature extractor.
func (t *Transfer) Extractor() *Extractor[Backend] {
	return t.ext
}

// Targets returns the fixed targets.
func (t *Transfer) Targets() *Targets[Backend] {
	return t.targets
}

// Iteration returns the number of completed steps.
func (t *Transfer) Iteration() int {
	return t.iter
}

// Last returns the progress of the most recent step.
func (t *Transfer) Last() Progress {
	return t.last
}

// Image returns a copy of the current image.
func (t *Transfer) Image() *imageio.Image {
	out := imageio.NewImage(t.width, t.height)
	copy(out.Pix, t.image.Tensor().Data())
	return out
}

// Step runs one iteration: extract, loss, gradient with respect to the image
// pixels, one optimizer update, clamp to [0,1]. A non-finite loss or
// gradient returns ErrNonFinite and leaves the image untouched. A NaN pixel
// after the update also returns ErrNonFinite.
func (t *Transfer) Step() error {
	if t.start.IsZero() {
		t.start = time.Now()
	}

	tape := t.backend.Tape()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	feats, err := t.ext.Extract(t.image.Tensor())
	if err != nil {
		return err
	}
	terms := Loss(feats, t.targets.Features(), t.cfg.StyleWeight, t.cfg.ContentWeight)

	p := Progress{
		Iteration:   t.iter + 1,
		Total:       t.cfg.Iterations,
		Loss:        float64(terms.Total.Item()),
		StyleLoss:   float64(terms.Style.Item()),
		ContentLoss: float64(terms.Content.Item()),
	}
	if !finite(p.Loss) {
		return fmt.Errorf("%w: loss is %g at iteration %d (style %g, content %g)",
			ErrNonFinite, p.Loss, p.Iteration, p.StyleLoss, p.ContentLoss)
	}

	grads := autodiff.Backward(terms.Total, t.backend)
	if g := grads[t.image.Tensor().Raw()]; g != nil {
		if err := checkFinite("image gradient", g.AsFloat32(), p.Iteration); err != nil {
			return err
		}
	}

	t.opt.Step(grads)
	t.opt.ZeroGrad()
	Clamp(t.image.Tensor().Data())
	if err := checkFinite("pixel", t.image.Tensor().Data(), p.Iteration); err != nil {
		return err
	}

	t.iter++
	p.Elapsed = time.Since(t.start)
	t.last = p

	if n := t.cfg.LogEvery; n > 0 && (t.iter%n == 0 || t.iter == t.cfg.Iterations) {
		slog.Info("step",
			"iteration", p.Iteration,
			"total", p.Total,
			"loss", p.Loss,
			"style", p.StyleLoss,
			"content", p.ContentLoss,
			"elapsed", p.Elapsed.Round(time.Millisecond))
	}
	if t.cfg.OnProgress != nil {
		t.cfg.OnProgress(p)
	}
	return nil
}

// Run performs the remaining configured iterations and returns the result.
// Cancellation is checked between steps.
func (t *Transfer) Run(ctx context.Context) (*imageio.Image, error) {
	for t.iter < t.cfg.Iterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.Step(); err != nil {
			return nil, err
		}
	}
	return t.Image(), nil
}

// Clamp limits every value to [0,1].
func Clamp(data []float32) {
	for i, v := range data {
		data[i] = min(max(v, 0), 1)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// checkFinite wraps ErrNonFinite around the first NaN or Inf in data.
func checkFinite(what string, data []float32, iteration int) error {
	if i, v, ok := firstNonFinite(data); !ok {
		return fmt.Errorf("%w: %s is %g at element %d, iteration %d", ErrNonFinite, what, v, i, iteration)
	}
	return nil
}

// firstNonFinite returns the first NaN or Inf in data, with ok false, or ok
// true if every value is finite.
func firstNonFinite(data []float32) (int, float32, bool) {
	for i, v := range data {
		if !finite(float64(v)) {
			return i, v, false
		}
	}
	return 0, 0, true
}
