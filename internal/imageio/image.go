// Package imageio decodes, resizes and encodes the images fed to and produced
// by the style transfer pipeline, and renders preview sheets.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	// Registers BMP, TIFF and WebP decoders.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"

	"github.com/born-ml/stylize/internal/tensor"
)

// ErrDecode reports content that no registered decoder accepts.
var ErrDecode = errors.New("decode image")

// JPEGQuality is used when saving .jpg/.jpeg files.
const JPEGQuality = 95

// Image is an RGB image with float32 channels in [0,1], stored row-major as
// height x width x 3.
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

// NewImage allocates a black image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float32, width*height*3)}
}

// Shape returns the batched tensor shape [1, H, W, 3].
func (m *Image) Shape() tensor.Shape {
	return tensor.Shape{1, m.Height, m.Width, 3}
}

// At returns the RGB triple at (x, y).
func (m *Image) At(x, y int) (r, g, b float32) {
	i := (y*m.Width + x) * 3
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	return &Image{Width: m.Width, Height: m.Height, Pix: append([]float32(nil), m.Pix...)}
}

// FromImage converts any image to RGB in [0,1]. Alpha is dropped.
func FromImage(img image.Image) *Image {
	b := img.Bounds()
	out := NewImage(b.Dx(), b.Dy())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.Pix[i] = float32(c.R) / 255
			out.Pix[i+1] = float32(c.G) / 255
			out.Pix[i+2] = float32(c.B) / 255
			i += 3
		}
	}
	return out
}

// ToImage quantizes to 8 bits per channel, clamping to [0,1].
func (m *Image) ToImage() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for p := 0; p < m.Width*m.Height; p++ {
		out.Pix[4*p] = to8(m.Pix[3*p])
		out.Pix[4*p+1] = to8(m.Pix[3*p+1])
		out.Pix[4*p+2] = to8(m.Pix[3*p+2])
		out.Pix[4*p+3] = 255
	}
	return out
}

func to8(v float32) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}

// Decode reads an image in any registered format.
func Decode(r io.Reader) (*Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return FromImage(img), nil
}

// Load decodes the image at path. When maxSize > 0 the image is downscaled so
// its longer side is at most maxSize pixels.
func Load(path string, maxSize int) (*Image, error) {
	//nolint:gosec // G304: image path is chosen by the user
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrDecode, path, err)
	}
	return FromImage(Resize(img, maxSize)), nil
}

// Resize scales img so its longer side is at most maxSize, preserving aspect
// ratio. Images already small enough, or maxSize <= 0, are returned as is.
func Resize(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return img
	}

	if w >= h {
		h = max(1, h*maxSize/w)
		w = maxSize
	} else {
		w = max(1, w*maxSize/h)
		h = maxSize
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Save encodes m by the extension of path: .png, .jpg or .jpeg.
func Save(path string, m *Image) error {
	return SaveImage(path, m.ToImage())
}

// SaveImage encodes img by the extension of path.
func SaveImage(path string, img image.Image) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
		return fmt.Errorf("unsupported output format %q (expected .png, .jpg or .jpeg)", ext)
	}

	//nolint:gosec // G304: output path is chosen by the user
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if ext == ".png" {
		err = png.Encode(f, img)
	} else {
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: JPEGQuality})
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// MSE returns the mean squared difference of two equally sized images.
func MSE(a, b *Image) (float64, error) {
	if a.Width != b.Width || a.Height != b.Height {
		return 0, fmt.Errorf("mse: size %dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	var sum float64
	for i, v := range a.Pix {
		d := float64(v - b.Pix[i])
		sum += d * d
	}
	return sum / float64(len(a.Pix)), nil
}
