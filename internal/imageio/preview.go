package imageio

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Panel is one captioned image on a preview sheet.
type Panel struct {
	Label string
	Image *Image
}

// PreviewOptions controls preview sheet layout.
type PreviewOptions struct {
	Height        int // panel height in pixels; 0 uses the tallest panel
	PaletteSize   int // swatches per panel; 0 disables palettes
	PaletteMethod PaletteMethod
}

const (
	previewMargin  = 8
	previewLabel   = 16
	previewSwatchH = 24
)

// RenderPreview lays panels out side by side, each scaled to a common height,
// with its label above and its palette strip below.
func RenderPreview(panels []Panel, opts PreviewOptions) *image.NRGBA {
	height := opts.Height
	if height <= 0 {
		for _, p := range panels {
			height = max(height, p.Image.Height)
		}
	}

	widths := make([]int, len(panels))
	total := previewMargin
	for i, p := range panels {
		widths[i] = max(1, p.Image.Width*height/max(1, p.Image.Height))
		total += widths[i] + previewMargin
	}

	stripH := 0
	if opts.PaletteSize > 0 {
		stripH = previewSwatchH + previewMargin
	}
	sheet := image.NewNRGBA(image.Rect(0, 0, total, previewMargin+previewLabel+height+stripH+previewMargin))
	draw.Draw(sheet, sheet.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	x := previewMargin
	top := previewMargin + previewLabel
	for i, p := range panels {
		drawLabel(sheet, x, previewMargin+previewLabel-4, p.Label)

		src := p.Image.ToImage()
		rect := image.Rect(x, top, x+widths[i], top+height)
		draw.CatmullRom.Scale(sheet, rect, src, src.Bounds(), draw.Src, nil)

		if opts.PaletteSize > 0 {
			strip := image.Rect(x, top+height+previewMargin, x+widths[i], top+height+previewMargin+previewSwatchH)
			drawPalette(sheet, strip, ExtractPalette(src, opts.PaletteSize, opts.PaletteMethod))
		}
		x += widths[i] + previewMargin
	}
	return sheet
}

// SavePreview renders panels and writes the sheet to path.
func SavePreview(path string, panels []Panel, opts PreviewOptions) error {
	return SaveImage(path, RenderPreview(panels, opts))
}

func drawLabel(dst draw.Image, x, baseline int, label string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(label)
}

func drawPalette(dst draw.Image, rect image.Rectangle, palette []colorful.Color) {
	if len(palette) == 0 {
		return
	}
	w := rect.Dx() / len(palette)
	for i, c := range palette {
		r, g, b := c.Clamped().RGB255()
		swatch := image.Rect(rect.Min.X+i*w, rect.Min.Y, rect.Min.X+(i+1)*w, rect.Max.Y)
		if i == len(palette)-1 {
			swatch.Max.X = rect.Max.X
		}
		draw.Draw(dst, swatch, image.NewUniform(color.NRGBA{R: r, G: g, B: b, A: 255}), image.Point{}, draw.Src)
	}
}
