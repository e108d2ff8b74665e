package imageio

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
)

// PreserveColor keeps the lightness of stylized and takes the chroma (Lab a*
// and b*) of content, so the result carries the style's texture in the
// content's colors.
func PreserveColor(content, stylized *Image) (*Image, error) {
	if content.Width != stylized.Width || content.Height != stylized.Height {
		return nil, fmt.Errorf("preserve color: content %dx%d, stylized %dx%d",
			content.Width, content.Height, stylized.Width, stylized.Height)
	}

	out := NewImage(content.Width, content.Height)
	for i := 0; i < len(out.Pix); i += 3 {
		l, _, _ := rgb(stylized.Pix[i:]).Lab()
		_, a, b := rgb(content.Pix[i:]).Lab()

		c := colorful.Lab(l, a, b).Clamped()
		out.Pix[i] = float32(c.R)
		out.Pix[i+1] = float32(c.G)
		out.Pix[i+2] = float32(c.B)
	}
	return out, nil
}

func rgb(p []float32) colorful.Color {
	return colorful.Color{R: float64(p[0]), G: float64(p[1]), B: float64(p[2])}.Clamped()
}
