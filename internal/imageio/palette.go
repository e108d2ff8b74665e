package imageio

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

// PaletteMethod selects how palette colors are extracted.
type PaletteMethod int

// Palette extraction methods.
const (
	PaletteDominant PaletteMethod = iota
	PaletteKMeans
)

func (m PaletteMethod) String() string {
	switch m {
	case PaletteKMeans:
		return "kmeans"
	default:
		return "dominant"
	}
}

// ParsePaletteMethod accepts "dominant" or "kmeans".
func ParsePaletteMethod(s string) (PaletteMethod, error) {
	switch s {
	case "dominant", "dominantcolor":
		return PaletteDominant, nil
	case "kmeans":
		return PaletteKMeans, nil
	default:
		return 0, fmt.Errorf("unknown palette method %q (expected dominant or kmeans)", s)
	}
}

// maxPaletteSamples bounds the pixels clustered by k-means.
const maxPaletteSamples = 12000

type weightedColor struct {
	col    colorful.Color
	weight float64
}

// ExtractPalette returns up to k representative colors, most prominent first.
func ExtractPalette(img image.Image, k int, method PaletteMethod) []colorful.Color {
	if method == PaletteKMeans {
		if p := kmeansPalette(img, k); len(p) != 0 {
			return p
		}
		slog.Warn("kmeans returned an empty palette, falling back to dominant colors")
	}
	return dominantPalette(img, k)
}

func dominantPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}

	candidates := dominantcolor.FindWeight(img, max(16, k*4))
	if len(candidates) == 0 {
		candidates = append(candidates, dominantcolor.Color{
			RGBA:   color.RGBA{R: 128, G: 128, B: 128, A: 255},
			Weight: 1,
		})
	}

	weighted := make([]weightedColor, 0, len(candidates))
	for _, c := range candidates {
		col, _ := colorful.MakeColor(c.RGBA)
		weighted = append(weighted, weightedColor{col: col.Clamped(), weight: max(c.Weight, 1e-6)})
	}
	return diverseColors(weighted, k)
}

func kmeansPalette(img image.Image, k int) []colorful.Color {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if k <= 0 || n == 0 {
		return nil
	}

	step := 1
	if n > maxPaletteSamples {
		step = int(math.Sqrt(float64(n)/maxPaletteSamples)) + 1
	}

	dataset := make(clusters.Observations, 0, min(n, maxPaletteSamples))
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bl, _ := img.At(x, y).RGBA()
			dataset = append(dataset, clusters.Coordinates{
				float64(r) / 0xffff,
				float64(g) / 0xffff,
				float64(bl) / 0xffff,
			})
		}
	}

	cc, err := kmeans.New().Partition(dataset, min(k*3, len(dataset)))
	if err != nil || len(cc) == 0 {
		return nil
	}

	weighted := make([]weightedColor, 0, len(cc))
	for _, c := range cc {
		if len(c.Center) < 3 || len(c.Observations) == 0 {
			continue
		}
		col := colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}.Clamped()
		weighted = append(weighted, weightedColor{col: col, weight: float64(len(c.Observations))})
	}
	return diverseColors(weighted, k)
}

// diverseColors greedily picks k colors, seeding with the heaviest and then
// favoring candidates far (in Lab) from those already picked.
func diverseColors(cands []weightedColor, k int) []colorful.Color {
	if len(cands) == 0 {
		return nil
	}
	slices.SortStableFunc(cands, func(a, b weightedColor) int {
		switch {
		case a.weight > b.weight:
			return -1
		case a.weight < b.weight:
			return 1
		default:
			return 0
		}
	})
	k = min(k, len(cands))
	maxW := cands[0].weight

	picked := []int{0}
	taken := make([]bool, len(cands))
	taken[0] = true

	for len(picked) < k {
		best, bestScore := -1, -1.0
		for i, c := range cands {
			if taken[i] {
				continue
			}
			minD := math.MaxFloat64
			for _, p := range picked {
				minD = min(minD, c.col.DistanceLab(cands[p].col))
			}
			score := minD * (0.55 + 0.45*math.Sqrt(c.weight/maxW))
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		taken[best] = true
		picked = append(picked, best)
	}

	out := make([]colorful.Color, len(picked))
	for i, p := range picked {
		out[i] = cands[p].col
	}
	return out
}
