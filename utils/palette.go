package utils

import (
	"image"
	"image/color"
	"math"
	"slices"
	"strings"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/pkg/errors"
)

type PaletteMethod int

const (
	PaletteMethodDominantColor PaletteMethod = iota
	PaletteMethodKMeans
)

var ErrUnknownPaletteMethod = errors.New("unknown palette method")

type weightedColor struct {
	Col    colorful.Color
	Weight float64
}

func (m PaletteMethod) String() string {
	switch m {
	case PaletteMethodKMeans:
		return "kmeans"
	default:
		return "dominantcolor"
	}
}

func ParsePaletteMethod(s string) (PaletteMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dominantcolor", "dominant":
		return PaletteMethodDominantColor, nil
	case "kmeans":
		return PaletteMethodKMeans, nil
	}
	return 0, errors.Wrapf(ErrUnknownPaletteMethod, "%q", s)
}

// SortPaletteByBrightness orders colors from darkest to brightest by relative luminance.
func SortPaletteByBrightness(palette []colorful.Color) {
	slices.SortStableFunc(palette, func(a, b colorful.Color) int {
		ya, yb := luminance(a), luminance(b)
		switch {
		case ya < yb:
			return -1
		case ya > yb:
			return 1
		}
		return 0
	})
}

func luminance(c colorful.Color) float64 {
	r, g, b := c.LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// Hex renders a palette as "#rrggbb" strings.
func Hex(palette []colorful.Color) []string {
	out := make([]string, len(palette))
	for i, c := range palette {
		out[i] = c.Clamped().Hex()
	}
	return out
}

// ExtractDominantPalette picks k diverse colors out of dominantcolor's weighted candidates.
func ExtractDominantPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}
	candidates := dominantcolor.FindWeight(img, max(24, k*8))
	if len(candidates) == 0 {
		return nil
	}
	weighted := make([]weightedColor, 0, len(candidates))
	for _, c := range candidates {
		col, _ := colorful.MakeColor(color.NRGBA{R: c.RGBA.R, G: c.RGBA.G, B: c.RGBA.B, A: 255})
		weighted = append(weighted, weightedColor{Col: col.Clamped(), Weight: c.Weight})
	}
	return SelectDiverseWeightedColors(weighted, k)
}

// SelectDiverseWeightedColors starts from the heaviest candidate and keeps adding
// the one farthest (in Lab) from everything already chosen, scaled by its weight.
func SelectDiverseWeightedColors(cands []weightedColor, k int) []colorful.Color {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	pool := make([]weightedColor, len(cands))
	heaviest := 0
	for i, c := range cands {
		pool[i] = weightedColor{Col: c.Col.Clamped(), Weight: max(c.Weight, 1e-6)}
		if pool[i].Weight > pool[heaviest].Weight {
			heaviest = i
		}
	}
	topWeight := pool[heaviest].Weight

	// gap[i] is the Lab distance from candidate i to its closest chosen color,
	// or -1 once i itself is chosen.
	gap := make([]float64, len(pool))
	choose := func(i int) colorful.Color {
		gap[i] = -1
		for j, d := range gap {
			if d >= 0 {
				gap[j] = min(d, pool[j].Col.DistanceLab(pool[i].Col))
			}
		}
		return pool[i].Col
	}
	for i := range gap {
		gap[i] = math.MaxFloat64
	}

	out := make([]colorful.Color, 0, min(k, len(pool)))
	out = append(out, choose(heaviest))
	for len(out) < cap(out) {
		next, score := -1, -1.0
		for i, d := range gap {
			if d < 0 {
				continue
			}
			if s := d * (0.55 + 0.45*math.Sqrt(pool[i].Weight/topWeight)); s > score {
				next, score = i, s
			}
		}
		if next < 0 {
			break
		}
		out = append(out, choose(next))
	}
	return out
}

// ExtractKMeansPalette clusters the visible pixels of img. Fully transparent
// pixels are ignored so padding does not become a palette entry.
func ExtractKMeansPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return nil
	}

	// Subsample to keep kmeans tractable on large canvases.
	maxSamples := 12000
	step := 1
	if width*height > maxSamples {
		step = int(math.Sqrt(float64(width*height)/float64(maxSamples))) + 1
	}

	dataset := make(clusters.Observations, 0, min(width*height, maxSamples))
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			dataset = append(dataset, clusters.Coordinates{
				float64(c.R) / 255.0,
				float64(c.G) / 255.0,
				float64(c.B) / 255.0,
			})
		}
	}
	if len(dataset) == 0 {
		return nil
	}

	workK := min(max(k*4, k+2), len(dataset))
	cc, err := kmeans.New().Partition(dataset, workK)
	if err != nil || len(cc) == 0 {
		return nil
	}

	weighted := make([]weightedColor, 0, len(cc))
	for _, c := range cc {
		if len(c.Observations) == 0 || len(c.Center) < 3 {
			continue
		}
		col := colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}.Clamped()
		weighted = append(weighted, weightedColor{Col: col, Weight: float64(len(c.Observations))})
	}
	return SelectDiverseWeightedColors(weighted, k)
}

// ExtractPalette returns a darkest-first palette and the method that produced it.
// An empty kmeans result falls back to dominantcolor.
func ExtractPalette(img image.Image, k int, method PaletteMethod) ([]colorful.Color, PaletteMethod) {
	var p []colorful.Color
	used := method
	if method == PaletteMethodKMeans {
		p = ExtractKMeansPalette(img, k)
	}
	if len(p) == 0 {
		p = ExtractDominantPalette(img, k)
		used = PaletteMethodDominantColor
	}
	SortPaletteByBrightness(p)
	return p, used
}
