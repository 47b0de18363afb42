// Package palette computes summary statistics over an analyzed tile palette.
package palette

import (
	"sort"

	"github.com/GriffinCanCode/mosaic/internal/domain/session"
	"gonum.org/v1/gonum/stat"
)

// Color is an RGB triple with channels in [0, 255]
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Summary describes the spread of colors available to the mosaic
type Summary struct {
	Count            int     `json:"count"`
	Mean             Color   `json:"mean"`
	StdDev           Color   `json:"stddev"`
	MinBrightness    float64 `json:"min_brightness"`
	MaxBrightness    float64 `json:"max_brightness"`
	// MedianBrightness averages the two middle tiles for an even count
	MedianBrightness float64 `json:"median_brightness"`
}

// BrightnessSpread is the distance between the darkest and brightest tile
func (s Summary) BrightnessSpread() float64 {
	return s.MaxBrightness - s.MinBrightness
}

// Luma returns the perceived brightness of a color (ITU-R BT.601)
func Luma(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

// Summarize computes per-channel mean and population standard deviation
// and the brightness range of entries. An empty palette yields a zero Summary.
func Summarize(entries []session.PaletteEntry) Summary {
	n := len(entries)
	if n == 0 {
		return Summary{}
	}

	rs := make([]float64, n)
	gs := make([]float64, n)
	bs := make([]float64, n)
	luma := make([]float64, n)
	for i, e := range entries {
		rs[i], gs[i], bs[i] = e.R, e.G, e.B
		luma[i] = Luma(e.R, e.G, e.B)
	}

	var s Summary
	s.Count = n
	s.Mean.R, s.StdDev.R = stat.PopMeanStdDev(rs, nil)
	s.Mean.G, s.StdDev.G = stat.PopMeanStdDev(gs, nil)
	s.Mean.B, s.StdDev.B = stat.PopMeanStdDev(bs, nil)

	sort.Float64s(luma)
	s.MinBrightness = luma[0]
	s.MaxBrightness = luma[n-1]
	s.MedianBrightness = median(luma)

	return s
}

// median of sorted values; the mean of the two middle values when the count
// is even
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return stat.Quantile(0.5, stat.Empirical, sorted, nil)
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
