package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

var hueRamp [256]color.NRGBA

func init() {
	for i := range hueRamp {
		ratio := float64(i) / float64(len(hueRamp)-1)
		r, g, b := colorful.Hsv(30+200*ratio, 1, 1).RGB255()
		hueRamp[i] = color.NRGBA{r, g, b, 255}
	}
}

// ValidValue returns whether v is a real, non-negative measurement.
func ValidValue(v float32) bool {
	return v >= 0 && !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}

// MinMax returns the range of the valid values. ok is false if there are none.
func MinMax(values []float32) (lo, hi float32, ok bool) {
	for _, v := range values {
		if !ValidValue(v) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, ok
}

// Colorize renders a width x height field of values as a hue ramp from orange (lo) to blue (hi).
// Values outside [lo, hi] are clamped; NaN and negative values are black.
func Colorize(values []float32, width, height int, lo, hi float32) (*image.NRGBA, error) {
	if len(values) != width*height {
		return nil, errors.Errorf("have %d values for a %dx%d image", len(values), width, height)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	span := float64(hi - lo)
	last := float64(len(hueRamp) - 1)
	for i, v := range values {
		off := 4 * i
		if !ValidValue(v) {
			img.Pix[off+3] = 255
			continue
		}
		ratio := 0.
		if span > 0 {
			ratio = math.Max(0, math.Min(1, float64(v-lo)/span))
		}
		c := hueRamp[int(math.Round(ratio*last))]
		img.Pix[off] = c.R
		img.Pix[off+1] = c.G
		img.Pix[off+2] = c.B
		img.Pix[off+3] = 255
	}
	return img, nil
}

// ColorizeAuto colorizes values over their own valid range.
func ColorizeAuto(values []float32, width, height int) (*image.NRGBA, error) {
	lo, hi, _ := MinMax(values)
	return Colorize(values, width, height, lo, hi)
}
