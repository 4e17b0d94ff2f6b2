package stereo

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/stereo/utils"
)

// FilterConfig configures the edge-aware disparity filter.
type FilterConfig struct {
	Radius int `json:"radius"`
	// SigmaColor is the intensity difference, in gray levels, over which guide weights fall off.
	SigmaColor float64 `json:"sigma_color"`
	// SigmaSpace is the distance, in pixels, over which spatial weights fall off.
	SigmaSpace float64 `json:"sigma_space"`
	// FillRatio is the share of the window weight that must come from valid neighbors before an
	// invalid pixel is filled.
	FillRatio float64 `json:"fill_ratio"`
}

// DefaultFilterConfig returns the filter settings used by the depth command.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{Radius: 3, SigmaColor: 12, SigmaSpace: 2, FillRatio: 0.6}
}

// Validate fills defaults and checks the ranges.
func (cfg *FilterConfig) Validate(path string) error {
	def := DefaultFilterConfig()
	if cfg.Radius == 0 {
		cfg.Radius = def.Radius
	}
	if cfg.SigmaColor == 0 {
		cfg.SigmaColor = def.SigmaColor
	}
	if cfg.SigmaSpace == 0 {
		cfg.SigmaSpace = def.SigmaSpace
	}
	if cfg.FillRatio == 0 {
		cfg.FillRatio = def.FillRatio
	}
	if cfg.Radius < 0 {
		return errors.Errorf("%s: radius must not be negative, got %d", path, cfg.Radius)
	}
	if cfg.SigmaColor < 0 || cfg.SigmaSpace < 0 {
		return errors.Errorf("%s: sigmas must be positive", path)
	}
	if cfg.FillRatio < 0 || cfg.FillRatio > 1 {
		return errors.Errorf("%s: fill_ratio must be in [0, 1], got %g", path, cfg.FillRatio)
	}
	return nil
}

// EdgeAwareFilter smooths a disparity map with weights from a joint bilateral kernel guided by
// the left image, so disparities are averaged within surfaces but not across intensity edges.
// Invalid pixels surrounded by enough valid weight are filled.
type EdgeAwareFilter struct {
	cfg     FilterConfig
	spatial []float64
	range_  [256]float64
}

// NewEdgeAwareFilter precomputes the kernel tables.
func NewEdgeAwareFilter(cfg FilterConfig) (*EdgeAwareFilter, error) {
	if err := cfg.Validate("filter"); err != nil {
		return nil, err
	}
	f := &EdgeAwareFilter{cfg: cfg}
	size := 2*cfg.Radius + 1
	f.spatial = make([]float64, size*size)
	for dy := -cfg.Radius; dy <= cfg.Radius; dy++ {
		for dx := -cfg.Radius; dx <= cfg.Radius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			f.spatial[(dy+cfg.Radius)*size+dx+cfg.Radius] = math.Exp(-d2 / (2 * cfg.SigmaSpace * cfg.SigmaSpace))
		}
	}
	for i := range f.range_ {
		v := float64(i)
		f.range_[i] = math.Exp(-v * v / (2 * cfg.SigmaColor * cfg.SigmaColor))
	}
	return f, nil
}

// Apply returns a filtered copy of dm. guide must have the size of dm.
func (f *EdgeAwareFilter) Apply(ctx context.Context, dm *DisparityMap, guide *image.Gray) (*DisparityMap, error) {
	b := guide.Bounds()
	if b.Dx() != dm.Width || b.Dy() != dm.Height {
		return nil, errors.Errorf("guide image is %dx%d but disparity map is %dx%d", b.Dx(), b.Dy(), dm.Width, dm.Height)
	}
	g := grayRows(guide)
	w, h := dm.Width, dm.Height
	radius := f.cfg.Radius
	size := 2*radius + 1
	out := NewDisparityMap(w, h)

	err := utils.ParallelRange(ctx, h, func(from, to int) {
		for y := from; y < to; y++ {
			for x := 0; x < w; x++ {
				center := g[y*w+x]
				var sum, weight, total float64
				for dy := -radius; dy <= radius; dy++ {
					yy := y + dy
					if yy < 0 || yy >= h {
						continue
					}
					for dx := -radius; dx <= radius; dx++ {
						xx := x + dx
						if xx < 0 || xx >= w {
							continue
						}
						wt := f.spatial[(dy+radius)*size+dx+radius] * f.range_[absDiff(center, g[yy*w+xx])]
						total += wt
						d := dm.Data[yy*w+xx]
						if !IsValid(d) {
							continue
						}
						sum += wt * float64(d)
						weight += wt
					}
				}
				if weight == 0 {
					continue
				}
				if !IsValid(dm.Data[y*w+x]) && weight < f.cfg.FillRatio*total {
					continue
				}
				out.Data[y*w+x] = float32(sum / weight)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
