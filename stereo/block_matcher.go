package stereo

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/stereo/utils"
)

// Matcher computes a disparity map from a rectified grayscale pair.
type Matcher interface {
	Match(ctx context.Context, left, right *image.Gray) (*DisparityMap, error)
}

// BlockMatcherConfig configures BlockMatcher. Zero fields take the defaults.
type BlockMatcherConfig struct {
	MinDisparity   int `json:"min_disparity"`
	NumDisparities int `json:"num_disparities"`
	// BlockSize is the odd edge length of the square matching window.
	BlockSize int `json:"block_size"`
	// UniquenessRatio is the margin in percent by which the best cost must beat every other
	// non-adjacent candidate.
	UniquenessRatio int `json:"uniqueness_ratio"`
	// TextureThreshold is the minimum mean absolute horizontal gradient inside the window.
	// Flatter windows are left invalid.
	TextureThreshold float64 `json:"texture_threshold"`
	// DisableSubPixel turns off parabola refinement of the winning disparity.
	DisableSubPixel bool `json:"disable_sub_pixel"`
}

// DefaultBlockMatcherConfig returns the settings used for 1080p rigs.
func DefaultBlockMatcherConfig() BlockMatcherConfig {
	return BlockMatcherConfig{
		MinDisparity:     0,
		NumDisparities:   128,
		BlockSize:        9,
		UniquenessRatio:  10,
		TextureThreshold: 2,
	}
}

// Validate fills defaults and checks the ranges.
func (cfg *BlockMatcherConfig) Validate(path string) error {
	def := DefaultBlockMatcherConfig()
	if cfg.NumDisparities == 0 {
		cfg.NumDisparities = def.NumDisparities
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = def.BlockSize
	}
	if cfg.MinDisparity < 0 {
		return errors.Errorf("%s: min_disparity must not be negative, got %d", path, cfg.MinDisparity)
	}
	if cfg.NumDisparities < 1 {
		return errors.Errorf("%s: num_disparities must be positive, got %d", path, cfg.NumDisparities)
	}
	if cfg.BlockSize < 1 || cfg.BlockSize%2 == 0 {
		return errors.Errorf("%s: block_size must be a positive odd number, got %d", path, cfg.BlockSize)
	}
	if cfg.UniquenessRatio < 0 || cfg.UniquenessRatio >= 100 {
		return errors.Errorf("%s: uniqueness_ratio must be in [0, 100), got %d", path, cfg.UniquenessRatio)
	}
	if cfg.TextureThreshold < 0 {
		return errors.Errorf("%s: texture_threshold must not be negative, got %g", path, cfg.TextureThreshold)
	}
	return nil
}

// BlockMatcher is a sum-of-absolute-differences block matcher with winner-take-all selection.
type BlockMatcher struct {
	cfg BlockMatcherConfig
}

// NewBlockMatcher returns a matcher for the given configuration.
func NewBlockMatcher(cfg BlockMatcherConfig) (*BlockMatcher, error) {
	if err := cfg.Validate("block_matcher"); err != nil {
		return nil, err
	}
	return &BlockMatcher{cfg: cfg}, nil
}

// Config returns the validated configuration.
func (bm *BlockMatcher) Config() BlockMatcherConfig {
	return bm.cfg
}

// bandRows is the number of rows whose cost volume is held in memory at once by one worker.
const bandRows = 16

// Match implements Matcher. The left image is the reference: output pixel (x, y) holds d such that
// left (x, y) matches right (x-d, y).
func (bm *BlockMatcher) Match(ctx context.Context, left, right *image.Gray) (*DisparityMap, error) {
	lb, rb := left.Bounds(), right.Bounds()
	if lb.Dx() != rb.Dx() || lb.Dy() != rb.Dy() {
		return nil, errors.Errorf("left image is %dx%d but right image is %dx%d", lb.Dx(), lb.Dy(), rb.Dx(), rb.Dy())
	}
	w, h := lb.Dx(), lb.Dy()
	out := NewDisparityMap(w, h)
	if w == 0 || h == 0 {
		return out, nil
	}

	l := grayRows(left)
	r := grayRows(right)
	numBands := (h + bandRows - 1) / bandRows
	err := utils.ParallelRange(ctx, numBands, func(from, to int) {
		scratch := newBandScratch(w, bm.cfg)
		for band := from; band < to; band++ {
			if ctx.Err() != nil {
				return
			}
			y0 := band * bandRows
			y1 := y0 + bandRows
			if y1 > h {
				y1 = h
			}
			bm.matchBand(l, r, w, h, y0, y1, scratch, out)
		}
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// grayRows returns the pixels of img as a dense row major slice.
func grayRows(img *image.Gray) []uint8 {
	b := img.Bounds()
	if img.Stride == b.Dx() && b.Min == (image.Point{}) {
		return img.Pix[:b.Dx()*b.Dy()]
	}
	out := make([]uint8, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		out = append(out, img.Pix[off:off+b.Dx()]...)
	}
	return out
}

type bandScratch struct {
	integral []int32
	texture  []int32
	costs    []int32
}

func newBandScratch(w int, cfg BlockMatcherConfig) *bandScratch {
	ext := bandRows + cfg.BlockSize
	return &bandScratch{
		integral: make([]int32, (ext+1)*(w+1)),
		texture:  make([]int32, (ext+1)*(w+1)),
		costs:    make([]int32, bandRows*w*cfg.NumDisparities),
	}
}

const unusable = int32(-1)

func (bm *BlockMatcher) matchBand(l, r []uint8, w, h, y0, y1 int, s *bandScratch, out *DisparityMap) {
	radius := bm.cfg.BlockSize / 2
	numD := bm.cfg.NumDisparities
	minD := bm.cfg.MinDisparity
	ey0 := y0 - radius
	if ey0 < 0 {
		ey0 = 0
	}
	ey1 := y1 + radius
	if ey1 > h {
		ey1 = h
	}
	stride := w + 1

	// window returns the clipped window around (x, y) in integral coordinates.
	window := func(x, y int) (int, int, int, int) {
		wx0, wx1 := x-radius, x+radius+1
		if wx0 < 0 {
			wx0 = 0
		}
		if wx1 > w {
			wx1 = w
		}
		wy0, wy1 := y-radius, y+radius+1
		if wy0 < ey0 {
			wy0 = ey0
		}
		if wy1 > ey1 {
			wy1 = ey1
		}
		return wx0, wx1, wy0 - ey0, wy1 - ey0
	}
	boxSum := func(integral []int32, wx0, wx1, iy0, iy1 int) int32 {
		return integral[iy1*stride+wx1] - integral[iy0*stride+wx1] - integral[iy1*stride+wx0] + integral[iy0*stride+wx0]
	}

	// Horizontal gradient energy of the left image, for the texture check.
	buildIntegral(s.texture, stride, ey0, ey1, w, func(x, y int) int32 {
		if x == 0 {
			return 0
		}
		return absDiff(l[y*w+x], l[y*w+x-1])
	})

	for di := 0; di < numD; di++ {
		d := minD + di
		buildIntegral(s.integral, stride, ey0, ey1, w, func(x, y int) int32 {
			if x-d < 0 {
				return 0
			}
			return absDiff(l[y*w+x], r[y*w+x-d])
		})
		for y := y0; y < y1; y++ {
			row := (y - y0) * w
			for x := 0; x < w; x++ {
				wx0, wx1, iy0, iy1 := window(x, y)
				idx := (row+x)*numD + di
				// Every window column must have a counterpart in the right image.
				if wx0-d < 0 {
					s.costs[idx] = unusable
					continue
				}
				s.costs[idx] = boxSum(s.integral, wx0, wx1, iy0, iy1)
			}
		}
	}

	for y := y0; y < y1; y++ {
		row := (y - y0) * w
		for x := 0; x < w; x++ {
			wx0, wx1, iy0, iy1 := window(x, y)
			area := float64((wx1 - wx0) * (iy1 - iy0))
			if float64(boxSum(s.texture, wx0, wx1, iy0, iy1)) < bm.cfg.TextureThreshold*area {
				continue
			}
			costs := s.costs[(row+x)*numD : (row+x+1)*numD]
			if d, ok := bm.selectDisparity(costs); ok {
				out.Data[y*w+x] = float32(minD) + d
			}
		}
	}
}

// selectDisparity picks the winning candidate of one pixel, applies the uniqueness check and
// refines the winner with a parabola through its neighbors.
func (bm *BlockMatcher) selectDisparity(costs []int32) (float32, bool) {
	best := -1
	for di, c := range costs {
		if c == unusable {
			continue
		}
		if best < 0 || c < costs[best] {
			best = di
		}
	}
	if best < 0 {
		return 0, false
	}
	bestCost := int64(costs[best])
	ratio := int64(bm.cfg.UniquenessRatio)
	for di, c := range costs {
		if c == unusable || di == best || di == best-1 || di == best+1 {
			continue
		}
		if int64(c)*(100-ratio) < bestCost*100 {
			return 0, false
		}
	}

	d := float32(best)
	if bm.cfg.DisableSubPixel || best == 0 || best == len(costs)-1 {
		return d, true
	}
	c0, c2 := costs[best-1], costs[best+1]
	if c0 == unusable || c2 == unusable {
		return d, true
	}
	denom := float64(c0) - 2*float64(bestCost) + float64(c2)
	if denom <= 0 {
		return d, true
	}
	delta := (float64(c0) - float64(c2)) / (2 * denom)
	return d + float32(delta), true
}

// buildIntegral fills integral with the summed area table of value over rows [ey0, ey1).
func buildIntegral(integral []int32, stride, ey0, ey1, w int, value func(x, y int) int32) {
	for x := 0; x <= w; x++ {
		integral[x] = 0
	}
	for y := ey0; y < ey1; y++ {
		iy := y - ey0 + 1
		integral[iy*stride] = 0
		var rowSum int32
		for x := 0; x < w; x++ {
			rowSum += value(x, y)
			integral[iy*stride+x+1] = integral[(iy-1)*stride+x+1] + rowSum
		}
	}
}

func absDiff(a, b uint8) int32 {
	if a > b {
		return int32(a - b)
	}
	return int32(b - a)
}
