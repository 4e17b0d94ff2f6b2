// Package calibration loads stereo calibration artifacts and prepares them for rectification and
// reprojection. A loaded Config is read-only and safe to share between goroutines.
package calibration

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/rimage/transform"
)

// ErrConfig is wrapped by every error caused by a missing or malformed calibration.
var ErrConfig = errors.New("invalid stereo calibration")

func newConfigError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfig, format, args...)
}

// CameraParams are the calibrated parameters of one camera of the rig.
type CameraParams struct {
	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion *transform.BrownConrady            `json:"distortion_parameters,omitempty"`
	// Rectification is the row major 3x3 rotation into the rectified frame. Empty means identity.
	Rectification []float64 `json:"rectification,omitempty"`
	// Projection is the row major 3x4 (or 3x3) projection in the rectified frame.
	Projection []float64 `json:"projection"`
}

// StereoParams is the on-disk calibration of a stereo rig.
type StereoParams struct {
	Width  int          `json:"width_px"`
	Height int          `json:"height_px"`
	Left   CameraParams `json:"left"`
	Right  CameraParams `json:"right"`
	// Reprojection is the row major 4x4 disparity-to-depth matrix Q.
	Reprojection []float64 `json:"reprojection"`
}

// Config is a calibration ready for use: rectification maps for both cameras, the reprojection
// matrix and the frame size every capture must have.
type Config struct {
	Width  int
	Height int
	Left   *transform.RectifyMap
	Right  *transform.RectifyMap
	Q      *mat.Dense

	// Params is nil for configs built with NewConfig.
	Params *StereoParams
}

// NewConfig assembles a Config from precomputed maps. Both maps must have the declared size.
func NewConfig(width, height int, left, right *transform.RectifyMap, q *mat.Dense) (*Config, error) {
	if width <= 0 || height <= 0 {
		return nil, newConfigError("size %dx%d", width, height)
	}
	if left == nil || right == nil {
		return nil, newConfigError("missing rectification map")
	}
	for _, m := range []*transform.RectifyMap{left, right} {
		if m.Width != width || m.Height != height {
			return nil, newConfigError("rectification map is %dx%d, size is %dx%d", m.Width, m.Height, width, height)
		}
		if len(m.X) != width*height || len(m.Y) != width*height {
			return nil, newConfigError("rectification map has %d/%d entries, want %d", len(m.X), len(m.Y), width*height)
		}
	}
	if q == nil {
		return nil, newConfigError("missing reprojection matrix")
	}
	if r, c := q.Dims(); r != 4 || c != 4 {
		return nil, newConfigError("reprojection matrix is %dx%d, want 4x4", r, c)
	}
	return &Config{Width: width, Height: height, Left: left, Right: right, Q: q}, nil
}

// Build validates the parameters and computes the rectification maps.
func (p *StereoParams) Build() (*Config, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, newConfigError("missing or invalid size %dx%d", p.Width, p.Height)
	}
	left, err := p.Left.rectifyMap(p.Width, p.Height)
	if err != nil {
		return nil, errors.Wrap(err, "left")
	}
	right, err := p.Right.rectifyMap(p.Width, p.Height)
	if err != nil {
		return nil, errors.Wrap(err, "right")
	}
	if len(p.Reprojection) != 16 {
		return nil, newConfigError("reprojection needs 16 values, got %d", len(p.Reprojection))
	}
	cfg, err := NewConfig(p.Width, p.Height, left, right, mat.NewDense(4, 4, append([]float64(nil), p.Reprojection...)))
	if err != nil {
		return nil, err
	}
	cfg.Params = p
	return cfg, nil
}

func (c *CameraParams) rectifyMap(width, height int) (*transform.RectifyMap, error) {
	if c.Intrinsics == nil {
		return nil, newConfigError("missing intrinsic_parameters")
	}
	if c.Intrinsics.Width == 0 && c.Intrinsics.Height == 0 {
		c.Intrinsics.Width, c.Intrinsics.Height = width, height
	}
	if err := c.Intrinsics.CheckValid(); err != nil {
		return nil, newConfigError("%v", err)
	}

	rect := c.Rectification
	if len(rect) == 0 {
		rect = []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	}
	if len(rect) != 9 {
		return nil, newConfigError("rectification needs 9 values, got %d", len(rect))
	}
	var proj *mat.Dense
	switch len(c.Projection) {
	case 12:
		proj = mat.NewDense(3, 4, append([]float64(nil), c.Projection...))
	case 9:
		proj = mat.NewDense(3, 3, append([]float64(nil), c.Projection...))
	default:
		return nil, newConfigError("projection needs 12 values, got %d", len(c.Projection))
	}

	var distortion transform.Distorter
	if c.Distortion != nil {
		distortion = c.Distortion
	}
	m, err := transform.NewRectifyMap(c.Intrinsics, distortion, mat.NewDense(3, 3, append([]float64(nil), rect...)), proj, width, height)
	if err != nil {
		return nil, newConfigError("%v", err)
	}
	return m, nil
}

// CheckSize returns an error wrapping transform.ErrShapeMismatch unless the size matches the
// calibration.
func (c *Config) CheckSize(width, height int) error {
	if width != c.Width || height != c.Height {
		return transform.NewShapeMismatchError("frame", width, height, c.Width, c.Height)
	}
	return nil
}

// Rectify rectifies a raw stereo pair.
func (c *Config) Rectify(ctx context.Context, left, right *image.NRGBA) (*image.NRGBA, *image.NRGBA, error) {
	return transform.Rectify(ctx, left, right, c.Left, c.Right)
}

// FocalLength returns the rectified focal length in pixels.
func (c *Config) FocalLength() float64 {
	return c.Q.At(2, 3)
}

// Baseline returns the distance between the camera centers in calibration units.
func (c *Config) Baseline() float64 {
	inv := c.Q.At(3, 2)
	if inv == 0 {
		return math.Inf(1)
	}
	return math.Abs(1 / inv)
}

// NewReprojectionMatrix returns Q for an ideal rectified rig with focal length f, principal
// point (cx, cy) and the given baseline. Reprojecting disparity d gives depth f*baseline/d.
func NewReprojectionMatrix(f, cx, cy, baseline float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, -cx,
		0, 1, 0, -cy,
		0, 0, 0, f,
		0, 0, 1 / baseline, 0,
	})
}
