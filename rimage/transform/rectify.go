package transform

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/utils"
)

// ErrShapeMismatch is returned when an image does not have the size a map or calibration expects.
var ErrShapeMismatch = errors.New("image size does not match calibration size")

// NewShapeMismatchError reports the expected and the actual size.
func NewShapeMismatchError(what string, gotW, gotH, wantW, wantH int) error {
	return errors.Wrapf(ErrShapeMismatch, "%s is %dx%d, calibration is %dx%d", what, gotW, gotH, wantW, wantH)
}

// RectifyMap stores, for every pixel of the rectified image, the sub-pixel location in the raw
// image to sample from. X and Y are row major with Width*Height entries.
type RectifyMap struct {
	Width  int
	Height int
	X      []float32
	Y      []float32
}

// IdentityRectifyMap returns a map that leaves images unchanged.
func IdentityRectifyMap(width, height int) *RectifyMap {
	m := newRectifyMap(width, height)
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			m.X[v*width+u] = float32(u)
			m.Y[v*width+u] = float32(v)
		}
	}
	return m
}

func newRectifyMap(width, height int) *RectifyMap {
	return &RectifyMap{
		Width:  width,
		Height: height,
		X:      make([]float32, width*height),
		Y:      make([]float32, width*height),
	}
}

// NewRectifyMap computes the undistort-and-rectify map of one camera of a stereo pair from its
// camera matrix, lens distortion, rectification rotation r (3x3) and rectified projection p
// (3x3 or 3x4, only the left 3x3 block is used). The result has the given output size.
func NewRectifyMap(
	intrinsics *PinholeCameraIntrinsics,
	distortion Distorter,
	r, p mat.Matrix,
	width, height int,
) (*RectifyMap, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid rectified size %dx%d", width, height)
	}
	if rr, rc := r.Dims(); rr != 3 || rc != 3 {
		return nil, errors.Errorf("rectification matrix must be 3x3, got %dx%d", rr, rc)
	}
	if pr, pc := p.Dims(); pr != 3 || pc < 3 {
		return nil, errors.Errorf("projection matrix must be 3x3 or 3x4, got %dx%d", pr, pc)
	}

	// Rectified pixel -> ray in the rectified frame -> ray in the raw camera frame.
	newCam := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			newCam.Set(i, j, p.At(i, j))
		}
	}
	var m, inv mat.Dense
	m.Mul(newCam, r)
	if err := inv.Inverse(&m); err != nil {
		return nil, errors.Wrap(err, "rectification is singular")
	}
	ir := inv.RawMatrix().Data
	stride := inv.RawMatrix().Stride

	out := newRectifyMap(width, height)
	for v := 0; v < height; v++ {
		fv := float64(v)
		for u := 0; u < width; u++ {
			fu := float64(u)
			x := ir[0]*fu + ir[1]*fv + ir[2]
			y := ir[stride]*fu + ir[stride+1]*fv + ir[stride+2]
			w := ir[2*stride]*fu + ir[2*stride+1]*fv + ir[2*stride+2]
			if w == 0 {
				w = math.SmallestNonzeroFloat64
			}
			x, y = x/w, y/w
			if distortion != nil {
				x, y = distortion.Transform(x, y)
			}
			out.X[v*width+u] = float32(x*intrinsics.Fx + intrinsics.Ppx)
			out.Y[v*width+u] = float32(y*intrinsics.Fy + intrinsics.Ppy)
		}
	}
	return out, nil
}

// Remap warps src through the map with bilinear interpolation. Samples that fall outside src are
// black. The output has the map's size; src must have it too, since raw frames are never resized.
func Remap(ctx context.Context, src *image.NRGBA, m *RectifyMap) (*image.NRGBA, error) {
	if src == nil || m == nil {
		return nil, errors.New("remap needs an image and a map")
	}
	b := src.Bounds()
	if b.Dx() != m.Width || b.Dy() != m.Height {
		return nil, NewShapeMismatchError("image", b.Dx(), b.Dy(), m.Width, m.Height)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))

	err := utils.ParallelRange(ctx, m.Height, func(y0, y1 int) {
		for v := y0; v < y1; v++ {
			row := dst.Pix[v*dst.Stride:]
			for u := 0; u < m.Width; u++ {
				idx := v*m.Width + u
				sampleBilinear(src, float64(m.X[idx]), float64(m.Y[idx]), row[u*4:u*4+4])
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return dst, nil
}

// Rectify remaps a raw stereo pair. Both images must have the size of their maps.
func Rectify(ctx context.Context, left, right *image.NRGBA, leftMap, rightMap *RectifyMap) (*image.NRGBA, *image.NRGBA, error) {
	rectLeft, err := Remap(ctx, left, leftMap)
	if err != nil {
		return nil, nil, errors.Wrap(err, "left")
	}
	rectRight, err := Remap(ctx, right, rightMap)
	if err != nil {
		return nil, nil, errors.Wrap(err, "right")
	}
	return rectLeft, rectRight, nil
}

// sampleBilinear writes the interpolated color of src at (x, y) to out.
func sampleBilinear(src *image.NRGBA, x, y float64, out []uint8) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if math.IsNaN(x) || math.IsNaN(y) || x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		out[0], out[1], out[2], out[3] = 0, 0, 0, 0xff
		return
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 >= w {
		x1 = w - 1
	}
	if y1 >= h {
		y1 = h - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)

	p00 := src.Pix[src.PixOffset(b.Min.X+x0, b.Min.Y+y0):]
	p01 := src.Pix[src.PixOffset(b.Min.X+x1, b.Min.Y+y0):]
	p10 := src.Pix[src.PixOffset(b.Min.X+x0, b.Min.Y+y1):]
	p11 := src.Pix[src.PixOffset(b.Min.X+x1, b.Min.Y+y1):]
	for c := 0; c < 4; c++ {
		top := float64(p00[c])*(1-fx) + float64(p01[c])*fx
		bottom := float64(p10[c])*(1-fx) + float64(p11[c])*fx
		out[c] = uint8(top*(1-fy) + bottom*fy + 0.5)
	}
}
