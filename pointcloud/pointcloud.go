// Package pointcloud defines an organized point cloud: one 3D point per pixel of the image it was
// reconstructed from, laid out row major. Pixels without a reconstruction hold NaN coordinates.
package pointcloud

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool
	Valid    int

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// Organized is a width x height grid of points.
type Organized struct {
	Width  int
	Height int
	Points []r3.Vector
	// Colors is either empty or holds one color per point.
	Colors []color.NRGBA
}

// NewOrganized returns a cloud with every point set to NaN.
func NewOrganized(width, height int) *Organized {
	points := make([]r3.Vector, width*height)
	for i := range points {
		points[i] = InvalidPoint()
	}
	return &Organized{Width: width, Height: height, Points: points}
}

// InvalidPoint is the value held by pixels that have no reconstruction.
func InvalidPoint() r3.Vector {
	nan := math.NaN()
	return r3.Vector{X: nan, Y: nan, Z: nan}
}

// IsValid returns whether p is a real point.
func IsValid(p r3.Vector) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}

// Dims returns the shape of the cloud as (width, height, 3), the three coordinates per pixel.
func (pc *Organized) Dims() (int, int, int) {
	return pc.Width, pc.Height, 3
}

// At returns the point reconstructed from pixel (x, y).
func (pc *Organized) At(x, y int) r3.Vector {
	return pc.Points[y*pc.Width+x]
}

// Set sets the point of pixel (x, y).
func (pc *Organized) Set(x, y int, p r3.Vector) {
	pc.Points[y*pc.Width+x] = p
}

// SetColors attaches per-point colors sampled from img, which must match the cloud's size.
func (pc *Organized) SetColors(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != pc.Width || b.Dy() != pc.Height {
		return errors.Errorf("color image is %dx%d but cloud is %dx%d", b.Dx(), b.Dy(), pc.Width, pc.Height)
	}
	colors := make([]color.NRGBA, pc.Width*pc.Height)
	for y := 0; y < pc.Height; y++ {
		for x := 0; x < pc.Width; x++ {
			//nolint:forcetypeassert
			colors[y*pc.Width+x] = color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
		}
	}
	pc.Colors = colors
	return nil
}

// MetaData computes the bounds of the valid points.
func (pc *Organized) MetaData() MetaData {
	md := MetaData{
		HasColor: len(pc.Colors) == len(pc.Points) && len(pc.Points) > 0,
		MinX:     math.MaxFloat64,
		MinY:     math.MaxFloat64,
		MinZ:     math.MaxFloat64,
		MaxX:     -math.MaxFloat64,
		MaxY:     -math.MaxFloat64,
		MaxZ:     -math.MaxFloat64,
	}
	for _, p := range pc.Points {
		if !IsValid(p) {
			continue
		}
		md.Valid++
		md.MinX = math.Min(md.MinX, p.X)
		md.MaxX = math.Max(md.MaxX, p.X)
		md.MinY = math.Min(md.MinY, p.Y)
		md.MaxY = math.Max(md.MaxY, p.Y)
		md.MinZ = math.Min(md.MinZ, p.Z)
		md.MaxZ = math.Max(md.MaxZ, p.Z)
	}
	return md
}

// Depths returns the Z coordinate of every point as float32, NaN where invalid.
func (pc *Organized) Depths() []float32 {
	out := make([]float32, len(pc.Points))
	for i, p := range pc.Points {
		if IsValid(p) {
			out[i] = float32(p.Z)
		} else {
			out[i] = float32(math.NaN())
		}
	}
	return out
}
