// Package stereo turns a rectified grayscale pair into a disparity map and reprojects disparities
// to metric 3D points.
package stereo

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// InvalidDisparity marks pixels for which no reliable match was found.
const InvalidDisparity float32 = -1

// DisparityMap holds one disparity per pixel of the left rectified image, in pixels, row major.
type DisparityMap struct {
	Width  int
	Height int
	Data   []float32
}

// NewDisparityMap returns a map with every pixel invalid.
func NewDisparityMap(width, height int) *DisparityMap {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = InvalidDisparity
	}
	return &DisparityMap{Width: width, Height: height, Data: data}
}

// At returns the disparity at (x, y).
func (dm *DisparityMap) At(x, y int) float32 {
	return dm.Data[y*dm.Width+x]
}

// Set sets the disparity at (x, y).
func (dm *DisparityMap) Set(x, y int, d float32) {
	dm.Data[y*dm.Width+x] = d
}

// IsValid returns whether d is a real disparity rather than the invalid marker.
func IsValid(d float32) bool {
	return d >= 0 && !math.IsNaN(float64(d)) && !math.IsInf(float64(d), 0)
}

// DisparityStats summarizes the valid pixels of a map.
type DisparityStats struct {
	Valid    int
	Total    int
	Min      float64
	Max      float64
	Median   float64
	Coverage float64
}

// Stats computes summary statistics over the valid pixels.
func (dm *DisparityMap) Stats() (DisparityStats, error) {
	valid := make(stats.Float64Data, 0, len(dm.Data))
	for _, d := range dm.Data {
		if IsValid(d) {
			valid = append(valid, float64(d))
		}
	}
	out := DisparityStats{Valid: len(valid), Total: len(dm.Data)}
	if len(valid) == 0 {
		return out, errors.New("disparity map has no valid pixels")
	}
	out.Coverage = float64(len(valid)) / float64(len(dm.Data))
	var err error
	if out.Min, err = valid.Min(); err != nil {
		return out, err
	}
	if out.Max, err = valid.Max(); err != nil {
		return out, err
	}
	if out.Median, err = valid.Median(); err != nil {
		return out, err
	}
	return out, nil
}
