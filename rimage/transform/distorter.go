package transform

// Distorter maps undistorted normalized image coordinates to the distorted coordinates the lens
// actually produces.
type Distorter interface {
	Transform(x, y float64) (float64, float64)
}
