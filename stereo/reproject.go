package stereo

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/pointcloud"
)

// Reproject turns every valid disparity into a 3D point with the 4x4 reprojection matrix q:
// [X Y Z W] = q * [x y d 1], point = (X/W, Y/W, Z/W) * scale. Invalid disparities and W == 0
// give NaN points. The result has the dimensions of dm.
func Reproject(dm *DisparityMap, q mat.Matrix, scale float64) (*pointcloud.Organized, error) {
	if q == nil {
		return nil, errors.New("missing reprojection matrix")
	}
	if r, c := q.Dims(); r != 4 || c != 4 {
		return nil, errors.Errorf("reprojection matrix is %dx%d, want 4x4", r, c)
	}
	if len(dm.Data) != dm.Width*dm.Height {
		return nil, errors.Errorf("disparity map has %d values, want %d", len(dm.Data), dm.Width*dm.Height)
	}
	var qv [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			qv[i][j] = q.At(i, j)
		}
	}

	pc := pointcloud.NewOrganized(dm.Width, dm.Height)
	for y := 0; y < dm.Height; y++ {
		fy := float64(y)
		for x := 0; x < dm.Width; x++ {
			d := dm.Data[y*dm.Width+x]
			if !IsValid(d) {
				continue
			}
			fx, fd := float64(x), float64(d)
			var v [4]float64
			for i := range v {
				v[i] = qv[i][0]*fx + qv[i][1]*fy + qv[i][2]*fd + qv[i][3]
			}
			if v[3] == 0 {
				continue
			}
			s := scale / v[3]
			pc.Points[y*dm.Width+x] = r3.Vector{X: v[0] * s, Y: v[1] * s, Z: v[2] * s}
		}
	}
	return pc, nil
}
