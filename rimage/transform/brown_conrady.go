package transform

import "github.com/pkg/errors"

// BrownConrady is the radial and tangential lens distortion model:
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConradyFromOpenCV takes distortion coefficients in OpenCV order: k1, k2, p1, p2, k3.
// Higher order coefficients must be zero since the thin prism and tilt terms are not modeled.
func NewBrownConradyFromOpenCV(coeffs []float64) (*BrownConrady, error) {
	padded := make([]float64, 5)
	copy(padded, coeffs)
	for i := 5; i < len(coeffs); i++ {
		if coeffs[i] != 0 {
			return nil, errors.Errorf("distortion coefficient %d (%g) is not supported", i, coeffs[i])
		}
	}
	return &BrownConrady{
		RadialK1:     padded[0],
		RadialK2:     padded[1],
		TangentialP1: padded[2],
		TangentialP2: padded[3],
		RadialK3:     padded[4],
	}, nil
}

// Transform distorts the normalized point (x, y).
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	radial := 1 + bc.RadialK1*r2 + bc.RadialK2*r2*r2 + bc.RadialK3*r2*r2*r2
	xd := x*radial + 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
	yd := y*radial + 2*bc.TangentialP2*x*y + bc.TangentialP1*(r2+2*y*y)
	return xd, yd
}
