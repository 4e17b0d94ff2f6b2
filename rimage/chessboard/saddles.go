// Package chessboard finds the inner corners of a calibration chessboard. Corners are the saddle
// points of the image intensity: points where the determinant of the Hessian is strongly negative.
package chessboard

import (
	"image"
	"sort"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// SaddleConfiguration stores the parameters to process the Hessian determinant image into a relevant saddle points map.
type SaddleConfiguration struct {
	GrayThreshold     float64 `json:"gray"`      // initial threshold for pruning saddle points in saddle map
	ScoreThresholdMin float64 `json:"score-min"` // pruning stops once at most this many points remain
	ScoreThresholdMax float64 `json:"score-max"` // saddle score above which non suppressed points are saddle points
	NMSWindowSize     int     `json:"win-size"`  // window size for non-maximum suppression
}

// DefaultSaddleConf stores the default parameters for saddle detection.
var DefaultSaddleConf = SaddleConfiguration{
	GrayThreshold:     128.,
	ScoreThresholdMin: 10000.,
	ScoreThresholdMax: 100000.,
	NMSWindowSize:     5,
}

var (
	sobelX = [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

// Saddle is a saddle point and its score.
type Saddle struct {
	Point r2.Point
	Score float64
}

// LuminanceMatrix returns the gray levels of img as a rows x cols matrix.
func LuminanceMatrix(img *image.Gray) *mat.Dense {
	b := img.Bounds()
	out := mat.NewDense(b.Dy(), b.Dx(), nil)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(y, x, float64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
		}
	}
	return out
}

// convolve3 convolves img with a 3x3 kernel, replicating the border pixels.
func convolve3(img *mat.Dense, k *[3][3]float64) *mat.Dense {
	rows, cols := img.Dims()
	out := mat.NewDense(rows, cols, nil)
	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var sum float64
			for ki := -1; ki <= 1; ki++ {
				for kj := -1; kj <= 1; kj++ {
					sum += k[ki+1][kj+1] * img.At(clamp(i+ki, rows-1), clamp(j+kj, cols-1))
				}
			}
			out.Set(i, j, sum)
		}
	}
	return out
}

// computePixelWiseHessianDeterminant returns the determinant of the Hessian at every pixel.
// Its sign and magnitude give the location of saddle points.
func computePixelWiseHessianDeterminant(img *mat.Dense) *mat.Dense {
	nRows, nCols := img.Dims()
	gX := convolve3(img, &sobelX)
	gY := convolve3(img, &sobelY)
	gXX := convolve3(gX, &sobelX)
	gYY := convolve3(gY, &sobelY)
	gXY := convolve3(gX, &sobelY)
	m1 := mat.NewDense(nRows, nCols, nil)
	m2 := mat.NewDense(nRows, nCols, nil)
	out := mat.NewDense(nRows, nCols, nil)
	m1.MulElem(gXX, gYY)
	m2.MulElem(gXY, gXY)
	out.Sub(m1, m2)
	return out
}

// sumPositive counts strictly positive elements when used with Apply.
func sumPositive(i, j int, val float64) float64 {
	if val > 0 {
		return 1.
	}
	return 0.
}

// PruneSaddle raises the threshold of the saddle map until at most ScoreThresholdMin points remain.
func PruneSaddle(s mat.Matrix, cfg *SaddleConfiguration) *mat.Dense {
	thresh := cfg.GrayThreshold
	r, c := s.Dims()
	scores := mat.NewDense(r, c, nil)
	pruned := mat.DenseCopyOf(s)
	scores.Apply(sumPositive, pruned)
	for mat.Sum(scores) > cfg.ScoreThresholdMin {
		thresh *= 2
		pruned.Apply(func(r, c int, v float64) float64 {
			if v < thresh {
				return 0.
			}
			return v
		}, pruned)
		scores.Apply(sumPositive, pruned)
	}
	return pruned
}

// NonMaxSuppression keeps the points that are the maximum of their (2*winSize+1) window.
func NonMaxSuppression(img *mat.Dense, winSize int) *mat.Dense {
	h, w := img.Dims()
	imgSup := mat.NewDense(h, w, nil)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			v := img.At(i, j)
			if v == 0 {
				continue
			}
			ta, tb := max(0, i-winSize), min(h, i+winSize+1)
			tc, td := max(0, j-winSize), min(w, j+winSize+1)
			isMax := true
			for ii := ta; ii < tb && isMax; ii++ {
				for jj := tc; jj < td; jj++ {
					o := img.At(ii, jj)
					// Ties go to the first pixel in row major order.
					if o > v || (o == v && (ii < i || (ii == i && jj < j))) {
						isMax = false
						break
					}
				}
			}
			if isMax {
				imgSup.Set(i, j, v)
			}
		}
	}
	return imgSup
}

// GetSaddleMapPoints returns the pruned saddle map and the saddle points sorted by decreasing score.
func GetSaddleMapPoints(img *mat.Dense, conf *SaddleConfiguration) (*mat.Dense, []Saddle) {
	nRows, nCols := img.Dims()
	hessian := computePixelWiseHessianDeterminant(img)
	// saddle points are points where the determinant of the Hessian is < 0
	hessian.Scale(-1.0, hessian)
	saddleMap := mat.NewDense(nRows, nCols, nil)
	saddleMap.Apply(func(r, c int, v float64) float64 {
		if v < 0 {
			return 0.
		}
		return v
	}, hessian)
	saddleMap = PruneSaddle(saddleMap, conf)
	nms := NonMaxSuppression(saddleMap, conf.NMSWindowSize)

	var saddles []Saddle
	for y := 0; y < nRows; y++ {
		for x := 0; x < nCols; x++ {
			if v := nms.At(y, x); v >= conf.ScoreThresholdMax {
				saddles = append(saddles, Saddle{Point: r2.Point{X: float64(x), Y: float64(y)}, Score: v})
			}
		}
	}
	sort.SliceStable(saddles, func(i, j int) bool { return saddles[i].Score > saddles[j].Score })
	return saddleMap, saddles
}
