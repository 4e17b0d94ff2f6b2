package chessboard

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/camera/fake"
)

// renderBoard draws a board of squaresX x squaresY squares of the given size, surrounded by a white
// margin.
func renderBoard(squaresX, squaresY, square, margin int) *image.Gray {
	w := squaresX*square + 2*margin
	h := squaresY*square + 2*margin
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255)
			bx, by := x-margin, y-margin
			if bx >= 0 && by >= 0 && bx < squaresX*square && by < squaresY*square && (bx/square+by/square)%2 == 0 {
				v = 0
			}
			img.SetGray(x, y, color.Gray{v})
		}
	}
	return img
}

func TestNonMaxSuppression(t *testing.T) {
	m := mat.NewDense(20, 20, nil)
	m.Set(5, 5, 40)
	m.Set(6, 6, 30)
	m.Set(15, 15, 20)

	nms := NonMaxSuppression(m, 3)
	test.That(t, nms.At(5, 5), test.ShouldEqual, 40.)
	test.That(t, nms.At(6, 6), test.ShouldEqual, 0.)
	test.That(t, nms.At(15, 15), test.ShouldEqual, 20.)
}

func TestFindChessboard(t *testing.T) {
	const square, margin = 16, 20
	img := renderBoard(5, 4, square, margin)
	d, err := NewDetector(4, 3)
	test.That(t, err, test.ShouldBeNil)

	grid, err := d.FindChessboard(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid.Found, test.ShouldBeTrue)
	test.That(t, len(grid.Corners), test.ShouldEqual, 12)
	for i, p := range grid.Corners {
		wantX := float64(margin + (i%4+1)*square)
		wantY := float64(margin + (i/4+1)*square)
		test.That(t, math.Abs(p.X-wantX), test.ShouldBeLessThanOrEqualTo, 2)
		test.That(t, math.Abs(p.Y-wantY), test.ShouldBeLessThanOrEqualTo, 2)
	}

	overlay, found, err := d.Annotate(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, overlay.Bounds(), test.ShouldResemble, img.Bounds())
}

func TestFindChessboardMissing(t *testing.T) {
	blank := image.NewGray(image.Rect(0, 0, 64, 48))
	d, err := NewDetector(4, 3)
	test.That(t, err, test.ShouldBeNil)
	grid, err := d.FindChessboard(context.Background(), blank)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid.Found, test.ShouldBeFalse)
	test.That(t, DrawGrid(blank, grid).Bounds(), test.ShouldResemble, blank.Bounds())

	_, err = NewDetector(1, 3)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFindChessboardRejectsTexture(t *testing.T) {
	texture := fake.Render(1, 3, 0, 640, 480)
	d, err := NewDetector(8, 11)
	test.That(t, err, test.ShouldBeNil)
	grid, err := d.FindChessboard(context.Background(), texture)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid.Found, test.ShouldBeFalse)

	_, found, err := d.Annotate(context.Background(), texture)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, found, test.ShouldBeFalse)
}

func TestIsRegularGrid(t *testing.T) {
	lattice := func(cols, rows int, step float64) []r2.Point {
		var pts []r2.Point
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				pts = append(pts, r2.Point{X: 10 + float64(c)*step, Y: 10 + float64(r)*step})
			}
		}
		return pts
	}
	test.That(t, isRegularGrid(lattice(4, 3, 16), 4, 3), test.ShouldBeTrue)
	test.That(t, isRegularGrid(lattice(4, 3, 16), 3, 4), test.ShouldBeFalse)

	jittered := lattice(4, 3, 16)
	jittered[5].X += 1
	jittered[6].Y -= 1
	test.That(t, isRegularGrid(jittered, 4, 3), test.ShouldBeTrue)

	gap := lattice(4, 3, 16)
	gap[3].X += 20
	test.That(t, isRegularGrid(gap, 4, 3), test.ShouldBeFalse)

	bent := lattice(4, 3, 16)
	bent[5].Y += 6
	test.That(t, isRegularGrid(bent, 4, 3), test.ShouldBeFalse)

	stacked := lattice(4, 3, 16)
	stacked[2].Y = stacked[6].Y + 1
	test.That(t, isRegularGrid(stacked, 4, 3), test.ShouldBeFalse)
}
