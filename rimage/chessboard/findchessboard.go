package chessboard

import (
	"context"
	"image"
	"image/color"
	"sort"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/stereo/rimage"
)

// DetectionConfiguration stores the parameters necessary for chessboard detection in an image.
type DetectionConfiguration struct {
	// Cols and Rows count inner corners, not squares.
	Cols   int                 `json:"cols"`
	Rows   int                 `json:"rows"`
	Saddle SaddleConfiguration `json:"saddle"`
}

// Grid is the result of a detection. Corners are ordered row by row, left to right, when Found.
type Grid struct {
	Cols    int
	Rows    int
	Corners []r2.Point
	Found   bool
}

// Detector finds a chessboard of a fixed pattern size.
type Detector struct {
	cfg DetectionConfiguration
}

// NewDetector returns a detector for a board with cols x rows inner corners.
func NewDetector(cols, rows int) (*Detector, error) {
	return NewDetectorWithConfig(DetectionConfiguration{Cols: cols, Rows: rows, Saddle: DefaultSaddleConf})
}

// NewDetectorWithConfig returns a detector with explicit saddle parameters.
func NewDetectorWithConfig(cfg DetectionConfiguration) (*Detector, error) {
	if cfg.Cols < 2 || cfg.Rows < 2 {
		return nil, errors.Errorf("chessboard needs at least 2x2 inner corners, got %dx%d", cfg.Cols, cfg.Rows)
	}
	return &Detector{cfg: cfg}, nil
}

// FindChessboard looks for the board in img. The strongest cols x rows saddle points must form a
// level grid of evenly spaced corners. Otherwise the strongest candidates are returned with Found
// unset.
func (d *Detector) FindChessboard(ctx context.Context, img image.Image) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lum := LuminanceMatrix(rimage.ToGray(img))
	_, saddles := GetSaddleMapPoints(lum, &d.cfg.Saddle)

	want := d.cfg.Cols * d.cfg.Rows
	grid := &Grid{Cols: d.cfg.Cols, Rows: d.cfg.Rows}
	if len(saddles) > want {
		saddles = saddles[:want]
	}
	for _, s := range saddles {
		grid.Corners = append(grid.Corners, s.Point)
	}
	if len(saddles) < want {
		return grid, nil
	}
	ordered := make([]r2.Point, len(grid.Corners))
	copy(ordered, grid.Corners)
	orderCorners(ordered, d.cfg.Cols)
	if !isRegularGrid(ordered, d.cfg.Cols, d.cfg.Rows) {
		return grid, nil
	}
	grid.Corners = ordered
	grid.Found = true
	return grid, nil
}

// orderCorners sorts corners row by row. Rows are formed from the corners sorted by y.
func orderCorners(corners []r2.Point, cols int) {
	sort.SliceStable(corners, func(i, j int) bool { return corners[i].Y < corners[j].Y })
	for start := 0; start+cols <= len(corners); start += cols {
		row := corners[start : start+cols]
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
	}
}

var (
	foundColor    = color.NRGBA{0, 255, 0, 255}
	notFoundColor = color.NRGBA{255, 0, 0, 255}
)

// DrawGrid returns a copy of img with the detected corners drawn. A found board is drawn with its
// corners joined row by row.
func DrawGrid(img image.Image, grid *Grid) *image.NRGBA {
	dc := gg.NewContextForImage(img)
	radius := float64(img.Bounds().Dy()) / 120
	if radius < 2 {
		radius = 2
	}
	c := notFoundColor
	if grid.Found {
		c = foundColor
		dc.SetColor(c)
		dc.SetLineWidth(radius / 2)
		for i := 1; i < len(grid.Corners); i++ {
			p0, p1 := grid.Corners[i-1], grid.Corners[i]
			dc.DrawLine(p0.X, p0.Y, p1.X, p1.Y)
			dc.Stroke()
		}
	}
	dc.SetColor(c)
	for _, p := range grid.Corners {
		dc.DrawCircle(p.X, p.Y, radius)
		dc.Stroke()
	}
	return rimage.ToNRGBA(dc.Image())
}

// Annotate finds the board and draws the result. It is the overlay used by capture previews.
func (d *Detector) Annotate(ctx context.Context, img image.Image) (*image.NRGBA, bool, error) {
	grid, err := d.FindChessboard(ctx, img)
	if err != nil {
		return nil, false, err
	}
	return DrawGrid(img, grid), grid.Found, nil
}
