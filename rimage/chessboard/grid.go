package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/montanaflynn/stats"
)

const (
	// spacingTolerance is the allowed relative deviation of a neighbour distance from the median
	// distance along the same axis.
	spacingTolerance = 0.4
	// straightnessTolerance is the allowed distance of a corner from the line through the first
	// and last corner of its row or column, relative to the median spacing.
	straightnessTolerance = 0.25
)

// isRegularGrid reports whether corners, ordered row by row, form rows x cols evenly spaced corners
// on straight rows and columns. Rows must not interleave vertically.
func isRegularGrid(corners []r2.Point, cols, rows int) bool {
	if len(corners) != cols*rows {
		return false
	}
	at := func(r, c int) r2.Point { return corners[r*cols+c] }

	for r := 0; r+1 < rows; r++ {
		maxY, minNextY := math.Inf(-1), math.Inf(1)
		for c := 0; c < cols; c++ {
			maxY = math.Max(maxY, at(r, c).Y)
			minNextY = math.Min(minNextY, at(r+1, c).Y)
		}
		if maxY >= minNextY {
			return false
		}
	}

	var horizontal, vertical stats.Float64Data
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c+1 < cols {
				horizontal = append(horizontal, at(r, c+1).Sub(at(r, c)).Norm())
			}
			if r+1 < rows {
				vertical = append(vertical, at(r+1, c).Sub(at(r, c)).Norm())
			}
		}
	}
	hStep, ok := evenSpacing(horizontal)
	if !ok {
		return false
	}
	vStep, ok := evenSpacing(vertical)
	if !ok {
		return false
	}

	line := make([]r2.Point, 0, cols)
	for r := 0; r < rows; r++ {
		line = line[:0]
		for c := 0; c < cols; c++ {
			line = append(line, at(r, c))
		}
		if !isStraight(line, straightnessTolerance*hStep) {
			return false
		}
	}
	for c := 0; c < cols; c++ {
		line = line[:0]
		for r := 0; r < rows; r++ {
			line = append(line, at(r, c))
		}
		if !isStraight(line, straightnessTolerance*vStep) {
			return false
		}
	}
	return true
}

// evenSpacing returns the median of distances and whether every distance is close to it.
func evenSpacing(distances stats.Float64Data) (float64, bool) {
	median, err := distances.Median()
	if err != nil || median < 1 {
		return 0, false
	}
	for _, d := range distances {
		if math.Abs(d-median) > spacingTolerance*median {
			return 0, false
		}
	}
	return median, true
}

// isStraight reports whether every point lies within maxDist of the line through the first and
// last point.
func isStraight(points []r2.Point, maxDist float64) bool {
	first, last := points[0], points[len(points)-1]
	dir := last.Sub(first)
	length := dir.Norm()
	if length == 0 {
		return false
	}
	for _, p := range points[1 : len(points)-1] {
		if math.Abs(dir.Cross(p.Sub(first)))/length > maxDist {
			return false
		}
	}
	return true
}
