package pointcloud

import (
	"image/color"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// WriteLASFile writes the valid points of the cloud to a LAS file. LAS has no notion of an
// organized cloud, so pixels without a reconstruction are dropped.
func WriteLASFile(path string, cloud *Organized) (err error) {
	lf, err := lidario.NewLasFile(path, "w")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	hasColor := cloud.MetaData().HasColor
	pointFormatID := 0
	if hasColor {
		pointFormatID = 2
	}
	if err := lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return err
	}

	for i, p := range cloud.Points {
		if !IsValid(p) {
			continue
		}
		pr0 := &lidario.PointRecord0{
			X: p.X,
			Y: p.Y,
			Z: p.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3),
			},
			PointSourceID: 1,
		}
		var lp lidario.LasPointer = pr0
		if hasColor {
			c := cloud.Colors[i]
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(c.R) * 256,
					Green: uint16(c.G) * 256,
					Blue:  uint16(c.B) * 256,
				},
			}
		}
		if err := lf.AddLasPoint(lp); err != nil {
			return errors.Wrapf(err, "cannot add point %d", i)
		}
	}
	return nil
}

// ReadLASFile reads a LAS file into a cloud with a single row holding every point.
func ReadLASFile(path string) (cloud *Organized, err error) {
	lf, err := lidario.NewLasFile(path, "r")
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	n := lf.Header.NumberPoints
	pc := &Organized{Width: n, Height: 1, Points: make([]r3.Vector, n)}
	hasColor := lf.Header.PointFormatID == 2
	if hasColor {
		pc.Colors = make([]color.NRGBA, n)
	}
	for i := 0; i < n; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read point %d", i)
		}
		data := p.PointData()
		pc.Points[i] = r3.Vector{X: data.X, Y: data.Y, Z: data.Z}
		if hasColor && p.RgbData() != nil {
			rgb := p.RgbData()
			pc.Colors[i] = color.NRGBA{uint8(rgb.Red / 256), uint8(rgb.Green / 256), uint8(rgb.Blue / 256), 255}
		}
	}
	return pc, nil
}
