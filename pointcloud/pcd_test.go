package pointcloud

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func newTestCloud() *Organized {
	pc := NewOrganized(3, 2)
	pc.Set(0, 0, r3.Vector{X: -0.5, Y: 0.25, Z: 2})
	pc.Set(2, 1, r3.Vector{X: 1, Y: -1, Z: 4.5})
	return pc
}

func TestOrganized(t *testing.T) {
	pc := newTestCloud()
	w, h, c := pc.Dims()
	test.That(t, w, test.ShouldEqual, 3)
	test.That(t, h, test.ShouldEqual, 2)
	test.That(t, c, test.ShouldEqual, 3)
	test.That(t, IsValid(pc.At(1, 0)), test.ShouldBeFalse)
	test.That(t, pc.At(2, 1).Z, test.ShouldEqual, 4.5)

	md := pc.MetaData()
	test.That(t, md.Valid, test.ShouldEqual, 2)
	test.That(t, md.HasColor, test.ShouldBeFalse)
	test.That(t, md.MinZ, test.ShouldEqual, 2.)
	test.That(t, md.MaxX, test.ShouldEqual, 1.)

	depths := pc.Depths()
	test.That(t, depths[0], test.ShouldEqual, float32(2))
	test.That(t, math.IsNaN(float64(depths[1])), test.ShouldBeTrue)

	test.That(t, pc.SetColors(image.NewNRGBA(image.Rect(0, 0, 2, 2))), test.ShouldNotBeNil)
}

func TestPCDHeader(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, ToPCD(newTestCloud(), &buf, PCDAscii), test.ShouldBeNil)
	lines := strings.Split(buf.String(), "\n")
	test.That(t, lines[0], test.ShouldEqual, "VERSION .7")
	test.That(t, lines[1], test.ShouldEqual, "FIELDS x y z")
	test.That(t, lines[5], test.ShouldEqual, "WIDTH 3")
	test.That(t, lines[6], test.ShouldEqual, "HEIGHT 2")
	test.That(t, lines[8], test.ShouldEqual, "POINTS 6")
	test.That(t, lines[9], test.ShouldEqual, "DATA ascii")
	test.That(t, lines[10], test.ShouldEqual, "-0.500000 0.250000 2.000000")
	test.That(t, lines[11], test.ShouldEqual, "nan nan nan")
}

func TestPCDReadBack(t *testing.T) {
	for _, pcdType := range []PCDType{PCDAscii, PCDBinary, PCDCompressed} {
		t.Run(pcdType.String(), func(t *testing.T) {
			pc := newTestCloud()
			img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
			img.SetNRGBA(2, 1, color.NRGBA{10, 20, 30, 255})
			test.That(t, pc.SetColors(img), test.ShouldBeNil)

			path := filepath.Join(t.TempDir(), "cloud.pcd")
			test.That(t, WritePCDFile(path, pc, pcdType), test.ShouldBeNil)

			f, err := os.Open(path)
			test.That(t, err, test.ShouldBeNil)
			defer f.Close()
			got, err := ReadPCD(f)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got.Width, test.ShouldEqual, 3)
			test.That(t, got.Height, test.ShouldEqual, 2)
			test.That(t, got.At(0, 0).X, test.ShouldAlmostEqual, -0.5)
			test.That(t, got.At(2, 1).Z, test.ShouldAlmostEqual, 4.5)
			test.That(t, IsValid(got.At(1, 1)), test.ShouldBeFalse)
			test.That(t, got.Colors[5], test.ShouldResemble, color.NRGBA{10, 20, 30, 255})
		})
	}
}

func TestParsePCDType(t *testing.T) {
	typ, err := ParsePCDType("ascii")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, typ, test.ShouldEqual, PCDAscii)
	typ, err = ParsePCDType("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, typ, test.ShouldEqual, PCDBinary)
	typ, err = ParsePCDType("binary_compressed")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, typ, test.ShouldEqual, PCDCompressed)
	_, err = ParsePCDType("compressed")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPCDCompressed(t *testing.T) {
	// A mostly empty cloud is dominated by repeated NaNs, which lzf shrinks.
	pc := NewOrganized(64, 48)
	pc.Set(10, 20, r3.Vector{X: 1, Y: 2, Z: 3})
	var compressed, plain bytes.Buffer
	test.That(t, ToPCD(pc, &compressed, PCDCompressed), test.ShouldBeNil)
	test.That(t, ToPCD(pc, &plain, PCDBinary), test.ShouldBeNil)
	test.That(t, compressed.String(), test.ShouldContainSubstring, "DATA binary_compressed\n")
	test.That(t, compressed.Len(), test.ShouldBeLessThan, plain.Len()/4)

	got, err := ReadPCD(bytes.NewReader(compressed.Bytes()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.At(10, 20), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, got.MetaData().Valid, test.ShouldEqual, 1)

	truncated := compressed.Bytes()[:compressed.Len()-4]
	_, err = ReadPCD(bytes.NewReader(truncated))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLASReadBack(t *testing.T) {
	pc := newTestCloud()
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(0, 0, color.NRGBA{200, 100, 50, 255})
	img.SetNRGBA(2, 1, color.NRGBA{10, 20, 30, 255})
	test.That(t, pc.SetColors(img), test.ShouldBeNil)

	path := filepath.Join(t.TempDir(), "cloud.las")
	test.That(t, WriteLASFile(path, pc), test.ShouldBeNil)

	got, err := ReadLASFile(path)
	test.That(t, err, test.ShouldBeNil)
	// Only the two reconstructed pixels are written.
	test.That(t, got.Width, test.ShouldEqual, 2)
	test.That(t, got.Height, test.ShouldEqual, 1)
	test.That(t, got.Points[0].X, test.ShouldAlmostEqual, -0.5, 0.01)
	test.That(t, got.Points[0].Y, test.ShouldAlmostEqual, 0.25, 0.01)
	test.That(t, got.Points[1].Z, test.ShouldAlmostEqual, 4.5, 0.01)
	test.That(t, got.Colors[0], test.ShouldResemble, color.NRGBA{200, 100, 50, 255})
	test.That(t, got.Colors[1], test.ShouldResemble, color.NRGBA{10, 20, 30, 255})

	_, err = ReadLASFile(filepath.Join(t.TempDir(), "missing.las"))
	test.That(t, err, test.ShouldNotBeNil)
}
