package rimage

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestToGray(t *testing.T) {
	img := image.NewNRGBA(image.Rect(2, 3, 6, 5))
	img.SetNRGBA(2, 3, color.NRGBA{255, 255, 255, 255})
	img.SetNRGBA(3, 3, color.NRGBA{0, 255, 0, 255})

	g := ToGray(img)
	test.That(t, g.Bounds(), test.ShouldResemble, image.Rect(0, 0, 4, 2))
	test.That(t, g.GrayAt(0, 0).Y, test.ShouldEqual, uint8(255))
	test.That(t, g.GrayAt(1, 0).Y, test.ShouldBeBetween, uint8(140), uint8(160))
	test.That(t, g.GrayAt(2, 1).Y, test.ShouldEqual, uint8(0))

	test.That(t, ToGray(g), test.ShouldEqual, g)
}

func TestColorize(t *testing.T) {
	nan := float32(math.NaN())
	values := []float32{1, 2, 3, nan, -1, 5}
	lo, hi, ok := MinMax(values)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, lo, test.ShouldEqual, float32(1))
	test.That(t, hi, test.ShouldEqual, float32(5))

	img, err := ColorizeAuto(values, 3, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.NRGBAAt(0, 1), test.ShouldResemble, color.NRGBA{0, 0, 0, 255})
	test.That(t, img.NRGBAAt(1, 1), test.ShouldResemble, color.NRGBA{0, 0, 0, 255})
	test.That(t, img.NRGBAAt(0, 0), test.ShouldResemble, hueRamp[0])
	test.That(t, img.NRGBAAt(2, 1), test.ShouldResemble, hueRamp[255])
	test.That(t, img.NRGBAAt(0, 0), test.ShouldNotResemble, img.NRGBAAt(2, 1))

	_, err = Colorize(values, 4, 2, 0, 1)
	test.That(t, err, test.ShouldNotBeNil)

	_, _, ok = MinMax([]float32{nan, -1})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestHConcat(t *testing.T) {
	left := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	right := image.NewNRGBA(image.Rect(0, 0, 5, 2))
	right.SetNRGBA(0, 0, color.NRGBA{9, 8, 7, 255})

	out := HConcat(left, right)
	test.That(t, out.Bounds(), test.ShouldResemble, image.Rect(0, 0, 9, 3))
	test.That(t, out.NRGBAAt(4, 0), test.ShouldResemble, color.NRGBA{9, 8, 7, 255})

	labeled := Label(out, "dual")
	test.That(t, labeled.Bounds(), test.ShouldResemble, out.Bounds())

	test.That(t, Fit(out, 100, 100).Bounds(), test.ShouldResemble, out.Bounds())
	test.That(t, Fit(out, 3, 3).Bounds().Dx(), test.ShouldEqual, 3)
}

func TestFormats(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	dir := t.TempDir()

	for _, f := range Formats {
		t.Run(string(f), func(t *testing.T) {
			parsed, err := ParseFormat(f.Extension())
			test.That(t, err, test.ShouldBeNil)
			test.That(t, parsed, test.ShouldEqual, f)

			path := filepath.Join(dir, "frame"+f.Extension())
			test.That(t, WriteFile(path, img, f), test.ShouldBeNil)
			got, err := ReadFile(path)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got.Bounds(), test.ShouldResemble, img.Bounds())
			if f != FormatJPEG {
				test.That(t, got.Pix, test.ShouldResemble, img.Pix)
			}
		})
	}

	_, err := ParseFormat("tiff")
	test.That(t, err, test.ShouldNotBeNil)
	f, err := ParseFormat("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldEqual, FormatPNG)
}
