package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

// Label returns a copy of img with text drawn in its top left corner on a dark band.
func Label(img image.Image, text string) *image.NRGBA {
	dc := gg.NewContextForImage(img)
	size := float64(img.Bounds().Dy()) / 24
	if size < 10 {
		size = 10
	}
	dc.SetColor(color.NRGBA{0, 0, 0, 160})
	dc.DrawRectangle(0, 0, float64(dc.Width()), size*1.6)
	dc.Fill()
	DrawString(dc, text, image.Pt(int(size/2), int(size/4)), color.White, size)
	return ToNRGBA(dc.Image())
}

// HConcat places the images side by side, top aligned, on a black canvas.
func HConcat(images ...image.Image) *image.NRGBA {
	width, height := 0, 0
	for _, img := range images {
		width += img.Bounds().Dx()
		if img.Bounds().Dy() > height {
			height = img.Bounds().Dy()
		}
	}
	out := imaging.New(width, height, color.Black)
	x := 0
	for _, img := range images {
		out = imaging.Paste(out, img, image.Pt(x, 0))
		x += img.Bounds().Dx()
	}
	return out
}

// Fit scales img down so that it fits in maxWidth x maxHeight, keeping its aspect ratio.
// Smaller images are returned unchanged.
func Fit(img image.Image, maxWidth, maxHeight int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() <= maxWidth && b.Dy() <= maxHeight {
		return ToNRGBA(img)
	}
	return imaging.Fit(img, maxWidth, maxHeight, imaging.Linear)
}
