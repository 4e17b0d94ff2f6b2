package rimage

import (
	"image"
	"io"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.uber.org/multierr"
)

// Format is an image file format frames can be written in.
type Format string

// The supported formats.
const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpg"
	FormatPPM  Format = "ppm"
	FormatQOI  Format = "qoi"
)

// Formats lists the supported formats.
var Formats = []Format{FormatPNG, FormatJPEG, FormatPPM, FormatQOI}

// ParseFormat parses a format name. The empty string is png.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "ppm":
		return FormatPPM, nil
	case "qoi":
		return FormatQOI, nil
	default:
		return "", errors.Errorf("unknown image format %q", s)
	}
}

// Extension returns the file extension, with the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// MimeType returns the MIME type of the format.
func (f Format) MimeType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatPPM:
		return "image/x-portable-pixmap"
	case FormatQOI:
		return "image/qoi"
	default:
		return "application/octet-stream"
	}
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	case FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(95))
	case FormatPPM:
		return ppm.Encode(w, img)
	case FormatQOI:
		return qoi.Encode(w, img)
	default:
		return errors.Errorf("unknown image format %q", f)
	}
}

// WriteFile writes img to path in the given format.
func WriteFile(path string, img image.Image, f Format) (err error) {
	//nolint:gosec
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, out.Close())
	}()
	return Encode(out, img, f)
}

// ReadFile decodes an image file of any supported format.
func ReadFile(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read image %q", path)
	}
	return ToNRGBA(img), nil
}
