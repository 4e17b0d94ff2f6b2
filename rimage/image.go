// Package rimage holds the image helpers shared by the capture and depth pipelines: conversion to
// the working formats, colorization of float fields, side-by-side composition, labels and the
// file formats frames can be written in.
package rimage

import (
	"image"

	"github.com/disintegration/imaging"
)

// ToNRGBA returns img in the working color format with its origin at (0, 0). Images already in
// that format are returned as is.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}

// ToGray returns the luminance of img as an 8-bit gray image with its origin at (0, 0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	lum := imaging.Grayscale(img)
	b := lum.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := lum.Pix[y*lum.Stride : y*lum.Stride+4*b.Dx()]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x := range dst {
			dst[x] = src[4*x]
		}
	}
	return out
}
