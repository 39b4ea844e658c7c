// Package fimg provides image types for the pixel formats that
// clients hand to the compositor in shared memory, along with fast
// paths for converting between them and image.RGBA.
package fimg

import (
	"image"
	"image/color"
)

// BGRA is a 32-bit little-endian image with bytes stored in blue,
// green, red, alpha order and premultiplied alpha. This is the
// ARGB8888 format of wl_shm. If Opaque is set, the alpha byte is
// ignored and every pixel is fully opaque, matching XRGB8888.
type BGRA struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
	Opaque bool
}

func NewBGRA(r image.Rectangle) *BGRA {
	return &BGRA{
		Pix:    make([]byte, 4*r.Dx()*r.Dy()),
		Stride: 4 * r.Dx(),
		Rect:   r,
	}
}

func (p *BGRA) PixOffset(x, y int) int {
	return ((y - p.Rect.Min.Y) * p.Stride) + (x-p.Rect.Min.X)*4
}

func (p *BGRA) Bounds() image.Rectangle {
	return p.Rect
}

func (p *BGRA) ColorModel() color.Model {
	return color.RGBAModel
}

func (p *BGRA) At(x, y int) color.Color {
	if !image.Pt(x, y).In(p.Rect) {
		return color.RGBA{}
	}

	i := p.PixOffset(x, y)
	a := p.Pix[i+3]
	if p.Opaque {
		a = 0xFF
	}
	return color.RGBA{p.Pix[i+2], p.Pix[i+1], p.Pix[i], a}
}

func (p *BGRA) Set(x, y int, c color.Color) {
	if !image.Pt(x, y).In(p.Rect) {
		return
	}

	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	i := p.PixOffset(x, y)
	p.Pix[i] = rgba.B
	p.Pix[i+1] = rgba.G
	p.Pix[i+2] = rgba.R
	p.Pix[i+3] = rgba.A
}

// Import copies the pixels of src inside r into dst at the same
// coordinates.
func Import(dst *image.RGBA, src *BGRA, r image.Rectangle) {
	r = r.Intersect(dst.Rect).Intersect(src.Rect)
	if r.Empty() {
		return
	}

	for y := r.Min.Y; y < r.Max.Y; y++ {
		si := src.PixOffset(r.Min.X, y)
		di := dst.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			dst.Pix[di+0] = src.Pix[si+2]
			dst.Pix[di+1] = src.Pix[si+1]
			dst.Pix[di+2] = src.Pix[si+0]
			if src.Opaque {
				dst.Pix[di+3] = 0xFF
			} else {
				dst.Pix[di+3] = src.Pix[si+3]
			}
			si += 4
			di += 4
		}
	}
}

// Export copies the pixels of src inside r into dst at the same
// coordinates, converting to dst's byte order.
func Export(dst *BGRA, src *image.RGBA, r image.Rectangle) {
	r = r.Intersect(dst.Rect).Intersect(src.Rect)
	if r.Empty() {
		return
	}

	for y := r.Min.Y; y < r.Max.Y; y++ {
		si := src.PixOffset(r.Min.X, y)
		di := dst.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			dst.Pix[di+0] = src.Pix[si+2]
			dst.Pix[di+1] = src.Pix[si+1]
			dst.Pix[di+2] = src.Pix[si+0]
			dst.Pix[di+3] = src.Pix[si+3]
			si += 4
			di += 4
		}
	}
}
