package backend

import (
	"image"

	"deedles.dev/booth/geom"
	"deedles.dev/ximage"
	"golang.org/x/image/draw"
)

// scanout wraps memory laid out as 32 bit little-endian xRGB or ARGB
// pixels, which is what both a host compositor's shm buffers and a
// DRM dumb buffer hold. The image is as wide as the stride allows, so
// padding at the end of each row is addressable but never shown.
func scanout(pix []byte, stride, height int) *ximage.FormatImage {
	return &ximage.FormatImage{
		Format: ximage.ARGB8888,
		Rect:   image.Rect(0, 0, stride/4, height),
		Pix:    pix,
	}
}

// blit copies rects of src into dst, mapping each pixel through t.
// Rects are in the coordinates of src.
func blit(dst draw.Image, src *image.RGBA, rects []geom.Rect[int], t geom.Transform) {
	size := geom.FromImageRect(src.Rect).Size()
	for _, r := range rects {
		r = r.Intersect(geom.FromImageRect(src.Rect))
		if r.Empty() {
			continue
		}

		if t == geom.TransformNormal {
			draw.Draw(dst, r.ImageRect(), src, r.Min.ImagePoint(), draw.Src)
			continue
		}

		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				p := t.Apply(geom.Pt(x, y), size)
				dst.Set(p.X, p.Y, src.RGBAAt(x, y))
			}
		}
	}
}

// transformRect maps a rect in an image of the given size through t.
func transformRect(r geom.Rect[int], t geom.Transform, size geom.Point[int]) geom.Rect[int] {
	if r.Empty() || t == geom.TransformNormal {
		return r
	}
	a := t.Apply(r.Min, size)
	b := t.Apply(r.Max.Sub(geom.Pt(1, 1)), size)
	r = geom.Rt(a.X, a.Y, b.X, b.Y)
	r.Max = r.Max.Add(geom.Pt(1, 1))
	return r
}

// swapDamage tracks what has to be redrawn into each of a set of
// buffers that are presented in turn. A buffer that was not drawn to
// in a frame misses that frame's damage and must catch up the next
// time that it is used.
type swapDamage struct {
	stale [][]geom.Rect[int]
	full  []bool
}

func newSwapDamage(n int) *swapDamage {
	d := swapDamage{
		stale: make([][]geom.Rect[int], n),
		full:  make([]bool, n),
	}
	d.reset()
	return &d
}

// reset marks every buffer as needing a full redraw.
func (d *swapDamage) reset() {
	for i := range d.full {
		d.full[i] = true
		d.stale[i] = nil
	}
}

// use returns the rects to draw into buffer i for a frame with the
// given damage, or nil and true if the whole buffer must be drawn.
func (d *swapDamage) use(i int, damage []geom.Rect[int]) (rects []geom.Rect[int], full bool) {
	for j := range d.stale {
		switch {
		case j == i:
		case damage == nil:
			d.full[j] = true
		default:
			d.stale[j] = append(d.stale[j], damage...)
		}
	}

	full = d.full[i] || damage == nil
	rects = append(d.stale[i], damage...)
	d.full[i] = false
	d.stale[i] = nil
	if full {
		return nil, true
	}
	return rects, false
}
