package render

import (
	"image"
	"image/color"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/fimg"
	"deedles.dev/booth/output"
	"deedles.dev/booth/scene"
	"golang.org/x/image/draw"
)

// Renderer composites scenes in software. It keeps a copy of every
// client buffer that it has drawn so that buffers can be released to
// their clients as soon as the frame that read them is presented.
type Renderer struct {
	Background color.Color

	textures map[scene.SurfaceID]*image.RGBA
	cursor   *image.RGBA
}

func NewRenderer(bg color.Color) *Renderer {
	if bg == nil {
		bg = color.Black
	}

	return &Renderer{
		Background: bg,
		textures:   make(map[scene.SurfaceID]*image.RGBA),
		cursor:     defaultCursor(scene.DefaultCursorSize),
	}
}

// Forget drops the copy of a destroyed surface's content.
func (r *Renderer) Forget(id scene.SurfaceID) {
	delete(r.textures, id)
}

// Textures returns the number of surfaces whose content is held.
func (r *Renderer) Textures() int {
	return len(r.textures)
}

// Draw composites a frame into the output's render target. Only the
// frame's damage is repainted.
func (r *Renderer) Draw(sc *scene.Scene, out *output.Output, f *scene.Frame) {
	for _, id := range f.Order {
		buf, ok := sc.TakeBuffer(f, id)
		if !ok {
			continue
		}
		r.upload(id, buf, sc.Get(id).Transform())
	}

	target := out.Target
	bg := image.NewUniform(r.Background)
	damage := f.Damage.Rects()
	for _, rect := range damage {
		draw.Draw(target, rect.ImageRect(), bg, image.Point{}, draw.Src)
	}

	for _, id := range f.Order {
		s := sc.Get(id)
		tex := r.textures[id]
		if s == nil || tex == nil {
			continue
		}

		dst := geom.Sized(s.Position(), s.Size())
		clip := s.Bounds()
		if s.Role() == scene.RoleCursor {
			pos, _, _ := sc.Cursor(out.ID)
			dst = geom.Sized(pos, s.Size())
			clip = dst
		}
		r.composite(target, tex, dst, clip, damage)
	}

	if pos, surface, visible := sc.Cursor(out.ID); visible && !surface.Valid() {
		dst := geom.Sized(pos, geom.FromImageRect(r.cursor.Bounds()).Size())
		r.composite(target, r.cursor, dst, dst, damage)
	}
}

// composite draws src scaled to dst, restricted to clip and the
// damaged rectangles.
func (r *Renderer) composite(target *image.RGBA, src *image.RGBA, dst, clip geom.Rect[int], damage []geom.Rect[int]) {
	scaled := src.Rect.Size() != dst.Size().ImagePoint()
	for _, d := range damage {
		area := d.Intersect(clip).Intersect(dst)
		if area.Empty() {
			continue
		}

		sub := target.SubImage(area.ImageRect()).(*image.RGBA)
		if scaled {
			draw.ApproxBiLinear.Scale(sub, dst.ImageRect(), src, src.Rect, draw.Over, nil)
			continue
		}
		sp := src.Rect.Min.Add(area.Min.Sub(dst.Min).ImagePoint())
		draw.Draw(sub, area.ImageRect(), src, sp, draw.Over)
	}
}

// upload copies a client buffer, undoing its transform.
func (r *Renderer) upload(id scene.SurfaceID, buf scene.Buffer, t geom.Transform) {
	src := buf.Image()
	bufSize := geom.FromImageRect(src.Bounds()).Size()
	size := t.Size(bufSize)

	tex := r.textures[id]
	if tex == nil || tex.Rect.Size() != size.ImagePoint() {
		tex = image.NewRGBA(image.Rectangle{Max: size.ImagePoint()})
		r.textures[id] = tex
	}

	if t == geom.TransformNormal {
		if src, ok := src.(*fimg.BGRA); ok && src.Rect.Min == (image.Point{}) {
			fimg.Import(tex, src, src.Rect)
			return
		}
		draw.Draw(tex, tex.Rect, src, src.Bounds().Min, draw.Src)
		return
	}

	origin := src.Bounds().Min
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			p := t.Apply(geom.Pt(x, y), size)
			tex.Set(x, y, src.At(origin.X+p.X, origin.Y+p.Y))
		}
	}
}
