package scene

import (
	"deedles.dev/booth/geom"
	"deedles.dev/booth/output"
)

// DefaultCursorSize is the size of the image drawn for the pointer
// when no client has set one. Its hotspot is its top-left corner.
var DefaultCursorSize = geom.Pt(16, 24)

type cursorState struct {
	visible bool
	pos     geom.Point[int]
	surface SurfaceID
	rect    geom.Rect[int]
}

// SetCursor shows the pointer at the output-local point pos on out,
// using the given cursor surface, or the default image if surface is
// zero. The cursor is hidden on every other output.
func (sc *Scene) SetCursor(out output.ID, pos geom.Point[int], surface SurfaceID) {
	for id, state := range sc.outputs {
		if id != out {
			sc.updateCursor(state, cursorState{})
			continue
		}
		sc.updateCursor(state, cursorState{
			visible: true,
			pos:     pos,
			surface: surface,
		})
	}
}

// HideCursor hides the pointer on every output.
func (sc *Scene) HideCursor() {
	for _, state := range sc.outputs {
		sc.updateCursor(state, cursorState{})
	}
}

// Cursor returns the pointer state of an output. If surface is zero
// and visible is true, the default image should be drawn.
func (sc *Scene) Cursor(out output.ID) (pos geom.Point[int], surface SurfaceID, visible bool) {
	state := sc.outputs[out]
	if state == nil {
		return pos, surface, false
	}
	c := state.cursor
	if s := sc.Get(c.surface); s != nil && s.mapped {
		return c.pos.Sub(s.hotspot), c.surface, c.visible
	}
	return c.pos, SurfaceID{}, c.visible
}

func (sc *Scene) updateCursor(state *outputState, c cursorState) {
	if !state.cursor.visible && !c.visible {
		return
	}
	c.rect = sc.cursorRect(c)
	if c == state.cursor {
		return
	}

	state.damage.Add(state.cursor.rect)
	state.cursor = c
	state.damage.Add(c.rect)
}

func (sc *Scene) cursorRect(c cursorState) geom.Rect[int] {
	if !c.visible {
		return geom.Rect[int]{}
	}
	if s := sc.Get(c.surface); s != nil && s.mapped {
		return geom.Sized(c.pos.Sub(s.hotspot), s.Size())
	}
	return geom.Sized(c.pos, DefaultCursorSize)
}

// damageCursor redraws the cursor on whichever output shows s.
func (sc *Scene) damageCursor(s *Surface) {
	for _, state := range sc.outputs {
		if state.cursor.surface != s.id {
			continue
		}
		state.damage.Add(state.cursor.rect)
		state.cursor.rect = sc.cursorRect(state.cursor)
		state.damage.Add(state.cursor.rect)
	}
}
