package seat

import (
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/output"
	"deedles.dev/booth/scene"
	"github.com/sirupsen/logrus"
)

type cursorImage struct {
	surface scene.SurfaceID
	hidden  bool
}

// PointerMotion moves the pointer by a relative amount.
func (r *Router) PointerMotion(t time.Time, delta geom.Point[float64]) {
	r.warp(t, r.Seat.pointerPos.Add(delta))
}

// PointerMotionAbsolute moves the pointer to a point given in the unit
// square of the named output, or of the primary output if the name is
// empty.
func (r *Router) PointerMotionAbsolute(t time.Time, outName string, p geom.Point[float64]) {
	out := r.outputFor(outName)
	if out == nil {
		return
	}
	r.warp(t, geom.PConv[float64](out.Bounds().Min).Add(denormalize(out, p)))
}

func (r *Router) warp(t time.Time, pos geom.Point[float64]) {
	if r.suspended {
		return
	}
	bounds := r.Outputs.Bounds()
	if bounds.Empty() {
		return
	}

	r.touchMode = false
	r.Seat.pointerPos = pos.Clamp(geom.RConv[float64](bounds))
	r.updatePointer(t, true)
}

// updatePointer hit-tests the pointer position and updates the
// pointer focus and cursor. If motion is true, the focused client is
// sent the new position. It reports whether any events were sent.
func (r *Router) updatePointer(t time.Time, motion bool) bool {
	out, local := r.locate(r.Seat.pointerPos)
	if out == nil {
		changed := r.setPointerFocus(scene.SurfaceID{}, geom.Point[float64]{})
		r.Scene.HideCursor()
		return changed
	}

	target, surfaceLocal := r.pointerTarget(out.ID, local)
	changed := r.setPointerFocus(target, surfaceLocal)
	r.updateCursor()

	if (motion || changed) && target.Valid() {
		if rcv, ok := r.receiver(target); ok {
			rcv.PointerMotion(t, surfaceLocal)
			return true
		}
	}
	return changed
}

// pointerTarget returns the surface that should have pointer focus.
// While a button is held, the focused surface keeps it.
func (r *Router) pointerTarget(out output.ID, local geom.Point[float64]) (scene.SurfaceID, geom.Point[float64]) {
	if len(r.Seat.buttons) > 0 {
		if s := r.Scene.Get(r.Seat.pointer); s != nil && s.Mapped() {
			return s.ID(), r.surfaceLocal(s, r.Seat.pointerPos)
		}
	}

	id, p, ok := r.Scene.SurfaceAt(out, local)
	if !ok {
		return scene.SurfaceID{}, geom.Point[float64]{}
	}
	return id, p
}

// setPointerFocus moves pointer focus, sending leave and enter
// events. It reports whether the focus changed.
func (r *Router) setPointerFocus(target scene.SurfaceID, p geom.Point[float64]) bool {
	old := r.Seat.pointer
	if old == target {
		return false
	}

	r.Seat.pointer = target
	r.cursor = cursorImage{}
	serial := r.Seat.NextSerial()

	if rcv, ok := r.receiver(old); ok {
		rcv.PointerLeave(serial, old)
		rcv.PointerFrame()
	}
	if rcv, ok := r.receiver(target); ok {
		rcv.PointerEnter(serial, target, p)
	}

	logrus.WithFields(logrus.Fields{
		"old": old,
		"new": target,
	}).Debugln("pointer focus changed")
	return true
}

// PointerButton presses or releases a button.
func (r *Router) PointerButton(t time.Time, button uint32, pressed bool) {
	if r.suspended || !r.Seat.setButton(button, pressed) {
		return
	}

	focus := r.Seat.pointer
	if pressed {
		r.activate(focus)
	}
	if rcv, ok := r.receiver(focus); ok {
		rcv.PointerButton(r.Seat.NextSerial(), t, button, pressed)
	}

	if !pressed && len(r.Seat.buttons) == 0 {
		r.updatePointer(t, false)
	}
}

// PointerAxis scrolls.
func (r *Router) PointerAxis(t time.Time, axis Axis, value float64, discrete int32, source AxisSource) {
	if r.suspended {
		return
	}
	if rcv, ok := r.receiver(r.Seat.pointer); ok {
		rcv.PointerAxis(t, axis, value, discrete, source)
	}
}

// PointerFrame ends a group of pointer events that belong together.
func (r *Router) PointerFrame() {
	if r.suspended {
		return
	}
	if rcv, ok := r.receiver(r.Seat.pointer); ok {
		rcv.PointerFrame()
	}
}

// SetCursorImage is a client's request to use surface as its pointer
// image, or to hide the pointer if surface is zero. Only the client
// that has pointer focus may set it. The surface must already have
// the cursor role.
func (r *Router) SetCursorImage(owner any, surface scene.SurfaceID) bool {
	focus := r.Scene.Get(r.Seat.pointer)
	if focus == nil || focus.Owner != owner {
		return false
	}

	r.cursor = cursorImage{
		surface: surface,
		hidden:  !surface.Valid(),
	}
	r.updateCursor()
	return true
}

func (r *Router) updateCursor() {
	if r.HideCursor || r.touchMode || r.suspended || r.cursor.hidden || r.Seat.caps&CapPointer == 0 {
		r.Scene.HideCursor()
		return
	}

	out, local := r.locate(r.Seat.pointerPos)
	if out == nil {
		r.Scene.HideCursor()
		return
	}
	r.Scene.SetCursor(out.ID, geom.Floor(local), r.cursor.surface)
}
