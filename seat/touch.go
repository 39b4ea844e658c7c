package seat

import (
	"time"

	"deedles.dev/booth/geom"
	"golang.org/x/exp/slices"
)

// TouchDown starts a touch point at a point given in the unit square
// of the named output. The surface under it receives every event for
// that touch point until it is lifted.
func (r *Router) TouchDown(t time.Time, id int32, outName string, p geom.Point[float64]) {
	if r.suspended {
		return
	}
	out := r.outputFor(outName)
	if out == nil {
		return
	}
	if !r.touchMode {
		r.touchMode = true
		r.updateCursor()
	}

	local := denormalize(out, p)
	sid, surfaceLocal, ok := r.Scene.SurfaceAt(out.ID, local)
	if !ok {
		return
	}
	r.Seat.touches[id] = touchPoint{
		surface: sid,
		output:  out.ID,
		origin:  local.Sub(surfaceLocal),
	}
	r.activate(sid)

	if rcv, ok := r.receiver(sid); ok {
		rcv.TouchDown(r.Seat.NextSerial(), t, sid, id, surfaceLocal)
		r.touched = append(r.touched, sid)
	}
}

// TouchMotion moves a touch point.
func (r *Router) TouchMotion(t time.Time, id int32, p geom.Point[float64]) {
	tp, ok := r.Seat.touches[id]
	if r.suspended || !ok {
		return
	}
	out := r.Outputs.Get(tp.output)
	if out == nil {
		return
	}

	if rcv, ok := r.receiver(tp.surface); ok {
		rcv.TouchMotion(t, id, denormalize(out, p).Sub(tp.origin))
		r.touched = append(r.touched, tp.surface)
	}
}

// TouchUp ends a touch point.
func (r *Router) TouchUp(t time.Time, id int32) {
	tp, ok := r.Seat.touches[id]
	if r.suspended || !ok {
		return
	}
	delete(r.Seat.touches, id)

	if rcv, ok := r.receiver(tp.surface); ok {
		rcv.TouchUp(r.Seat.NextSerial(), t, id)
		r.touched = append(r.touched, tp.surface)
	}
}

// TouchFrame ends a group of touch events, sending a frame to every
// client that was sent one of them.
func (r *Router) TouchFrame() {
	var sent []Receiver
	for _, sid := range r.touched {
		rcv, ok := r.receiver(sid)
		if !ok || slices.Contains(sent, rcv) {
			continue
		}
		rcv.TouchFrame()
		sent = append(sent, rcv)
	}
	r.touched = r.touched[:0]
}

// cancelStaleTouches cancels the touch points of surfaces that are no
// longer shown.
func (r *Router) cancelStaleTouches() {
	for id, tp := range r.Seat.touches {
		if s := r.Scene.Get(tp.surface); s != nil && s.Mapped() {
			continue
		}
		delete(r.Seat.touches, id)
		if rcv, ok := r.receiver(tp.surface); ok {
			rcv.TouchCancel()
		}
	}
}

func (r *Router) cancelTouches() {
	var sent []Receiver
	for _, tp := range r.Seat.touches {
		rcv, ok := r.receiver(tp.surface)
		if !ok || slices.Contains(sent, rcv) {
			continue
		}
		rcv.TouchCancel()
		sent = append(sent, rcv)
	}
	clear(r.Seat.touches)
	r.touched = nil
}

// TouchPoints returns the number of active touch points.
func (s *Seat) TouchPoints() int {
	return len(s.touches)
}
