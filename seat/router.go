package seat

import (
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/xkb"
	"deedles.dev/booth/output"
	"deedles.dev/booth/scene"
	"github.com/sirupsen/logrus"
)

// Router turns device input into events for the clients that hold
// the seat's foci. It is not safe for concurrent use.
type Router struct {
	Seat      *Seat
	Scene     *scene.Scene
	Outputs   *output.Manager
	Receivers Resolver

	// SwitchVT, if not nil, is called when Ctrl+Alt+F1 through F12 is
	// pressed.
	SwitchVT func(vt int)

	// HideCursor disables drawing the pointer entirely.
	HideCursor bool

	cursor    cursorImage
	touchMode bool
	bound     []uint32
	touched   []scene.SurfaceID
	preferred scene.SurfaceID
	suspended bool
}

func NewRouter(seat *Seat, sc *scene.Scene, outputs *output.Manager, receivers Resolver) *Router {
	return &Router{
		Seat:      seat,
		Scene:     sc,
		Outputs:   outputs,
		Receivers: receivers,
	}
}

// receiver resolves the receiver of a surface. A miss means that the
// surface or its client went away after the event was targeted, so
// the event is dropped.
func (r *Router) receiver(id scene.SurfaceID) (Receiver, bool) {
	if !id.Valid() {
		return nil, false
	}
	if r.Scene.Get(id) != nil {
		rcv, ok := r.Receivers.ReceiverFor(id)
		if ok {
			return rcv, true
		}
	}

	logrus.WithField("surface", id).Debugln("dropped input for destroyed surface")
	return nil, false
}

// Refocus recomputes both foci after the scene changed, such as when
// a surface was mapped or unmapped, without any input having
// happened.
func (r *Router) Refocus(t time.Time) {
	if r.suspended {
		return
	}

	r.setKeyboardFocus(r.keyboardTarget())

	if r.Seat.pointer.Valid() && r.Scene.Get(r.Seat.pointer) == nil {
		r.Seat.pointer = scene.SurfaceID{}
		r.Seat.buttons = nil
	}
	if r.updatePointer(t, false) {
		r.PointerFrame()
	}
	r.cancelStaleTouches()
}

// Suspend drops all foci and pressed state, such as when the session
// is switched away from. Input is ignored until Resume.
func (r *Router) Suspend() {
	if r.suspended {
		return
	}

	r.cancelTouches()
	r.setKeyboardFocus(scene.SurfaceID{})
	r.setPointerFocus(scene.SurfaceID{}, geom.Point[float64]{})

	r.Seat.keys = nil
	r.Seat.buttons = nil
	r.Seat.mods.Reset()
	r.Seat.active = r.Seat.keymap
	r.Seat.virtMods = xkb.Modifiers{}
	r.bound = nil
	r.suspended = true
	r.Scene.HideCursor()
}

// Resume restores focus after Suspend.
func (r *Router) Resume(t time.Time) {
	if !r.suspended {
		return
	}
	r.suspended = false
	r.Refocus(t)
}

// Suspended reports whether input is being ignored.
func (r *Router) Suspended() bool {
	return r.suspended
}

// outputFor returns the output with the given name, or the primary
// output.
func (r *Router) outputFor(name string) *output.Output {
	if name != "" {
		if out := r.Outputs.ByName(name); out != nil {
			return out
		}
	}
	return r.Outputs.Primary()
}

// locate finds the output containing a layout point and returns the
// point relative to it.
func (r *Router) locate(p geom.Point[float64]) (*output.Output, geom.Point[float64]) {
	out := r.Outputs.At(geom.Floor(p))
	if out == nil {
		return nil, p
	}
	return out, p.Sub(geom.PConv[float64](out.Bounds().Min))
}

// surfaceLocal converts a layout point to the coordinate space of a
// surface.
func (r *Router) surfaceLocal(s *scene.Surface, p geom.Point[float64]) geom.Point[float64] {
	if out := r.Outputs.Get(s.Output()); out != nil {
		p = p.Sub(geom.PConv[float64](out.Bounds().Min))
	}
	return p.Sub(geom.PConv[float64](s.Position()))
}

// denormalize maps a point in the unit square onto an output.
func denormalize(out *output.Output, p geom.Point[float64]) geom.Point[float64] {
	size := geom.PConv[float64](out.Size())
	return geom.Pt(p.X*size.X, p.Y*size.Y)
}
