package scene

import (
	"deedles.dev/booth/geom"
	"deedles.dev/booth/output"
)

// Frame is a snapshot of an output taken at the start of a render
// cycle. The damage it consumed is held back until the frame is
// either finished, after it was presented, or aborted, in which case
// the damage is returned to the surfaces that it came from.
type Frame struct {
	Output output.ID

	// Order is the stacking order, back to front. A visible cursor
	// surface comes last.
	Order []SurfaceID

	// Damage is the output-local region that must be repainted.
	Damage geom.Region

	surfaces  []SurfaceID
	callbacks []surfaceCallbacks
	buffers   []Buffer
}

type surfaceCallbacks struct {
	id        SurfaceID
	callbacks []Callback
}

// Callbacks returns the frame callbacks that the frame will satisfy
// in the order that they were requested, surfaces back to front.
func (f *Frame) Callbacks() []Callback {
	var all []Callback
	for _, sc := range f.callbacks {
		all = append(all, sc.callbacks...)
	}
	return all
}

// Buffers returns the client buffers that were read to draw the
// frame.
func (f *Frame) Buffers() []Buffer {
	return f.buffers
}

// NeedsFrame reports whether an output has damage or surfaces waiting
// for a frame callback.
func (sc *Scene) NeedsFrame(out output.ID) bool {
	state := sc.outputs[out]
	if state == nil {
		return false
	}
	if !state.damage.Empty() {
		return true
	}
	for _, id := range sc.frameOrder(state, out) {
		s := sc.Get(id)
		if !s.damage.Empty() || len(s.callbacks) > 0 {
			return true
		}
	}
	return false
}

func (sc *Scene) frameOrder(state *outputState, out output.ID) []SurfaceID {
	order := sc.StackingOrder(out)
	if state.cursor.visible {
		if s := sc.Get(state.cursor.surface); s != nil && s.mapped {
			order = append(order, s.id)
		}
	}
	return order
}

// BeginFrame snapshots an output for rendering, consuming the damage
// and frame callbacks of every surface on it.
func (sc *Scene) BeginFrame(out output.ID) (*Frame, error) {
	state := sc.outputs[out]
	if state == nil {
		return nil, ErrUnknownOutput
	}

	f := Frame{
		Output: out,
		Order:  sc.frameOrder(state, out),
	}
	for _, id := range f.Order {
		s := sc.Get(id)
		pos := s.pos
		if s.role == RoleCursor {
			pos, _, _ = sc.Cursor(out)
		}

		if !s.damage.Empty() {
			d := s.damage.Clone()
			d.Translate(pos)
			if s.role != RoleCursor {
				d.Intersect(s.Bounds())
			}
			f.Damage.Union(d)

			s.inflight.Union(s.damage)
			s.damage.Clear()
			f.surfaces = append(f.surfaces, id)
		}

		if len(s.callbacks) > 0 {
			f.callbacks = append(f.callbacks, surfaceCallbacks{id: id, callbacks: s.callbacks})
			s.callbacks = nil
		}
	}

	f.Damage.Union(state.damage)
	state.inflight.Union(state.damage)
	state.damage.Clear()
	f.Damage.Intersect(state.out.LocalBounds())

	return &f, nil
}

// TakeBuffer hands a surface's buffer to the render loop if it was
// committed since the last time. The buffer is recorded in f and
// released when f is finished or aborted.
func (sc *Scene) TakeBuffer(f *Frame, id SurfaceID) (Buffer, bool) {
	s := sc.Get(id)
	if s == nil || !s.fresh || s.buffer == nil {
		return nil, false
	}
	s.fresh = false
	f.buffers = append(f.buffers, s.buffer)
	return s.buffer, true
}

// FinishFrame completes a frame after it was presented. Consumed
// damage is dropped and buffers that the frame read are released.
// The frame's callbacks are returned to the caller to fire.
func (sc *Scene) FinishFrame(f *Frame) []Callback {
	for _, id := range f.surfaces {
		if s := sc.Get(id); s != nil {
			s.inflight.Clear()
		}
	}
	if state := sc.outputs[f.Output]; state != nil {
		state.inflight.Clear()
	}
	sc.releaseBuffers(f)
	return f.Callbacks()
}

// AbortFrame gives a frame that was never presented back to the
// scene: its damage and callbacks are restored to the surfaces that
// still exist, so that the next frame covers them again.
func (sc *Scene) AbortFrame(f *Frame) {
	for _, id := range f.surfaces {
		if s := sc.Get(id); s != nil {
			s.damage.Union(s.inflight)
			s.inflight.Clear()
		}
	}
	for _, cbs := range f.callbacks {
		if s := sc.Get(cbs.id); s != nil {
			s.callbacks = append(cbs.callbacks, s.callbacks...)
		}
	}
	if state := sc.outputs[f.Output]; state != nil {
		state.damage.Union(state.inflight)
		state.inflight.Clear()
	}
	sc.releaseBuffers(f)
}

// DiscardFrame drops a frame whose output is gone, releasing its
// buffers without restoring anything.
func (sc *Scene) DiscardFrame(f *Frame) {
	for _, id := range f.surfaces {
		if s := sc.Get(id); s != nil {
			s.inflight.Clear()
		}
	}
	sc.releaseBuffers(f)
}

func (sc *Scene) releaseBuffers(f *Frame) {
	for _, b := range f.buffers {
		b.Release()
	}
	f.buffers = nil
}
