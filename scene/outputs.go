package scene

import (
	"deedles.dev/booth/geom"
	"deedles.dev/booth/output"
	"golang.org/x/exp/slices"
)

type outputState struct {
	out    *output.Output
	usable geom.Rect[int]

	// apps holds every application surface assigned to the output in
	// the order that they were last mapped. Only the last mapped one
	// is visible.
	apps   []SurfaceID
	layers [numLayers][]SurfaceID

	// damage is output-local damage that is not attributed to any
	// surface, such as surfaces being moved, mapped, or unmapped.
	damage   geom.Region
	inflight geom.Region

	cursor cursorState
}

func (state *outputState) damageAll() {
	state.damage.Add(state.out.LocalBounds())
}

func (state *outputState) remove(id SurfaceID) {
	state.apps = removeID(state.apps, id)
	for i := range state.layers {
		state.layers[i] = removeID(state.layers[i], id)
	}
	if state.cursor.surface == id {
		state.cursor.surface = SurfaceID{}
	}
}

func (sc *Scene) primary() output.ID {
	if len(sc.order) == 0 {
		return 0
	}
	return sc.order[0]
}

// AddOutput makes an output available to surfaces. Surfaces that
// were waiting for an output are assigned to it and their buffered
// state is applied.
func (sc *Scene) AddOutput(out *output.Output) {
	if _, ok := sc.outputs[out.ID]; ok {
		return
	}

	state := outputState{
		out:    out,
		usable: out.LocalBounds(),
	}
	state.damageAll()
	sc.outputs[out.ID] = &state
	sc.order = append(sc.order, out.ID)

	for _, slot := range sc.slots {
		s := slot.surface
		if s == nil || s.output != 0 {
			continue
		}
		if s.role != RoleApplication && s.role != RoleLayer {
			continue
		}
		if s.role == RoleLayer && s.layer.Output != 0 && s.layer.Output != out.ID {
			continue
		}
		sc.assign(s, out.ID)
		sc.flushBuffered(s)
	}
}

// RemoveOutput takes an output out of the scene. Applications on it
// are asked to close and hidden, and layer surfaces on it are closed
// and destroyed.
func (sc *Scene) RemoveOutput(id output.ID) {
	state := sc.outputs[id]
	if state == nil {
		return
	}

	for _, sid := range slices.Clone(state.apps) {
		s := sc.Get(sid)
		if s == nil {
			continue
		}
		if s.mapped {
			s.mapped = false
			sc.Listener.SurfaceUnmapped(s)
		}
		s.output = 0
		s.hidden = false
		s.configured = false
		if s.shell != nil {
			s.shell.Close()
		}
	}
	state.apps = nil

	for layer := range state.layers {
		for _, sid := range slices.Clone(state.layers[layer]) {
			s := sc.Get(sid)
			if s == nil {
				continue
			}
			if s.shell != nil {
				s.shell.Close()
			}
			sc.Destroy(sid)
		}
	}

	delete(sc.outputs, id)
	sc.order = slices.DeleteFunc(sc.order, func(o output.ID) bool { return o == id })
}

// ResizeOutput updates the scene after an output's mode or transform
// changed.
func (sc *Scene) ResizeOutput(id output.ID) error {
	state := sc.outputs[id]
	if state == nil {
		return ErrUnknownOutput
	}
	state.damageAll()
	sc.arrange(state)
	return nil
}

// Outputs returns the outputs in the scene in the order that they
// were added.
func (sc *Scene) Outputs() []output.ID {
	return slices.Clone(sc.order)
}

// DamageOutput adds output-local damage that is not attributed to a
// surface.
func (sc *Scene) DamageOutput(id output.ID, r geom.Rect[int]) {
	if state := sc.outputs[id]; state != nil {
		state.damage.Add(r.Intersect(state.out.LocalBounds()))
	}
}

// DamageAll damages the whole of an output.
func (sc *Scene) DamageAll(id output.ID) {
	if state := sc.outputs[id]; state != nil {
		state.damageAll()
	}
}

func (sc *Scene) assign(s *Surface, out output.ID) {
	state := sc.outputs[out]
	if state == nil {
		return
	}
	s.output = out

	switch s.role {
	case RoleApplication:
		if !slices.Contains(state.apps, s.id) {
			state.apps = append([]SurfaceID{s.id}, state.apps...)
		}
	case RoleLayer:
		layer := s.layer.Layer
		if !slices.Contains(state.layers[layer], s.id) {
			state.layers[layer] = append(state.layers[layer], s.id)
		}
	}
}
