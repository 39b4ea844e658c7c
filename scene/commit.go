package scene

import (
	"fmt"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/output"
	"golang.org/x/exp/slices"
)

// Pending is the state that a client accumulates for a surface before
// committing it. Fields that were not touched are left at their zero
// values and the matching Set flag is false.
type Pending struct {
	// Seq is the commit sequence number. It must be greater than that
	// of every commit previously applied to the same surface.
	Seq uint64

	// Attached is set if a buffer was attached. A nil Buffer with
	// Attached set removes the surface's content.
	Attached bool
	Buffer   Buffer
	Offset   geom.Point[int]

	// Damage is in surface-local coordinates, BufferDamage in buffer
	// coordinates.
	Damage       geom.Region
	BufferDamage geom.Region

	InputSet bool
	Input    *geom.Region

	Scale        int32
	TransformSet bool
	Transform    geom.Transform

	Callbacks []Callback

	// Layer is the new layer state of a layer surface, if it changed.
	Layer *LayerState
}

// merge folds later state into p. Later values win, damage and
// callbacks accumulate. A buffer that is replaced before it was ever
// applied is released.
func (p *Pending) merge(next Pending) {
	p.Seq = next.Seq
	if next.Attached {
		if p.Attached && p.Buffer != nil && p.Buffer != next.Buffer {
			p.Buffer.Release()
		}
		p.Attached = true
		p.Buffer = next.Buffer
		p.Offset = p.Offset.Add(next.Offset)
	}
	p.Damage.Union(next.Damage)
	p.BufferDamage.Union(next.BufferDamage)
	if next.InputSet {
		p.InputSet = true
		p.Input = next.Input
	}
	if next.Scale != 0 {
		p.Scale = next.Scale
	}
	if next.TransformSet {
		p.TransformSet = true
		p.Transform = next.Transform
	}
	p.Callbacks = append(p.Callbacks, next.Callbacks...)
	if next.Layer != nil {
		p.Layer = next.Layer
	}
}

func (sc *Scene) setRole(id SurfaceID, role Role, shell Shell) (*Surface, error) {
	s := sc.Get(id)
	if s == nil {
		return nil, ErrNoSurface
	}
	if s.role != RoleNone && s.role != role {
		return nil, fmt.Errorf("%v is a %v: %w", id, s.role, ErrRole)
	}
	s.role = role
	s.shell = shell
	return s, nil
}

// SetApplicationRole makes s an application surface on the primary
// output. If there is no output yet, the surface waits for one.
func (sc *Scene) SetApplicationRole(id SurfaceID, shell Shell) error {
	s, err := sc.setRole(id, RoleApplication, shell)
	if err != nil {
		return err
	}
	if out := sc.primary(); out != 0 && s.output == 0 {
		sc.assign(s, out)
	}
	return sc.flushBuffered(s)
}

// SetCursorRole makes s a cursor image. Cursors are not part of any
// stacking list. They are shown through SetCursor.
func (sc *Scene) SetCursorRole(id SurfaceID, hotspot geom.Point[int]) error {
	s, err := sc.setRole(id, RoleCursor, nil)
	if err != nil {
		return err
	}
	s.hotspot = hotspot
	return sc.flushBuffered(s)
}

// SetSubsurfaceRole attaches s to parent. Subsurfaces are drawn above
// their parent, offset from its top-left corner, and share its
// output.
func (sc *Scene) SetSubsurfaceRole(id, parent SurfaceID) error {
	p := sc.Get(parent)
	if p == nil {
		return ErrNoParent
	}
	for a := p; a != nil; a = sc.Get(a.parent) {
		if a.id == id {
			return fmt.Errorf("%v is an ancestor of %v: %w", id, parent, ErrInvalidSurface)
		}
	}

	s, err := sc.setRole(id, RoleSubsurface, nil)
	if err != nil {
		return err
	}
	s.parent = parent
	if !slices.Contains(p.children, id) {
		p.children = append(p.children, id)
	}
	return sc.flushBuffered(s)
}

// SetSubsurfacePosition moves a subsurface relative to its parent.
func (sc *Scene) SetSubsurfacePosition(id SurfaceID, offset geom.Point[int]) {
	s := sc.Get(id)
	if s == nil || s.role != RoleSubsurface {
		return
	}
	s.subOffset = offset
	sc.place(s)
}

// Commit applies pending state to a surface. If the surface does not
// have a role and an output yet, the state is held until it does.
func (sc *Scene) Commit(id SurfaceID, p Pending) error {
	s := sc.Get(id)
	if s == nil {
		if p.Buffer != nil {
			p.Buffer.Release()
		}
		return ErrNoSurface
	}
	if p.Seq <= s.seq {
		if p.Buffer != nil {
			p.Buffer.Release()
		}
		return fmt.Errorf("%v: commit %v after %v: %w", id, p.Seq, s.seq, ErrOutOfOrder)
	}
	if p.Scale < 0 {
		if p.Buffer != nil {
			p.Buffer.Release()
		}
		return fmt.Errorf("%v: scale %v: %w", id, p.Scale, ErrInvalidScale)
	}
	s.seq = p.Seq

	if !s.established() {
		if s.buffered == nil {
			s.buffered = &Pending{}
		}
		s.buffered.merge(p)
		return nil
	}

	return sc.apply(s, p)
}

func (sc *Scene) flushBuffered(s *Surface) error {
	if !s.established() {
		return nil
	}
	if s.buffered == nil {
		return sc.settle(s)
	}

	p := *s.buffered
	s.buffered = nil
	return sc.apply(s, p)
}

func (sc *Scene) apply(s *Surface, p Pending) error {
	s.committed = true
	oldBounds := s.Bounds()
	oldSize := s.Size()

	if p.Attached {
		if p.Buffer != s.buffer {
			sc.releaseFresh(s)
		}
		s.buffer = p.Buffer
		s.fresh = p.Buffer != nil
		if p.Buffer != nil {
			s.bufferSize = geom.FromImageRect(p.Buffer.Image().Bounds()).Size()
		} else {
			s.bufferSize = geom.Point[int]{}
		}
		if s.role == RoleCursor {
			s.hotspot = s.hotspot.Sub(p.Offset)
		}
	}
	if p.Scale > 0 {
		s.scale = p.Scale
	}
	if p.TransformSet {
		s.transform = p.Transform
	}
	if p.InputSet {
		s.input = p.Input
	}

	s.damage.Union(p.Damage)
	for _, r := range p.BufferDamage.Rects() {
		s.damage.Add(bufferToSurface(r, s.scale))
	}
	if s.Size() != oldSize {
		s.damage.Add(geom.Sized(geom.Point[int]{}, s.Size()))
	}
	s.damage.Intersect(geom.Sized(geom.Point[int]{}, s.Size()))

	s.callbacks = append(s.callbacks, p.Callbacks...)

	if p.Layer != nil && s.role == RoleLayer {
		sc.setLayerState(s, *p.Layer)
	}

	err := sc.settle(s)
	if s.mapped && oldBounds != s.Bounds() {
		if state := sc.outputs[s.output]; state != nil {
			state.damage.Add(oldBounds)
			state.damage.Add(s.Bounds())
		}
	}
	return err
}

// bufferToSurface converts a rectangle in buffer coordinates to
// surface coordinates, rounding outwards.
func bufferToSurface(r geom.Rect[int], scale int32) geom.Rect[int] {
	k := int(scale)
	if k <= 1 {
		return r
	}
	return geom.Rt(
		r.Min.X/k,
		r.Min.Y/k,
		(r.Max.X+k-1)/k,
		(r.Max.Y+k-1)/k,
	)
}

func (sc *Scene) setLayerState(s *Surface, ls LayerState) {
	old := s.layer.Layer
	s.layer = ls
	if state := sc.outputs[s.output]; state != nil && old != ls.Layer {
		state.layers[old] = removeID(state.layers[old], s.id)
		state.layers[ls.Layer] = append(state.layers[ls.Layer], s.id)
		if s.mapped {
			state.damage.Add(s.Bounds())
		}
	}
}

// settle brings a surface's mapped state, placement, and configure
// in line with its current state.
func (sc *Scene) settle(s *Surface) error {
	hasContent := s.buffer != nil

	switch s.role {
	case RoleApplication:
		state := sc.outputs[s.output]
		if state == nil {
			return nil
		}
		if !s.configured {
			sc.placeApp(state, s)
		}
		switch {
		case !hasContent:
			s.hidden = false
			if s.mapped {
				sc.unmap(s)
			}
		case !s.mapped && !s.hidden:
			sc.mapApp(state, s)
		}

	case RoleLayer:
		state := sc.outputs[s.output]
		if state == nil {
			return nil
		}
		if hasContent && !s.configured {
			return fmt.Errorf("%v: %w", s.id, ErrNotConfigured)
		}
		switch {
		case hasContent && !s.mapped:
			s.mapped = true
			sc.arrange(state)
			state.damage.Add(s.Bounds())
			sc.Listener.SurfaceMapped(s)
		case !hasContent && s.mapped:
			sc.unmap(s)
		default:
			sc.arrange(state)
		}

	case RoleSubsurface:
		parent := sc.Get(s.parent)
		if parent != nil {
			s.output = parent.output
		}
		sc.place(s)
		switch {
		case hasContent && !s.mapped:
			s.mapped = true
			sc.Listener.SurfaceMapped(s)
		case !hasContent && s.mapped:
			sc.unmap(s)
		}

	case RoleCursor:
		s.mapped = hasContent
		sc.damageCursor(s)
	}

	for _, child := range s.children {
		if c := sc.Get(child); c != nil {
			sc.place(c)
		}
	}
	return nil
}

// placeApp configures an application to fill the usable area of its
// output.
func (sc *Scene) placeApp(state *outputState, s *Surface) {
	s.pos = state.usable.Min
	s.clip = state.usable
	size := state.usable.Size()
	if !s.configured || s.confSize != size {
		s.configured = true
		s.confSize = size
		if s.shell != nil {
			s.shell.Configure(size)
		}
	}
	for _, child := range s.children {
		if c := sc.Get(child); c != nil {
			sc.place(c)
		}
	}
}

// place positions a subsurface relative to its parent.
func (sc *Scene) place(s *Surface) {
	if s.role != RoleSubsurface {
		return
	}
	parent := sc.Get(s.parent)
	if parent == nil {
		return
	}

	old := s.Bounds()
	s.output = parent.output
	s.pos = parent.pos.Add(s.subOffset)
	s.clip = parent.clip
	if s.mapped && old != s.Bounds() {
		if state := sc.outputs[s.output]; state != nil {
			state.damage.Add(old)
			state.damage.Add(s.Bounds())
		}
	}
	for _, child := range s.children {
		if c := sc.Get(child); c != nil {
			sc.place(c)
		}
	}
}

// mapApp shows an application surface, hiding whichever application
// was visible on the output before it.
func (sc *Scene) mapApp(state *outputState, s *Surface) {
	if prev := sc.visibleApp(state); prev != nil && prev != s {
		prev.mapped = false
		prev.hidden = true
		state.damage.Add(prev.Bounds())
		sc.Listener.SurfaceUnmapped(prev)
	}

	state.apps = append(removeID(state.apps, s.id), s.id)
	s.mapped = true
	s.hidden = false
	state.damage.Add(s.Bounds())
	sc.Listener.SurfaceMapped(s)
}

func (sc *Scene) visibleApp(state *outputState) *Surface {
	for i := len(state.apps) - 1; i >= 0; i-- {
		s := sc.Get(state.apps[i])
		if s != nil && s.mapped {
			return s
		}
	}
	return nil
}

// VisibleApplication returns the application surface currently shown
// on an output, or nil.
func (sc *Scene) VisibleApplication(out output.ID) *Surface {
	state := sc.outputs[out]
	if state == nil {
		return nil
	}
	return sc.visibleApp(state)
}

// unmap hides a surface. Subsurfaces keep their own mapped state but
// are only shown while their parent is. If s was the visible
// application, the most recently hidden application that still has
// content is shown again.
func (sc *Scene) unmap(s *Surface) {
	s.mapped = false
	state := sc.outputs[s.output]
	if state != nil {
		state.damage.Add(s.Bounds())
	}
	sc.Listener.SurfaceUnmapped(s)

	if state == nil {
		return
	}
	switch s.role {
	case RoleLayer:
		sc.arrange(state)
	case RoleApplication:
		for i := len(state.apps) - 1; i >= 0; i-- {
			prev := sc.Get(state.apps[i])
			if prev == nil || prev == s || prev.buffer == nil {
				continue
			}
			sc.placeApp(state, prev)
			sc.mapApp(state, prev)
			break
		}
	}
}
