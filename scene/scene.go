// Package scene holds the composited content of every output: the
// client surfaces, their roles, and the order in which they stack.
//
// Surfaces live in an arena and are referred to by SurfaceID. The
// per-output stacking lists only store IDs, so destroying a surface
// is a tombstone in the arena plus a filter of the list it was in.
// A Scene is not safe for concurrent use. It is owned by the event
// loop.
package scene

import (
	"errors"
	"fmt"
	"image"
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/output"
)

var (
	ErrNoSurface      = errors.New("surface does not exist")
	ErrOutOfOrder     = errors.New("commit is out of order")
	ErrRole           = errors.New("surface already has a different role")
	ErrNoParent       = errors.New("subsurface parent does not exist")
	ErrNotConfigured  = errors.New("buffer attached before the first configure")
	ErrUnknownOutput  = errors.New("output is not part of the scene")
	ErrInvalidScale   = errors.New("buffer scale must be positive")
	ErrInvalidSurface = errors.New("invalid surface state")
)

// SurfaceID is a stable reference to a surface. The zero SurfaceID
// refers to no surface.
type SurfaceID struct {
	slot uint32
	gen  uint32
}

func (id SurfaceID) Valid() bool {
	return id.gen != 0
}

func (id SurfaceID) String() string {
	if !id.Valid() {
		return "surface(none)"
	}
	return fmt.Sprintf("surface(%v.%v)", id.slot, id.gen)
}

// Buffer is pixel content borrowed from a client. The scene never
// frees a buffer. It calls Release exactly once to give it back,
// either when it is superseded before being rendered, when the
// surface is destroyed, or, via the render loop, after a frame that
// read it has been presented.
type Buffer interface {
	Image() image.Image
	Release()
}

// Callback is a frame callback requested by a client.
type Callback interface {
	Done(t time.Time)
}

// Shell is implemented by the protocol object that gives a surface
// its application or layer role.
type Shell interface {
	// Configure tells the client the size that its surface should
	// have.
	Configure(size geom.Point[int])

	// Close asks an application to close, or tells a layer surface
	// that it has been removed from the scene.
	Close()
}

// Listener is notified about changes to the visibility of surfaces.
type Listener interface {
	SurfaceMapped(s *Surface)
	SurfaceUnmapped(s *Surface)
	SurfaceDestroyed(s *Surface)
}

type nopListener struct{}

func (nopListener) SurfaceMapped(*Surface)    {}
func (nopListener) SurfaceUnmapped(*Surface)  {}
func (nopListener) SurfaceDestroyed(*Surface) {}

type slot struct {
	gen     uint32
	surface *Surface
}

// Scene is the set of surfaces and the outputs that they are shown
// on.
type Scene struct {
	Listener Listener

	slots []slot
	free  []uint32

	outputs map[output.ID]*outputState
	order   []output.ID
}

func New() *Scene {
	return &Scene{
		Listener: nopListener{},
		outputs:  make(map[output.ID]*outputState),
	}
}

// Create adds a new surface without a role. Owner is an opaque value
// identifying the client that the surface belongs to.
func (sc *Scene) Create(owner any) SurfaceID {
	var index uint32
	if n := len(sc.free); n > 0 {
		index = sc.free[n-1]
		sc.free = sc.free[:n-1]
	} else {
		index = uint32(len(sc.slots))
		sc.slots = append(sc.slots, slot{})
	}

	slot := &sc.slots[index]
	slot.gen++
	if slot.gen == 0 {
		slot.gen++
	}

	id := SurfaceID{slot: index, gen: slot.gen}
	slot.surface = &Surface{
		id:    id,
		Owner: owner,
		scale: 1,
	}
	return id
}

// Get returns the surface for id, or nil if it has been destroyed.
func (sc *Scene) Get(id SurfaceID) *Surface {
	if !id.Valid() || int(id.slot) >= len(sc.slots) {
		return nil
	}
	slot := sc.slots[id.slot]
	if slot.gen != id.gen {
		return nil
	}
	return slot.surface
}

// Len returns the number of live surfaces.
func (sc *Scene) Len() int {
	return len(sc.slots) - len(sc.free)
}

// Destroy removes a surface from the scene. A buffer that has not
// been handed to the render loop is released.
func (sc *Scene) Destroy(id SurfaceID) {
	s := sc.Get(id)
	if s == nil {
		return
	}

	if s.mapped {
		sc.unmap(s)
	}
	sc.releaseFresh(s)
	if s.buffered != nil && s.buffered.Buffer != nil {
		s.buffered.Buffer.Release()
	}
	s.buffered = nil
	s.callbacks = nil

	if parent := sc.Get(s.parent); parent != nil {
		parent.children = removeID(parent.children, id)
	}
	for _, child := range s.children {
		if c := sc.Get(child); c != nil {
			c.parent = SurfaceID{}
			if c.mapped {
				sc.unmap(c)
			}
		}
	}
	s.children = nil

	if state := sc.outputs[s.output]; state != nil {
		state.remove(id)
		if s.role == RoleLayer {
			sc.arrange(state)
		}
	}

	sc.slots[id.slot].surface = nil
	sc.slots[id.slot].gen++
	if sc.slots[id.slot].gen == 0 {
		sc.slots[id.slot].gen++
	}
	sc.free = append(sc.free, id.slot)

	sc.Listener.SurfaceDestroyed(s)
}

func (sc *Scene) releaseFresh(s *Surface) {
	if s.buffer != nil && s.fresh {
		s.buffer.Release()
	}
	s.fresh = false
}

func removeID(ids []SurfaceID, id SurfaceID) []SurfaceID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
