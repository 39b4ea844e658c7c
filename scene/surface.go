package scene

import (
	"deedles.dev/booth/geom"
	"deedles.dev/booth/output"
)

// Role is what a surface is used for. A surface's role can be set
// only once.
type Role int

const (
	RoleNone Role = iota
	RoleApplication
	RoleLayer
	RoleCursor
	RoleSubsurface
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleApplication:
		return "application"
	case RoleLayer:
		return "layer"
	case RoleCursor:
		return "cursor"
	case RoleSubsurface:
		return "subsurface"
	default:
		return "unknown"
	}
}

// Surface is a client surface. Its exported methods are read-only
// views of its current state. All changes go through the Scene.
type Surface struct {
	// Owner identifies the client that created the surface.
	Owner any

	id     SurfaceID
	role   Role
	shell  Shell
	output output.ID

	parent    SurfaceID
	children  []SurfaceID
	subOffset geom.Point[int]

	seq      uint64
	buffered *Pending

	buffer     Buffer
	fresh      bool
	bufferSize geom.Point[int]
	scale      int32
	transform  geom.Transform
	input      *geom.Region
	hotspot    geom.Point[int]

	damage    geom.Region
	inflight  geom.Region
	callbacks []Callback

	committed bool
	mapped    bool
	// hidden is set on an application with content that another
	// application replaced. It stays hidden until it is shown again
	// by the replacing application going away.
	hidden     bool
	configured bool
	confSize   geom.Point[int]
	pos        geom.Point[int]
	clip       geom.Rect[int]

	layer LayerState
}

func (s *Surface) ID() SurfaceID {
	return s.id
}

func (s *Surface) Role() Role {
	return s.role
}

// Output returns the output that the surface is assigned to. It is
// zero for surfaces without an output, such as cursors.
func (s *Surface) Output() output.ID {
	return s.output
}

func (s *Surface) Parent() SurfaceID {
	return s.parent
}

func (s *Surface) Mapped() bool {
	return s.mapped
}

// Seq returns the sequence number of the last accepted commit.
func (s *Surface) Seq() uint64 {
	return s.seq
}

// Buffer returns the surface's current buffer and whether it has
// been committed since it was last handed to the render loop.
func (s *Surface) Buffer() (Buffer, bool) {
	return s.buffer, s.fresh
}

func (s *Surface) Scale() int32 {
	return s.scale
}

func (s *Surface) Transform() geom.Transform {
	return s.transform
}

// Size returns the size of the surface in layout coordinates, derived
// from its buffer, scale, and transform.
func (s *Surface) Size() geom.Point[int] {
	return s.transform.Size(s.bufferSize).Div(int(s.scale))
}

// Position returns the output-local location of the surface's
// top-left corner.
func (s *Surface) Position() geom.Point[int] {
	return s.pos
}

// Bounds returns the output-local area in which the surface is
// visible.
func (s *Surface) Bounds() geom.Rect[int] {
	r := geom.Sized(s.pos, s.Size())
	if !s.clip.IsZero() {
		r = r.Intersect(s.clip)
	}
	return r
}

// Hotspot returns the point inside a cursor surface that tracks the
// pointer.
func (s *Surface) Hotspot() geom.Point[int] {
	return s.hotspot
}

// Layer returns the current layer state of a layer surface.
func (s *Surface) Layer() LayerState {
	return s.layer
}

// Configured reports whether the surface has been sent a configure.
func (s *Surface) Configured() bool {
	return s.configured
}

// AcceptsInput reports whether the surface-local point p is inside
// the surface's input region.
func (s *Surface) AcceptsInput(p geom.Point[int]) bool {
	if !p.In(geom.Sized(geom.Point[int]{}, s.Size())) {
		return false
	}
	if s.input == nil {
		return true
	}
	return s.input.Contains(p)
}

// Damage returns the damage accumulated since the last frame that
// consumed it, in surface-local coordinates.
func (s *Surface) Damage() geom.Region {
	return s.damage.Clone()
}

// PendingCallbacks returns the number of frame callbacks waiting for
// the next frame.
func (s *Surface) PendingCallbacks() int {
	return len(s.callbacks)
}

// established reports whether the surface's role and output are
// known, which is required before its state can be applied.
func (s *Surface) established() bool {
	switch s.role {
	case RoleNone:
		return false
	case RoleCursor, RoleSubsurface:
		return true
	default:
		return s.output != 0
	}
}
