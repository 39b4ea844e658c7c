package protocol

import (
	"errors"
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/wire"
	"deedles.dev/booth/output"
	"deedles.dev/booth/scene"
	"golang.org/x/exp/slices"
)

const compositorVersion = 5

type compositor struct {
	resource
}

func bindCompositor(c *Client, id, version uint32) (object, error) {
	return &compositor{resource: resource{client: c, id: id, iface: "wl_compositor", version: version}}, nil
}

func (comp *compositor) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // create_surface
		id := msg.ReadNewID()
		return comp.client.add(id, newSurface(comp.client, id, comp.version))

	case 1: // create_region
		id := msg.ReadNewID()
		return comp.client.add(id, &region{resource: resource{client: comp.client, id: id, iface: "wl_region", version: comp.version}})

	default:
		return comp.unknownOp(msg.Op())
	}
}

func (comp *compositor) destroy() {}

// Error codes of wl_surface.
const (
	surfaceErrInvalidScale     = 0
	surfaceErrInvalidTransform = 1
	surfaceErrInvalidOffset    = 3
	surfaceErrDefunctRole      = 4
)

// role is the protocol object that gives a surface its role. Its
// commit hook runs before the surface's state is handed to the scene.
type role interface {
	object
	commit(p *scene.Pending) error
	committed() error

	// inert reports whether the role has been withdrawn by the
	// compositor, in which case commits are acknowledged but never
	// reach the scene.
	inert() bool
}

type surface struct {
	resource
	sid scene.SurfaceID
	seq uint64

	pending     scene.Pending
	attachedSet bool
	attached    *shmBuffer

	role    role
	entered []output.ID
	dead    bool
}

func newSurface(c *Client, id, version uint32) *surface {
	s := surface{
		resource: resource{client: c, id: id, iface: "wl_surface", version: version},
		sid:      c.server.Scene.Create(c),
	}
	c.server.surfaces[s.sid] = &s
	return &s
}

func (s *surface) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // destroy
		if s.role != nil && !s.roleDestroyed() {
			return s.errorf(surfaceErrDefunctRole, "surface destroyed before its role object")
		}
		s.client.remove(s.id)
		return nil

	case 1: // attach
		bufID := msg.ReadObject()
		x, y := msg.ReadInt(), msg.ReadInt()
		if s.version >= 5 && (x != 0 || y != 0) {
			return s.errorf(surfaceErrInvalidOffset, "attach with a non-zero offset")
		}
		var buf *shmBuffer
		if bufID != 0 {
			b, ok := get[*shmBuffer](s.client, bufID)
			if !ok {
				return s.errorf(errInvalidObject, "%v is not a buffer", bufID)
			}
			buf = b
		}
		s.attachedSet = true
		s.attached = buf
		s.pending.Offset = s.pending.Offset.Add(geom.Pt(int(x), int(y)))
		return nil

	case 2: // damage
		r, ok := readRect(msg)
		if ok {
			s.pending.Damage.Add(r)
		}
		return nil

	case 3: // frame
		id := msg.ReadNewID()
		cb := newCallback(s.client, id)
		if err := s.client.add(id, cb); err != nil {
			return err
		}
		s.pending.Callbacks = append(s.pending.Callbacks, frameCallback{cb})
		return nil

	case 4: // set_opaque_region
		msg.ReadObject()
		return nil

	case 5: // set_input_region
		regID := msg.ReadObject()
		s.pending.InputSet = true
		s.pending.Input = nil
		if regID != 0 {
			reg, ok := get[*region](s.client, regID)
			if !ok {
				return s.errorf(errInvalidObject, "%v is not a region", regID)
			}
			r := reg.region.Clone()
			s.pending.Input = &r
		}
		return nil

	case 6: // commit
		return s.commit()

	case 7: // set_buffer_transform
		t := geom.Transform(msg.ReadInt())
		if !t.Valid() {
			return s.errorf(surfaceErrInvalidTransform, "invalid transform %v", t)
		}
		s.pending.TransformSet = true
		s.pending.Transform = t
		return nil

	case 8: // set_buffer_scale
		scale := msg.ReadInt()
		if scale <= 0 {
			return s.errorf(surfaceErrInvalidScale, "invalid scale %v", scale)
		}
		s.pending.Scale = scale
		return nil

	case 9: // damage_buffer
		r, ok := readRect(msg)
		if ok {
			s.pending.BufferDamage.Add(r)
		}
		return nil

	case 10: // offset
		x, y := msg.ReadInt(), msg.ReadInt()
		s.pending.Offset = s.pending.Offset.Add(geom.Pt(int(x), int(y)))
		return nil

	default:
		return s.unknownOp(msg.Op())
	}
}

func readRect(msg *wire.MessageBuffer) (geom.Rect[int], bool) {
	x, y := int(msg.ReadInt()), int(msg.ReadInt())
	w, h := int(msg.ReadInt()), int(msg.ReadInt())
	if w <= 0 || h <= 0 {
		return geom.Rect[int]{}, false
	}
	return geom.Rt(x, y, x+w, y+h), true
}

func (s *surface) roleDestroyed() bool {
	switch r := s.role.(type) {
	case *xdgSurface:
		return r.dead
	case *layerSurface:
		return r.dead
	default:
		return true
	}
}

func (s *surface) commit() error {
	s.seq++
	p := s.pending
	p.Seq = s.seq
	s.pending = scene.Pending{}

	if s.attachedSet {
		p.Attached = true
		if s.attached != nil {
			p.Buffer = s.attached.use()
		}
		s.attachedSet = false
		s.attached = nil
	}

	if s.role != nil {
		err := s.role.commit(&p)
		if err != nil {
			if p.Buffer != nil {
				p.Buffer.Release()
			}
			return err
		}

		if s.role.inert() {
			if p.Buffer != nil {
				p.Buffer.Release()
			}
			now := time.Now()
			for _, cb := range p.Callbacks {
				cb.Done(now)
			}
			return nil
		}
	}

	err := s.client.server.Scene.Commit(s.sid, p)
	if err != nil {
		return s.sceneError(err)
	}

	if s.role != nil {
		return s.role.committed()
	}
	return nil
}

// sceneError converts an error returned by the scene for this surface
// into a protocol error.
func (s *surface) sceneError(err error) error {
	switch {
	case errors.Is(err, scene.ErrInvalidScale):
		return s.errorf(surfaceErrInvalidScale, "%v", err)
	case errors.Is(err, scene.ErrNotConfigured):
		if ls, ok := s.role.(*layerSurface); ok {
			return ls.errorf(layerSurfaceErrInvalidSurfaceState, "%v", err)
		}
		return s.errorf(errImplementation, "%v", err)
	case errors.Is(err, scene.ErrNoSurface):
		return s.errorf(errInvalidObject, "%v", err)
	default:
		return s.errorf(errImplementation, "%v", err)
	}
}

func (s *surface) destroy() {
	if s.dead {
		return
	}
	s.dead = true

	if s.role != nil && !s.roleDestroyed() {
		s.role.destroy()
	}
	s.pending = scene.Pending{}
	s.attached = nil

	delete(s.client.server.surfaces, s.sid)
	s.client.server.Scene.Destroy(s.sid)
}

// enter tells the client that its surface is visible on out.
func (s *surface) enter(out output.ID) {
	if slices.Contains(s.entered, out) {
		return
	}
	s.entered = append(s.entered, out)
	for _, res := range s.client.server.outputResources(s.client, out) {
		ev := s.event(0, "enter")
		ev.WriteObject(res.id)
		s.send(ev)
	}
}

func (s *surface) leaveAll() {
	for _, out := range s.entered {
		for _, res := range s.client.server.outputResources(s.client, out) {
			ev := s.event(1, "leave")
			ev.WriteObject(res.id)
			s.send(ev)
		}
	}
	s.entered = nil
}

// frameCallback adapts a wl_callback to the scene.
type frameCallback struct {
	*callback
}

func (cb frameCallback) Done(t time.Time) {
	cb.done(uint32(t.UnixMilli()))
}

type region struct {
	resource
	region geom.Region
}

func (reg *region) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // destroy
		reg.client.remove(reg.id)
		return nil

	case 1: // add
		r, ok := readRect(msg)
		if ok {
			reg.region.Add(r)
		}
		return nil

	case 2: // subtract
		r, ok := readRect(msg)
		if ok {
			reg.region.Subtract(r)
		}
		return nil

	default:
		return reg.unknownOp(msg.Op())
	}
}

func (reg *region) destroy() {}
