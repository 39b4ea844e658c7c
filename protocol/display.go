package protocol

import (
	"deedles.dev/booth/internal/wire"
	"golang.org/x/exp/slices"
)

// display is a client's wl_display.
type display struct {
	resource
}

func (d *display) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // sync
		id := msg.ReadNewID()
		cb := newCallback(d.client, id)
		if err := d.client.add(id, cb); err != nil {
			return err
		}
		cb.done(d.client.server.Seat.NextSerial())
		return nil

	case 1: // get_registry
		id := msg.ReadNewID()
		reg := &registry{resource: resource{client: d.client, id: id, iface: "wl_registry", version: 1}}
		if err := d.client.add(id, reg); err != nil {
			return err
		}
		for _, g := range d.client.server.globals {
			reg.global(g)
		}
		return nil

	default:
		return d.unknownOp(msg.Op())
	}
}

func (d *display) destroy() {}

func (d *display) error(err *Error) {
	ev := d.event(0, "error")
	ev.WriteObject(err.Object)
	ev.WriteUint(err.Code)
	ev.WriteString(err.Message)
	d.send(ev)
}

func (d *display) deleteID(id uint32) {
	ev := d.event(1, "delete_id")
	ev.WriteUint(id)
	d.send(ev)
}

// global is an object that clients can bind through the registry.
type global struct {
	name    uint32
	iface   string
	version uint32
	bind    func(c *Client, id, version uint32) (object, error)

	// output is set for wl_output globals.
	output *outputGlobal
}

func (s *Server) addGlobal(iface string, version uint32, bind func(c *Client, id, version uint32) (object, error)) *global {
	g := global{
		name:    s.nextName,
		iface:   iface,
		version: version,
		bind:    bind,
	}
	s.nextName++
	s.globals = append(s.globals, &g)

	for c := range s.clients {
		for _, obj := range c.objects {
			if reg, ok := obj.(*registry); ok {
				reg.global(&g)
			}
		}
	}
	return &g
}

func (s *Server) removeGlobal(g *global) {
	s.globals = slices.DeleteFunc(s.globals, func(v *global) bool { return v == g })
	for c := range s.clients {
		for _, obj := range c.objects {
			if reg, ok := obj.(*registry); ok {
				reg.globalRemove(g)
			}
		}
	}
}

type registry struct {
	resource
}

func (reg *registry) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // bind
		name := msg.ReadUint()
		nid := msg.ReadUntypedNewID()
		if err := msg.Err(); err != nil {
			return err
		}

		i := slices.IndexFunc(reg.client.server.globals, func(g *global) bool { return g.name == name })
		if i < 0 {
			if name == 0 || name >= reg.client.server.nextName || nid.Interface != "wl_output" {
				return reg.errorf(errInvalidObject, "no global named %v", name)
			}
			return reg.client.add(nid.ID, &inert{resource: resource{client: reg.client, id: nid.ID, iface: nid.Interface, version: nid.Version}})
		}
		g := reg.client.server.globals[i]
		if g.iface != nid.Interface {
			return reg.errorf(errInvalidObject, "global %v is %v, not %v", name, g.iface, nid.Interface)
		}
		if nid.Version == 0 || nid.Version > g.version {
			return reg.errorf(errInvalidObject, "invalid version %v for %v", nid.Version, g.iface)
		}

		obj, err := g.bind(reg.client, nid.ID, nid.Version)
		if err != nil {
			return err
		}
		return reg.client.add(nid.ID, obj)

	default:
		return reg.unknownOp(msg.Op())
	}
}

func (reg *registry) destroy() {}

func (reg *registry) global(g *global) {
	ev := reg.event(0, "global")
	ev.WriteUint(g.name)
	ev.WriteString(g.iface)
	ev.WriteUint(g.version)
	reg.send(ev)
}

func (reg *registry) globalRemove(g *global) {
	ev := reg.event(1, "global_remove")
	ev.WriteUint(g.name)
	reg.send(ev)
}

// callback is a wl_callback. It is destroyed by the server as soon as
// it fires.
type callback struct {
	resource
	fired bool
}

func newCallback(c *Client, id uint32) *callback {
	return &callback{resource: resource{client: c, id: id, iface: "wl_callback", version: 1}}
}

func (cb *callback) dispatch(msg *wire.MessageBuffer) error {
	return cb.unknownOp(msg.Op())
}

func (cb *callback) destroy() {
	cb.fired = true
}

func (cb *callback) done(data uint32) {
	if cb.fired {
		return
	}
	cb.fired = true

	ev := cb.event(0, "done")
	ev.WriteUint(data)
	cb.send(ev)
	cb.client.remove(cb.id)
}
