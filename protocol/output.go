package protocol

import (
	"fmt"

	"deedles.dev/booth/internal/wire"
	"deedles.dev/booth/output"
	"golang.org/x/exp/slices"
)

const outputVersion = 4

const (
	modeCurrent   = 0x1
	modePreferred = 0x2
)

// outputGlobal is the wl_output global of one output.
type outputGlobal struct {
	global    *global
	out       *output.Output
	resources []*outputResource
}

// AddOutput advertises an output to clients.
func (s *Server) AddOutput(out *output.Output) {
	if _, ok := s.outputs[out.ID]; ok {
		return
	}

	og := outputGlobal{out: out}
	og.global = s.addGlobal("wl_output", outputVersion, func(c *Client, id, version uint32) (object, error) {
		res := outputResource{
			resource: resource{client: c, id: id, iface: "wl_output", version: version},
			global:   &og,
		}
		og.resources = append(og.resources, &res)
		res.sendAll()
		return &res, nil
	})
	og.global.output = &og
	s.outputs[out.ID] = og.global
}

// RemoveOutput withdraws an output's global. Objects that clients
// have already bound stay alive but receive no further events.
func (s *Server) RemoveOutput(id output.ID) {
	g, ok := s.outputs[id]
	if !ok {
		return
	}
	delete(s.outputs, id)
	s.removeGlobal(g)

	for _, surf := range s.surfaces {
		if i := slices.Index(surf.entered, id); i >= 0 {
			for _, res := range g.output.resourcesFor(surf.client) {
				ev := surf.event(1, "leave")
				ev.WriteObject(res.id)
				surf.send(ev)
			}
			surf.entered = slices.Delete(surf.entered, i, i+1)
		}
	}

	for _, res := range g.output.resources {
		res.global = nil
	}
	g.output.resources = nil
}

// UpdateOutput sends the current state of an output to every client
// that has bound it, after its mode or transform changed.
func (s *Server) UpdateOutput(id output.ID) {
	g, ok := s.outputs[id]
	if !ok {
		return
	}
	for _, res := range g.output.resources {
		res.sendAll()
	}
}

func (s *Server) outputResources(c *Client, id output.ID) []*outputResource {
	g, ok := s.outputs[id]
	if !ok {
		return nil
	}
	return g.output.resourcesFor(c)
}

func (og *outputGlobal) resourcesFor(c *Client) []*outputResource {
	var res []*outputResource
	for _, r := range og.resources {
		if r.client == c {
			res = append(res, r)
		}
	}
	return res
}

type outputResource struct {
	resource
	global *outputGlobal
}

func (res *outputResource) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // release
		res.client.remove(res.id)
		return nil

	default:
		return res.unknownOp(msg.Op())
	}
}

func (res *outputResource) destroy() {
	if res.global == nil {
		return
	}
	og := res.global
	og.resources = slices.DeleteFunc(og.resources, func(r *outputResource) bool { return r == res })
	res.global = nil
}

func (res *outputResource) sendAll() {
	out := res.global.out
	pos := out.Bounds().Min

	ev := res.event(0, "geometry")
	ev.WriteInt(int32(pos.X))
	ev.WriteInt(int32(pos.Y))
	ev.WriteInt(int32(out.PhysicalSize.X))
	ev.WriteInt(int32(out.PhysicalSize.Y))
	ev.WriteInt(0)
	ev.WriteString(out.Make)
	ev.WriteString(out.Model)
	ev.WriteInt(int32(out.Transform))
	res.send(ev)

	var flags uint32 = modeCurrent
	if out.Mode.Preferred {
		flags |= modePreferred
	}
	ev = res.event(1, "mode")
	ev.WriteUint(flags)
	ev.WriteInt(int32(out.Mode.Size.X))
	ev.WriteInt(int32(out.Mode.Size.Y))
	ev.WriteInt(int32(out.Mode.RefreshMHz))
	res.send(ev)

	if res.version >= 2 {
		ev = res.event(3, "scale")
		ev.WriteInt(1)
		res.send(ev)
	}
	if res.version >= 4 {
		ev = res.event(4, "name")
		ev.WriteString(out.Name)
		res.send(ev)

		ev = res.event(5, "description")
		ev.WriteString(fmt.Sprintf("%v %v (%v)", out.Make, out.Model, out.Name))
		res.send(ev)
	}
	if res.version >= 2 {
		res.send(res.event(2, "done"))
	}
}

// inert stands in for a wl_output whose global went away before the
// client bound it.
type inert struct {
	resource
}

func (in *inert) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() == 0 {
		in.client.remove(in.id)
	}
	return nil
}

func (in *inert) destroy() {}
