package protocol

import (
	"errors"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/wire"
	"deedles.dev/booth/output"
	"deedles.dev/booth/scene"
	"golang.org/x/exp/slices"
)

const layerShellVersion = 4

// Error codes of zwlr_layer_shell_v1.
const (
	layerShellErrRole               = 0
	layerShellErrInvalidLayer       = 1
	layerShellErrAlreadyConstructed = 2
)

// Error codes of zwlr_layer_surface_v1.
const (
	layerSurfaceErrInvalidSurfaceState        = 0
	layerSurfaceErrInvalidSize                = 1
	layerSurfaceErrInvalidAnchor              = 2
	layerSurfaceErrInvalidKeyboardInteractive = 3
)

type layerShell struct {
	resource
}

func bindLayerShell(c *Client, id, version uint32) (object, error) {
	return &layerShell{resource: resource{client: c, id: id, iface: "zwlr_layer_shell_v1", version: version}}, nil
}

func (shell *layerShell) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // get_layer_surface
		id := msg.ReadNewID()
		surfID := msg.ReadObject()
		outID := msg.ReadObject()
		layer := scene.Layer(msg.ReadUint())
		namespace := msg.ReadString()
		if err := msg.Err(); err != nil {
			return err
		}

		surf, ok := get[*surface](shell.client, surfID)
		if !ok {
			return shell.errorf(errInvalidObject, "%v is not a surface", surfID)
		}
		if surf.role != nil {
			return shell.errorf(layerShellErrRole, "surface already has a role object")
		}
		if s := shell.client.server.Scene.Get(surf.sid); s != nil && s.Role() != scene.RoleNone {
			return shell.errorf(layerShellErrRole, "surface is a %v", s.Role())
		}
		if surf.attachedSet && surf.attached != nil {
			return shell.errorf(layerShellErrAlreadyConstructed, "surface has a buffer attached")
		}
		if !layer.Valid() {
			return shell.errorf(layerShellErrInvalidLayer, "invalid layer %v", layer)
		}

		var out output.ID
		if outID != 0 {
			res, ok := get[*outputResource](shell.client, outID)
			if ok && res.global != nil {
				out = res.global.out.ID
			}
		}

		ls := layerSurface{
			resource: resource{client: shell.client, id: id, iface: "zwlr_layer_surface_v1", version: shell.version},
			surface:  surf,
			state: scene.LayerState{
				Layer:     layer,
				Namespace: namespace,
				Output:    out,
			},
		}
		if err := shell.client.add(id, &ls); err != nil {
			return err
		}
		surf.role = &ls
		return nil

	case 1: // destroy
		shell.client.remove(shell.id)
		return nil

	default:
		return shell.unknownOp(msg.Op())
	}
}

func (shell *layerShell) destroy() {}

// layerSurface is an anchored overlay such as a panel or an on-screen
// keyboard.
type layerSurface struct {
	resource
	surface *surface

	// state is the pending state, sent to the scene on every commit.
	state   scene.LayerState
	changed bool

	serials []uint32
	acked   bool
	roleSet bool
	closed  bool
	dead    bool
}

func (ls *layerSurface) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // set_size
		w, h := msg.ReadUint(), msg.ReadUint()
		ls.state.Size = geom.Pt(int(w), int(h))
		ls.changed = true
		return nil

	case 1: // set_anchor
		anchor := geom.Edges(msg.ReadUint())
		if anchor&^geom.EdgeAll != 0 {
			return ls.errorf(layerSurfaceErrInvalidAnchor, "invalid anchor %#x", uint32(anchor))
		}
		ls.state.Anchor = anchor
		ls.changed = true
		return nil

	case 2: // set_exclusive_zone
		ls.state.ExclusiveZone = msg.ReadInt()
		ls.changed = true
		return nil

	case 3: // set_margin
		ls.state.Margin = scene.Margins{
			Top:    int(msg.ReadInt()),
			Right:  int(msg.ReadInt()),
			Bottom: int(msg.ReadInt()),
			Left:   int(msg.ReadInt()),
		}
		ls.changed = true
		return nil

	case 4: // set_keyboard_interactivity
		i := scene.Interactivity(msg.ReadUint())
		switch {
		case i > scene.InteractivityOnDemand:
			return ls.errorf(layerSurfaceErrInvalidKeyboardInteractive, "invalid keyboard interactivity %v", i)
		case i == scene.InteractivityOnDemand && ls.version < 4:
			return ls.errorf(layerSurfaceErrInvalidKeyboardInteractive, "on demand interactivity requires version 4")
		}
		ls.state.Interactivity = i
		ls.changed = true
		return nil

	case 5: // get_popup
		msg.ReadObject()
		return nil

	case 6: // ack_configure
		serial := msg.ReadUint()
		i := slices.Index(ls.serials, serial)
		if i < 0 {
			return ls.errorf(layerSurfaceErrInvalidSurfaceState, "unknown configure serial %v", serial)
		}
		ls.serials = ls.serials[i+1:]
		ls.acked = true
		return nil

	case 7: // destroy
		ls.client.remove(ls.id)
		return nil

	case 8: // set_layer
		layer := scene.Layer(msg.ReadUint())
		if !layer.Valid() {
			return ls.errorf(layerShellErrInvalidLayer, "invalid layer %v", layer)
		}
		ls.state.Layer = layer
		ls.changed = true
		return nil

	default:
		return ls.unknownOp(msg.Op())
	}
}

func (ls *layerSurface) inert() bool {
	return ls.closed
}

func (ls *layerSurface) commit(p *scene.Pending) error {
	if ls.state.Size.X == 0 && !ls.state.Anchor.Horizontal() {
		return ls.errorf(layerSurfaceErrInvalidSize, "width is 0 but the surface is not anchored to both the left and right edges")
	}
	if ls.state.Size.Y == 0 && !ls.state.Anchor.Vertical() {
		return ls.errorf(layerSurfaceErrInvalidSize, "height is 0 but the surface is not anchored to both the top and bottom edges")
	}
	if p.Buffer != nil && !ls.acked {
		return ls.errorf(layerSurfaceErrInvalidSurfaceState, "buffer committed before the first configure was acknowledged")
	}

	if ls.changed || !ls.roleSet {
		state := ls.state
		p.Layer = &state
		ls.changed = false
	}
	return nil
}

func (ls *layerSurface) committed() error {
	if ls.roleSet || ls.closed {
		return nil
	}
	ls.roleSet = true

	err := ls.client.server.Scene.SetLayerRole(ls.surface.sid, ls, ls.state)
	if errors.Is(err, scene.ErrRole) {
		return ls.errorf(layerShellErrRole, "%v", err)
	}
	if err != nil {
		return ls.surface.sceneError(err)
	}
	return nil
}

func (ls *layerSurface) destroy() {
	if ls.dead {
		return
	}
	ls.dead = true
	if ls.surface.role == ls {
		ls.surface.role = nil
	}

	surf := ls.surface
	if surf.dead || !ls.roleSet || ls.closed {
		return
	}
	surf.seq++
	ls.client.server.Scene.Commit(surf.sid, scene.Pending{Seq: surf.seq, Attached: true})
}

func (ls *layerSurface) Configure(size geom.Point[int]) {
	if ls.dead || ls.closed {
		return
	}

	serial := ls.client.server.Seat.NextSerial()
	ls.serials = append(ls.serials, serial)

	ev := ls.event(0, "configure")
	ev.WriteUint(serial)
	ev.WriteUint(uint32(size.X))
	ev.WriteUint(uint32(size.Y))
	ls.send(ev)
}

// Close tells the client that the surface has been removed from the
// scene, which happens when its output goes away. The surface stays
// inert until the client destroys it.
func (ls *layerSurface) Close() {
	if ls.dead || ls.closed {
		return
	}
	ls.closed = true
	ls.send(ls.event(1, "closed"))
}
