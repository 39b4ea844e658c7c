package protocol

import (
	"errors"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/wire"
	"deedles.dev/booth/scene"
)

// Error codes of wl_subcompositor.
const (
	subcompositorErrBadSurface = 0
	subcompositorErrBadParent  = 1
)

type subcompositor struct {
	resource
}

func bindSubcompositor(c *Client, id, version uint32) (object, error) {
	return &subcompositor{resource: resource{client: c, id: id, iface: "wl_subcompositor", version: version}}, nil
}

func (sub *subcompositor) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // destroy
		sub.client.remove(sub.id)
		return nil

	case 1: // get_subsurface
		id := msg.ReadNewID()
		surfID, parentID := msg.ReadObject(), msg.ReadObject()

		surf, ok := get[*surface](sub.client, surfID)
		if !ok {
			return sub.errorf(subcompositorErrBadSurface, "%v is not a surface", surfID)
		}
		parent, ok := get[*surface](sub.client, parentID)
		if !ok {
			return sub.errorf(subcompositorErrBadParent, "%v is not a surface", parentID)
		}

		err := sub.client.server.Scene.SetSubsurfaceRole(surf.sid, parent.sid)
		switch {
		case errors.Is(err, scene.ErrRole):
			return sub.errorf(subcompositorErrBadSurface, "%v", err)
		case err != nil:
			return sub.errorf(subcompositorErrBadParent, "%v", err)
		}

		return sub.client.add(id, &subsurface{
			resource: resource{client: sub.client, id: id, iface: "wl_subsurface", version: sub.version},
			surface:  surf,
		})

	default:
		return sub.unknownOp(msg.Op())
	}
}

func (sub *subcompositor) destroy() {}

// subsurface positions a surface relative to its parent. Subsurfaces
// are always treated as desynchronized: their commits apply
// immediately, regardless of set_sync.
type subsurface struct {
	resource
	surface *surface
}

func (sub *subsurface) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // destroy
		sub.client.remove(sub.id)
		return nil

	case 1: // set_position
		x, y := msg.ReadInt(), msg.ReadInt()
		sub.client.server.Scene.SetSubsurfacePosition(sub.surface.sid, geom.Pt(int(x), int(y)))
		return nil

	case 2, 3: // place_above, place_below
		msg.ReadObject()
		return nil

	case 4, 5: // set_sync, set_desync
		return nil

	default:
		return sub.unknownOp(msg.Op())
	}
}

// destroy hides the surface. It keeps its role, so that it cannot be
// given a different one.
func (sub *subsurface) destroy() {
	if sub.surface.dead {
		return
	}
	sub.surface.seq++
	sub.client.server.Scene.Commit(sub.surface.sid, scene.Pending{Seq: sub.surface.seq, Attached: true})
}
