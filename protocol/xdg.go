package protocol

import (
	"encoding/binary"
	"errors"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/wire"
	"deedles.dev/booth/scene"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

const wmBaseVersion = 3

// Error codes of xdg_wm_base.
const (
	wmBaseErrRole = 0
)

// Error codes of xdg_surface.
const (
	xdgSurfaceErrNotConstructed     = 1
	xdgSurfaceErrAlreadyConstructed = 2
	xdgSurfaceErrUnconfiguredBuffer = 3
	xdgSurfaceErrInvalidSerial      = 4
	xdgSurfaceErrDefunctRole        = 6
)

// States of xdg_toplevel.
const (
	toplevelStateFullscreen = 2
	toplevelStateActivated  = 4
)

type wmBase struct {
	resource
}

func bindWmBase(c *Client, id, version uint32) (object, error) {
	return &wmBase{resource: resource{client: c, id: id, iface: "xdg_wm_base", version: version}}, nil
}

func (wm *wmBase) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // destroy
		wm.client.remove(wm.id)
		return nil

	case 1: // create_positioner
		id := msg.ReadNewID()
		return wm.client.add(id, &positioner{resource: resource{client: wm.client, id: id, iface: "xdg_positioner", version: wm.version}})

	case 2: // get_xdg_surface
		id := msg.ReadNewID()
		surfID := msg.ReadObject()
		surf, ok := get[*surface](wm.client, surfID)
		if !ok {
			return wm.errorf(errInvalidObject, "%v is not a surface", surfID)
		}
		if surf.role != nil {
			return wm.errorf(wmBaseErrRole, "surface already has a role object")
		}
		if s := wm.client.server.Scene.Get(surf.sid); s != nil && s.Role() != scene.RoleNone && s.Role() != scene.RoleApplication {
			return wm.errorf(wmBaseErrRole, "surface is a %v", s.Role())
		}
		if surf.attachedSet && surf.attached != nil {
			return wm.errorf(xdgSurfaceErrUnconfiguredBuffer, "surface has a buffer attached")
		}

		xs := xdgSurface{
			resource: resource{client: wm.client, id: id, iface: "xdg_surface", version: wm.version},
			surface:  surf,
		}
		if err := wm.client.add(id, &xs); err != nil {
			return err
		}
		surf.role = &xs
		return nil

	case 3: // pong
		msg.ReadUint()
		return nil

	default:
		return wm.unknownOp(msg.Op())
	}
}

func (wm *wmBase) destroy() {}

// positioner is accepted but never consulted, because popups are not
// shown.
type positioner struct {
	resource
}

func (pos *positioner) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() == 0 {
		pos.client.remove(pos.id)
	}
	return nil
}

func (pos *positioner) destroy() {}

type xdgSurface struct {
	resource
	surface  *surface
	toplevel *toplevel
	popup    *popup

	serials []uint32
	acked   bool
	roleSet bool
	dead    bool
}

func (xs *xdgSurface) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // destroy
		if xs.toplevel != nil || xs.popup != nil {
			return xs.errorf(xdgSurfaceErrDefunctRole, "destroyed before its role object")
		}
		xs.client.remove(xs.id)
		return nil

	case 1: // get_toplevel
		id := msg.ReadNewID()
		if xs.toplevel != nil || xs.popup != nil || xs.roleSet {
			return xs.errorf(xdgSurfaceErrAlreadyConstructed, "surface already has a role")
		}
		top := toplevel{
			resource: resource{client: xs.client, id: id, iface: "xdg_toplevel", version: xs.version},
			xdg:      xs,
		}
		if err := xs.client.add(id, &top); err != nil {
			return err
		}
		xs.toplevel = &top
		return nil

	case 2: // get_popup
		id := msg.ReadNewID()
		msg.ReadObject()
		msg.ReadObject()
		if xs.toplevel != nil || xs.popup != nil || xs.roleSet {
			return xs.errorf(xdgSurfaceErrAlreadyConstructed, "surface already has a role")
		}
		pop := popup{
			resource: resource{client: xs.client, id: id, iface: "xdg_popup", version: xs.version},
			xdg:      xs,
		}
		if err := xs.client.add(id, &pop); err != nil {
			return err
		}
		xs.popup = &pop

		// Only fullscreen applications are shown, so there is nothing
		// for a popup to be placed relative to.
		pop.send(pop.event(1, "popup_done"))
		return nil

	case 3: // set_window_geometry
		msg.ReadInt()
		msg.ReadInt()
		msg.ReadInt()
		msg.ReadInt()
		return nil

	case 4: // ack_configure
		serial := msg.ReadUint()
		i := slices.Index(xs.serials, serial)
		if i < 0 {
			return xs.errorf(xdgSurfaceErrInvalidSerial, "unknown configure serial %v", serial)
		}
		xs.serials = xs.serials[i+1:]
		xs.acked = true
		return nil

	default:
		return xs.unknownOp(msg.Op())
	}
}

func (xs *xdgSurface) destroy() {
	if xs.dead {
		return
	}
	xs.dead = true
	if xs.toplevel != nil {
		xs.toplevel.destroy()
	}
	if xs.popup != nil {
		xs.popup.destroy()
	}
	if xs.surface.role == xs {
		xs.surface.role = nil
	}
}

// inert reports whether the surface is a popup. A dismissed popup
// never shows anything.
func (xs *xdgSurface) inert() bool {
	return xs.popup != nil
}

func (xs *xdgSurface) commit(p *scene.Pending) error {
	switch {
	case xs.toplevel != nil:
		if p.Buffer != nil && !xs.acked {
			return xs.errorf(xdgSurfaceErrUnconfiguredBuffer, "buffer committed before the first configure was acknowledged")
		}
		return nil

	case xs.popup != nil:
		return nil

	default:
		return xs.errorf(xdgSurfaceErrNotConstructed, "committed without a role")
	}
}

func (xs *xdgSurface) committed() error {
	if xs.roleSet || xs.toplevel == nil {
		return nil
	}
	xs.roleSet = true

	err := xs.client.server.Scene.SetApplicationRole(xs.surface.sid, xs.toplevel)
	if errors.Is(err, scene.ErrRole) {
		return xs.errorf(wmBaseErrRole, "%v", err)
	}
	if err != nil {
		return xs.surface.sceneError(err)
	}
	return nil
}

func (xs *xdgSurface) configure() {
	serial := xs.client.server.Seat.NextSerial()
	xs.serials = append(xs.serials, serial)

	ev := xs.event(0, "configure")
	ev.WriteUint(serial)
	xs.send(ev)
}

// toplevel is an application window. It is always fullscreen.
type toplevel struct {
	resource
	xdg   *xdgSurface
	title string
	appID string
	size  geom.Point[int]
	dead  bool

	decoration *toplevelDecoration
}

func (top *toplevel) log() *logrus.Entry {
	return top.client.log().WithFields(logrus.Fields{
		"app_id": top.appID,
		"title":  top.title,
	})
}

func (top *toplevel) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // destroy
		if top.decoration != nil {
			return top.decoration.errorf(decorationErrOrphaned, "toplevel destroyed before its decoration")
		}
		top.client.remove(top.id)
		return nil

	case 1: // set_parent
		msg.ReadObject()
		return nil

	case 2: // set_title
		top.title = msg.ReadString()
		return nil

	case 3: // set_app_id
		top.appID = msg.ReadString()
		return nil

	case 9, 10, 11, 12: // set_maximized, unset_maximized, set_fullscreen, unset_fullscreen
		if msg.Op() == 11 {
			msg.ReadObject()
		}
		// The window stays fullscreen whatever is asked, but the
		// client is owed a configure in response.
		if top.xdg.roleSet {
			top.Configure(top.size)
		}
		return nil

	case 4, 5, 6, 7, 8, 13: // show_window_menu, move, resize, set_max_size, set_min_size, set_minimized
		return nil

	default:
		return top.unknownOp(msg.Op())
	}
}

// destroy unmaps the window. The surface keeps its application role.
func (top *toplevel) destroy() {
	if top.dead {
		return
	}
	top.dead = true
	top.xdg.toplevel = nil
	if top.decoration != nil {
		top.decoration.toplevel = nil
		top.decoration = nil
	}

	surf := top.xdg.surface
	if surf.dead || !top.xdg.roleSet {
		return
	}
	surf.seq++
	top.client.server.Scene.Commit(surf.sid, scene.Pending{Seq: surf.seq, Attached: true})
}

func (top *toplevel) Configure(size geom.Point[int]) {
	if top.dead {
		return
	}
	top.size = size

	states := make([]byte, 8)
	binary.NativeEndian.PutUint32(states[0:], toplevelStateFullscreen)
	binary.NativeEndian.PutUint32(states[4:], toplevelStateActivated)

	ev := top.event(0, "configure")
	ev.WriteInt(int32(size.X))
	ev.WriteInt(int32(size.Y))
	ev.WriteArray(states)
	top.send(ev)

	top.xdg.configure()
	top.log().WithField("size", size).Debugln("configured toplevel")
}

func (top *toplevel) Close() {
	if top.dead {
		return
	}
	top.send(top.event(1, "close"))
}

type popup struct {
	resource
	xdg  *xdgSurface
	dead bool
}

func (pop *popup) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // destroy
		pop.client.remove(pop.id)
		return nil

	case 1: // grab
		msg.ReadObject()
		msg.ReadUint()
		return nil

	case 2: // reposition
		msg.ReadObject()
		msg.ReadUint()
		return nil

	default:
		return pop.unknownOp(msg.Op())
	}
}

func (pop *popup) destroy() {
	if pop.dead {
		return
	}
	pop.dead = true
	pop.xdg.popup = nil
}
