package protocol

import (
	"encoding/binary"
	"errors"
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/wire"
	"deedles.dev/booth/internal/xkb"
	"deedles.dev/booth/scene"
	"deedles.dev/booth/seat"
	"golang.org/x/exp/slices"
)

const seatVersion = 7

const (
	pointerErrRole = 0

	keymapFormatXKBV1 = 1
)

// clientInput holds a client's pointer, keyboard, and touch objects.
// It delivers input to all of them at once, since a client may
// create several of each.
type clientInput struct {
	client    *Client
	seats     []*seatResource
	pointers  []*pointer
	keyboards []*keyboard
	touches   []*touch

	dataDevices []*dataDevice
}

func (c *Client) input() *clientInput {
	if c.inputs == nil {
		c.inputs = &clientInput{client: c}
	}
	return c.inputs
}

// UpdateCapabilities tells every client about a change in the kinds
// of input devices that are available.
func (s *Server) UpdateCapabilities() {
	for c := range s.clients {
		if c.inputs == nil {
			continue
		}
		for _, res := range c.inputs.seats {
			res.capabilities()
		}
	}
}

type seatResource struct {
	resource
}

func bindSeat(c *Client, id, version uint32) (object, error) {
	res := seatResource{resource: resource{client: c, id: id, iface: "wl_seat", version: version}}
	in := c.input()
	in.seats = append(in.seats, &res)

	res.capabilities()
	if version >= 2 {
		ev := res.event(1, "name")
		ev.WriteString(c.server.Seat.Name)
		res.send(ev)
	}
	return &res, nil
}

func (res *seatResource) capabilities() {
	ev := res.event(0, "capabilities")
	ev.WriteUint(uint32(res.client.server.Seat.Capabilities()))
	res.send(ev)
}

func (res *seatResource) dispatch(msg *wire.MessageBuffer) error {
	in := res.client.input()
	switch msg.Op() {
	case 0: // get_pointer
		id := msg.ReadNewID()
		p := pointer{resource: resource{client: res.client, id: id, iface: "wl_pointer", version: res.version}}
		if err := res.client.add(id, &p); err != nil {
			return err
		}
		in.pointers = append(in.pointers, &p)
		return nil

	case 1: // get_keyboard
		id := msg.ReadNewID()
		k := keyboard{resource: resource{client: res.client, id: id, iface: "wl_keyboard", version: res.version}}
		if err := res.client.add(id, &k); err != nil {
			return err
		}
		in.keyboards = append(in.keyboards, &k)
		k.init()
		return nil

	case 2: // get_touch
		id := msg.ReadNewID()
		t := touch{resource: resource{client: res.client, id: id, iface: "wl_touch", version: res.version}}
		if err := res.client.add(id, &t); err != nil {
			return err
		}
		in.touches = append(in.touches, &t)
		return nil

	case 3: // release
		res.client.remove(res.id)
		return nil

	default:
		return res.unknownOp(msg.Op())
	}
}

func (res *seatResource) destroy() {
	in := res.client.input()
	in.seats = slices.DeleteFunc(in.seats, func(v *seatResource) bool { return v == res })
}

type pointer struct {
	resource
}

func (p *pointer) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // set_cursor
		msg.ReadUint()
		surfID := msg.ReadObject()
		hotspot := geom.Pt(int(msg.ReadInt()), int(msg.ReadInt()))

		server := p.client.server
		var sid scene.SurfaceID
		if surfID != 0 {
			surf, ok := get[*surface](p.client, surfID)
			if !ok {
				return p.errorf(errInvalidObject, "%v is not a surface", surfID)
			}
			err := server.Scene.SetCursorRole(surf.sid, hotspot)
			if errors.Is(err, scene.ErrRole) {
				return p.errorf(pointerErrRole, "%v", err)
			}
			if err != nil {
				return surf.sceneError(err)
			}
			sid = surf.sid
		}

		if server.Router != nil {
			server.Router.SetCursorImage(p.client, sid)
		}
		return nil

	case 1: // release
		p.client.remove(p.id)
		return nil

	default:
		return p.unknownOp(msg.Op())
	}
}

func (p *pointer) destroy() {
	in := p.client.input()
	in.pointers = slices.DeleteFunc(in.pointers, func(v *pointer) bool { return v == p })
}

type keyboard struct {
	resource

	// keymap was last sent to the client.
	keymap *xkb.Keymap
}

func (k *keyboard) init() {
	server := k.client.server
	k.setKeymap(server.Seat.Keymap())

	if k.version >= 4 {
		ev := k.event(5, "repeat_info")
		ev.WriteInt(server.config.RepeatRate)
		ev.WriteInt(server.config.RepeatDelay)
		k.send(ev)
	}

	focus := server.Seat.KeyboardFocus()
	if surf, ok := server.surfaces[focus]; ok && surf.client == k.client {
		serial := server.Seat.NextSerial()
		k.enter(serial, surf.id, server.Seat.PressedKeys())
		k.modifiers(server.Seat.NextSerial(), server.Seat.Modifiers())
	}
}

func (k *keyboard) setKeymap(km *xkb.Keymap) {
	if km == nil || km == k.keymap {
		return
	}
	k.keymap = km

	file, size := km.File()
	ev := k.event(0, "keymap")
	ev.WriteUint(keymapFormatXKBV1)
	ev.WriteFile(file)
	ev.WriteUint(size)
	k.send(ev)
}

func (k *keyboard) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // release
		k.client.remove(k.id)
		return nil

	default:
		return k.unknownOp(msg.Op())
	}
}

func (k *keyboard) destroy() {
	in := k.client.input()
	in.keyboards = slices.DeleteFunc(in.keyboards, func(v *keyboard) bool { return v == k })
}

func (k *keyboard) enter(serial, surface uint32, keys []uint32) {
	array := make([]byte, 4*len(keys))
	for i, key := range keys {
		binary.NativeEndian.PutUint32(array[4*i:], key)
	}

	ev := k.event(1, "enter")
	ev.WriteUint(serial)
	ev.WriteObject(surface)
	ev.WriteArray(array)
	k.send(ev)
}

func (k *keyboard) modifiers(serial uint32, mods xkb.Modifiers) {
	ev := k.event(4, "modifiers")
	ev.WriteUint(serial)
	ev.WriteUint(mods.Depressed)
	ev.WriteUint(mods.Latched)
	ev.WriteUint(mods.Locked)
	ev.WriteUint(mods.Group)
	k.send(ev)
}

type touch struct {
	resource
}

func (t *touch) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // release
		t.client.remove(t.id)
		return nil

	default:
		return t.unknownOp(msg.Op())
	}
}

func (t *touch) destroy() {
	in := t.client.input()
	in.touches = slices.DeleteFunc(in.touches, func(v *touch) bool { return v == t })
}

func msec(t time.Time) uint32 {
	return uint32(t.UnixMilli())
}

func boolState(pressed bool) uint32 {
	if pressed {
		return 1
	}
	return 0
}

// surfaceID returns the client's object ID for a scene surface, or
// zero if the surface is gone or belongs to someone else.
func (in *clientInput) surfaceID(id scene.SurfaceID) uint32 {
	surf, ok := in.client.server.surfaces[id]
	if !ok || surf.client != in.client {
		return 0
	}
	return surf.id
}

func (in *clientInput) PointerEnter(serial uint32, surface scene.SurfaceID, p geom.Point[float64]) {
	id := in.surfaceID(surface)
	if id == 0 {
		return
	}
	for _, ptr := range in.pointers {
		ev := ptr.event(0, "enter")
		ev.WriteUint(serial)
		ev.WriteObject(id)
		ev.WriteFixed(wire.FixedFloat(p.X))
		ev.WriteFixed(wire.FixedFloat(p.Y))
		ptr.send(ev)
	}
}

func (in *clientInput) PointerLeave(serial uint32, surface scene.SurfaceID) {
	id := in.surfaceID(surface)
	if id == 0 {
		return
	}
	for _, ptr := range in.pointers {
		ev := ptr.event(1, "leave")
		ev.WriteUint(serial)
		ev.WriteObject(id)
		ptr.send(ev)
	}
}

func (in *clientInput) PointerMotion(t time.Time, p geom.Point[float64]) {
	for _, ptr := range in.pointers {
		ev := ptr.event(2, "motion")
		ev.WriteUint(msec(t))
		ev.WriteFixed(wire.FixedFloat(p.X))
		ev.WriteFixed(wire.FixedFloat(p.Y))
		ptr.send(ev)
	}
}

func (in *clientInput) PointerButton(serial uint32, t time.Time, button uint32, pressed bool) {
	for _, ptr := range in.pointers {
		ev := ptr.event(3, "button")
		ev.WriteUint(serial)
		ev.WriteUint(msec(t))
		ev.WriteUint(button)
		ev.WriteUint(boolState(pressed))
		ptr.send(ev)
	}
}

func (in *clientInput) PointerAxis(t time.Time, axis seat.Axis, value float64, discrete int32, source seat.AxisSource) {
	for _, ptr := range in.pointers {
		if ptr.version >= 5 {
			ev := ptr.event(6, "axis_source")
			ev.WriteUint(uint32(source))
			ptr.send(ev)

			if value == 0 {
				ev := ptr.event(7, "axis_stop")
				ev.WriteUint(msec(t))
				ev.WriteUint(uint32(axis))
				ptr.send(ev)
				continue
			}

			if discrete != 0 {
				ev := ptr.event(8, "axis_discrete")
				ev.WriteUint(uint32(axis))
				ev.WriteInt(discrete)
				ptr.send(ev)
			}
		}

		ev := ptr.event(4, "axis")
		ev.WriteUint(msec(t))
		ev.WriteUint(uint32(axis))
		ev.WriteFixed(wire.FixedFloat(value))
		ptr.send(ev)
	}
}

func (in *clientInput) PointerFrame() {
	for _, ptr := range in.pointers {
		if ptr.version >= 5 {
			ptr.send(ptr.event(5, "frame"))
		}
	}
}

func (in *clientInput) KeyboardEnter(serial uint32, surface scene.SurfaceID, keys []uint32) {
	id := in.surfaceID(surface)
	if id == 0 {
		return
	}
	for _, dev := range in.dataDevices {
		dev.selection(in.client.server.selection)
	}
	for _, k := range in.keyboards {
		k.enter(serial, id, keys)
	}
}

func (in *clientInput) KeyboardLeave(serial uint32, surface scene.SurfaceID) {
	id := in.surfaceID(surface)
	if id == 0 {
		return
	}
	for _, k := range in.keyboards {
		ev := k.event(2, "leave")
		ev.WriteUint(serial)
		ev.WriteObject(id)
		k.send(ev)
	}
}

func (in *clientInput) Key(serial uint32, t time.Time, key uint32, pressed bool) {
	for _, k := range in.keyboards {
		ev := k.event(3, "key")
		ev.WriteUint(serial)
		ev.WriteUint(msec(t))
		ev.WriteUint(key)
		ev.WriteUint(boolState(pressed))
		k.send(ev)
	}
}

func (in *clientInput) Keymap(km *xkb.Keymap) {
	for _, k := range in.keyboards {
		k.setKeymap(km)
	}
}

func (in *clientInput) Modifiers(serial uint32, mods xkb.Modifiers) {
	for _, k := range in.keyboards {
		k.modifiers(serial, mods)
	}
}

func (in *clientInput) TouchDown(serial uint32, t time.Time, surface scene.SurfaceID, id int32, p geom.Point[float64]) {
	sid := in.surfaceID(surface)
	if sid == 0 {
		return
	}
	for _, tch := range in.touches {
		ev := tch.event(0, "down")
		ev.WriteUint(serial)
		ev.WriteUint(msec(t))
		ev.WriteObject(sid)
		ev.WriteInt(id)
		ev.WriteFixed(wire.FixedFloat(p.X))
		ev.WriteFixed(wire.FixedFloat(p.Y))
		tch.send(ev)
	}
}

func (in *clientInput) TouchUp(serial uint32, t time.Time, id int32) {
	for _, tch := range in.touches {
		ev := tch.event(1, "up")
		ev.WriteUint(serial)
		ev.WriteUint(msec(t))
		ev.WriteInt(id)
		tch.send(ev)
	}
}

func (in *clientInput) TouchMotion(t time.Time, id int32, p geom.Point[float64]) {
	for _, tch := range in.touches {
		ev := tch.event(2, "motion")
		ev.WriteUint(msec(t))
		ev.WriteInt(id)
		ev.WriteFixed(wire.FixedFloat(p.X))
		ev.WriteFixed(wire.FixedFloat(p.Y))
		tch.send(ev)
	}
}

func (in *clientInput) TouchFrame() {
	for _, tch := range in.touches {
		tch.send(tch.event(3, "frame"))
	}
}

func (in *clientInput) TouchCancel() {
	for _, tch := range in.touches {
		tch.send(tch.event(4, "cancel"))
	}
}
