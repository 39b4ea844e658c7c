package protocol

import (
	"time"

	"deedles.dev/booth/internal/wire"
	"deedles.dev/booth/internal/xkb"
	"golang.org/x/exp/slices"
)

const virtualKeyboardManagerVersion = 1

// Error codes of zwp_virtual_keyboard_v1.
const virtualKeyboardErrNoKeymap = 0

type virtualKeyboardManager struct {
	resource
}

func bindVirtualKeyboardManager(c *Client, id, version uint32) (object, error) {
	return &virtualKeyboardManager{resource: resource{client: c, id: id, iface: "zwp_virtual_keyboard_manager_v1", version: version}}, nil
}

func (m *virtualKeyboardManager) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // create_virtual_keyboard
		seatID := msg.ReadObject()
		id := msg.ReadNewID()
		if err := msg.Err(); err != nil {
			return err
		}

		if _, ok := get[*seatResource](m.client, seatID); !ok {
			return m.errorf(errInvalidObject, "%v is not a seat", seatID)
		}
		vk := virtualKeyboard{resource: resource{client: m.client, id: id, iface: "zwp_virtual_keyboard_v1", version: m.version}}
		return m.client.add(id, &vk)

	default:
		return m.unknownOp(msg.Op())
	}
}

func (m *virtualKeyboardManager) destroy() {}

// virtualKeyboard lets a client, usually an on-screen keyboard, type
// into whichever surface has keyboard focus.
type virtualKeyboard struct {
	resource
	keymap *xkb.Keymap
	keys   []uint32
}

func (vk *virtualKeyboard) dispatch(msg *wire.MessageBuffer) error {
	router := vk.client.server.Router

	switch msg.Op() {
	case 0: // keymap
		format := msg.ReadUint()
		file := msg.ReadFile()
		size := msg.ReadUint()
		if file != nil {
			defer file.Close()
		}
		if err := msg.Err(); err != nil {
			return err
		}

		if format != keymapFormatXKBV1 {
			vk.client.log().WithField("format", format).Warnln("virtual keyboard keymap format not supported")
			return nil
		}
		km, err := xkb.Read(file, size)
		if err != nil {
			vk.client.log().WithError(err).Warnln("virtual keyboard keymap rejected")
			return nil
		}
		vk.release()
		vk.keymap = km
		return nil

	case 1: // key
		msg.ReadUint()
		key := msg.ReadUint()
		pressed := msg.ReadUint() == 1
		if err := msg.Err(); err != nil {
			return err
		}
		if vk.keymap == nil {
			return vk.errorf(virtualKeyboardErrNoKeymap, "key sent before a keymap")
		}

		i := slices.Index(vk.keys, key)
		switch {
		case pressed && i < 0:
			vk.keys = append(vk.keys, key)
		case !pressed && i >= 0:
			vk.keys = slices.Delete(vk.keys, i, i+1)
		}
		if router != nil {
			router.VirtualKey(time.Now(), vk.keymap, key, pressed)
		}
		return nil

	case 2: // modifiers
		mods := xkb.Modifiers{
			Depressed: msg.ReadUint(),
			Latched:   msg.ReadUint(),
			Locked:    msg.ReadUint(),
			Group:     msg.ReadUint(),
		}
		if err := msg.Err(); err != nil {
			return err
		}
		if vk.keymap == nil {
			return vk.errorf(virtualKeyboardErrNoKeymap, "modifiers sent before a keymap")
		}
		if router != nil {
			router.VirtualModifiers(vk.keymap, mods)
		}
		return nil

	case 3: // destroy
		vk.client.remove(vk.id)
		return nil

	default:
		return vk.unknownOp(msg.Op())
	}
}

// release lets go of every key still held and retires the keymap.
func (vk *virtualKeyboard) release() {
	if vk.keymap == nil {
		return
	}

	if router := vk.client.server.Router; router != nil {
		now := time.Now()
		for _, key := range vk.keys {
			router.VirtualKey(now, vk.keymap, key, false)
		}
		router.ReleaseKeymap(vk.keymap)
	}
	vk.keys = nil

	if err := vk.keymap.Close(); err != nil {
		vk.client.log().WithError(err).Debugln("close virtual keymap")
	}
	vk.keymap = nil
}

func (vk *virtualKeyboard) destroy() {
	vk.release()
}
