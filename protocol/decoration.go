package protocol

import "deedles.dev/booth/internal/wire"

const decorationManagerVersion = 1

// Error codes of zxdg_toplevel_decoration_v1.
const (
	decorationErrUnconfiguredBuffer = 0
	decorationErrAlreadyConstructed = 1
	decorationErrOrphaned           = 2
)

// Modes of zxdg_toplevel_decoration_v1.
const decorationModeServerSide = 2

type decorationManager struct {
	resource
}

func bindDecorationManager(c *Client, id, version uint32) (object, error) {
	return &decorationManager{resource: resource{client: c, id: id, iface: "zxdg_decoration_manager_v1", version: version}}, nil
}

func (m *decorationManager) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // destroy
		m.client.remove(m.id)
		return nil

	case 1: // get_toplevel_decoration
		id := msg.ReadNewID()
		topID := msg.ReadObject()
		if err := msg.Err(); err != nil {
			return err
		}

		top, ok := get[*toplevel](m.client, topID)
		if !ok {
			return m.errorf(errInvalidObject, "%v is not a toplevel", topID)
		}
		deco := toplevelDecoration{
			resource: resource{client: m.client, id: id, iface: "zxdg_toplevel_decoration_v1", version: m.version},
			toplevel: top,
		}
		if top.decoration != nil {
			return deco.errorf(decorationErrAlreadyConstructed, "toplevel already has a decoration")
		}
		if surf := top.xdg.surface; surf.attachedSet && surf.attached != nil && !top.xdg.acked {
			return deco.errorf(decorationErrUnconfiguredBuffer, "toplevel has a buffer attached")
		}
		if err := m.client.add(id, &deco); err != nil {
			return err
		}
		top.decoration = &deco
		deco.configure()
		return nil

	default:
		return m.unknownOp(msg.Op())
	}
}

func (m *decorationManager) destroy() {}

// toplevelDecoration always settles on server-side decorations, which
// for a fullscreen window means none at all.
type toplevelDecoration struct {
	resource
	toplevel *toplevel
}

func (deco *toplevelDecoration) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // destroy
		deco.client.remove(deco.id)
		return nil

	case 1: // set_mode
		msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		if err := deco.orphaned(); err != nil {
			return err
		}
		deco.configure()
		return nil

	case 2: // unset_mode
		if err := deco.orphaned(); err != nil {
			return err
		}
		deco.configure()
		return nil

	default:
		return deco.unknownOp(msg.Op())
	}
}

func (deco *toplevelDecoration) orphaned() error {
	if deco.toplevel == nil {
		return deco.errorf(decorationErrOrphaned, "toplevel was destroyed")
	}
	return nil
}

// configure sends the mode. A window that has already been configured
// gets a fresh configure sequence so the mode can be acknowledged.
func (deco *toplevelDecoration) configure() {
	ev := deco.event(0, "configure")
	ev.WriteUint(decorationModeServerSide)
	deco.send(ev)

	top := deco.toplevel
	if top.xdg.roleSet {
		top.Configure(top.size)
	}
}

func (deco *toplevelDecoration) destroy() {
	if top := deco.toplevel; top != nil && top.decoration == deco {
		top.decoration = nil
	}
	deco.toplevel = nil
}
