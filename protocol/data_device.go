package protocol

import (
	"os"

	"deedles.dev/booth/internal/wire"
	"golang.org/x/exp/slices"
)

const dataDeviceManagerVersion = 3

// Error codes of wl_data_device.
const dataDeviceErrRole = 0

type dataDeviceManager struct {
	resource
}

func bindDataDeviceManager(c *Client, id, version uint32) (object, error) {
	return &dataDeviceManager{resource: resource{client: c, id: id, iface: "wl_data_device_manager", version: version}}, nil
}

func (m *dataDeviceManager) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // create_data_source
		id := msg.ReadNewID()
		src := dataSource{resource: resource{client: m.client, id: id, iface: "wl_data_source", version: m.version}}
		return m.client.add(id, &src)

	case 1: // get_data_device
		id := msg.ReadNewID()
		seatID := msg.ReadObject()
		if err := msg.Err(); err != nil {
			return err
		}
		if _, ok := get[*seatResource](m.client, seatID); !ok {
			return m.errorf(errInvalidObject, "%v is not a seat", seatID)
		}

		dev := dataDevice{resource: resource{client: m.client, id: id, iface: "wl_data_device", version: m.version}}
		if err := m.client.add(id, &dev); err != nil {
			return err
		}
		in := m.client.input()
		in.dataDevices = append(in.dataDevices, &dev)

		server := m.client.server
		if server.focusedClient() == m.client {
			dev.selection(server.selection)
		}
		return nil

	default:
		return m.unknownOp(msg.Op())
	}
}

func (m *dataDeviceManager) destroy() {}

// dataSource is data that a client offers to others, such as the
// contents of its clipboard.
type dataSource struct {
	resource
	mimeTypes []string
	dead      bool
}

func (src *dataSource) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // offer
		mime := msg.ReadString()
		if err := msg.Err(); err != nil {
			return err
		}
		if !slices.Contains(src.mimeTypes, mime) {
			src.mimeTypes = append(src.mimeTypes, mime)
		}
		return nil

	case 1: // destroy
		src.client.remove(src.id)
		return nil

	case 2: // set_actions
		msg.ReadUint()
		return nil

	default:
		return src.unknownOp(msg.Op())
	}
}

func (src *dataSource) destroy() {
	if src.dead {
		return
	}
	src.dead = true

	server := src.client.server
	if server.selection == src {
		server.setSelection(nil)
	}
}

func (src *dataSource) cancel() {
	if src.dead {
		return
	}
	src.send(src.event(2, "cancelled"))
}

// transfer asks the source's client to write its data as mime to f.
func (src *dataSource) transfer(mime string, f *os.File) {
	ev := src.event(1, "send")
	ev.WriteString(mime)
	ev.WriteFile(f)
	src.send(ev)
}

// dataDevice is a client's view of the seat's selection.
type dataDevice struct {
	resource
}

func (dev *dataDevice) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // start_drag
		srcID := msg.ReadObject()
		msg.ReadObject()
		iconID := msg.ReadObject()
		msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		if iconID != 0 {
			if icon, ok := get[*surface](dev.client, iconID); ok && icon.role != nil {
				return dev.errorf(dataDeviceErrRole, "drag icon already has a role")
			}
		}
		// Drags are refused outright. Nothing in a kiosk could take
		// the drop.
		if src, ok := get[*dataSource](dev.client, srcID); ok {
			src.cancel()
		}
		return nil

	case 1: // set_selection
		srcID := msg.ReadObject()
		msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		var src *dataSource
		if srcID != 0 {
			var ok bool
			src, ok = get[*dataSource](dev.client, srcID)
			if !ok {
				return dev.errorf(errInvalidObject, "%v is not a data source", srcID)
			}
		}

		server := dev.client.server
		if server.focusedClient() != dev.client {
			dev.client.log().Debugln("selection set without keyboard focus")
			if src != nil {
				src.cancel()
			}
			return nil
		}
		server.setSelection(src)
		return nil

	case 2: // release
		dev.client.remove(dev.id)
		return nil

	default:
		return dev.unknownOp(msg.Op())
	}
}

func (dev *dataDevice) destroy() {
	in := dev.client.input()
	in.dataDevices = slices.DeleteFunc(in.dataDevices, func(v *dataDevice) bool { return v == dev })
}

// selection tells the client about the current selection by creating
// an offer for it.
func (dev *dataDevice) selection(src *dataSource) {
	if src == nil {
		ev := dev.event(5, "selection")
		ev.WriteObject(0)
		dev.send(ev)
		return
	}

	offer := dataOffer{
		resource: resource{client: dev.client, id: dev.client.newServerID(), iface: "wl_data_offer", version: dev.version},
		source:   src,
	}
	dev.client.objects[offer.id] = &offer

	ev := dev.event(0, "data_offer")
	ev.WriteNewID(offer.id)
	dev.send(ev)

	for _, mime := range src.mimeTypes {
		ev := offer.event(0, "offer")
		ev.WriteString(mime)
		offer.send(ev)
	}

	ev = dev.event(5, "selection")
	ev.WriteObject(offer.id)
	dev.send(ev)
}

// dataOffer is the receiving side of a data source.
type dataOffer struct {
	resource
	source *dataSource
}

func (offer *dataOffer) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0: // accept
		msg.ReadUint()
		msg.ReadString()
		return nil

	case 1: // receive
		mime := msg.ReadString()
		file := msg.ReadFile()
		if file != nil {
			defer file.Close()
		}
		if err := msg.Err(); err != nil {
			return err
		}

		src := offer.source
		if src.dead || offer.client.server.selection != src {
			return nil
		}
		src.transfer(mime, file)
		return nil

	case 2: // destroy
		offer.client.remove(offer.id)
		return nil

	case 3: // finish
		return nil

	case 4: // set_actions
		msg.ReadUint()
		msg.ReadUint()
		return nil

	default:
		return offer.unknownOp(msg.Op())
	}
}

func (offer *dataOffer) destroy() {}

// focusedClient returns the client that owns the surface with
// keyboard focus, or nil.
func (s *Server) focusedClient() *Client {
	surf, ok := s.surfaces[s.Seat.KeyboardFocus()]
	if !ok || surf.client.closed {
		return nil
	}
	return surf.client
}

// setSelection replaces the seat's selection and tells the client with
// keyboard focus.
func (s *Server) setSelection(src *dataSource) {
	old := s.selection
	if old == src {
		return
	}
	s.selection = src
	if old != nil {
		old.cancel()
	}

	if c := s.focusedClient(); c != nil && c.inputs != nil {
		for _, dev := range c.inputs.dataDevices {
			dev.selection(src)
		}
	}
}
