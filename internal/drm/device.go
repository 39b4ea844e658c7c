package drm

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrNoCRTC is returned when no CRTC can drive a connector.
var ErrNoCRTC = errors.New("no usable crtc for connector")

// Device is an open DRM card.
type Device struct {
	Path string
	file *os.File
}

// Open opens the card at path and checks that it supports dumb
// buffers.
func Open(path string) (*Device, error) {
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	d := Device{Path: path, file: file}

	c := getCap{capability: capDumbBuffer}
	err = ioctl(d.fd(), ioctlGetCap, unsafe.Pointer(&c))
	if err != nil || c.value == 0 {
		file.Close()
		return nil, fmt.Errorf("%v does not support dumb buffers", path)
	}

	return &d, nil
}

func (d *Device) fd() uintptr {
	return d.file.Fd()
}

func (d *Device) Close() error {
	return d.file.Close()
}

func (d *Device) SetMaster() error {
	return ioctl(d.fd(), ioctlSetMaster, nil)
}

func (d *Device) DropMaster() error {
	return ioctl(d.fd(), ioctlDropMaster, nil)
}

// Resources lists the mode setting objects of a card.
type Resources struct {
	CRTCs      []uint32
	Connectors []uint32
	Encoders   []uint32
}

func (d *Device) Resources() (*Resources, error) {
	for {
		var r cardRes
		err := ioctl(d.fd(), ioctlGetResources, unsafe.Pointer(&r))
		if err != nil {
			return nil, fmt.Errorf("get resources: %w", err)
		}

		res := Resources{
			CRTCs:      make([]uint32, r.countCRTCs),
			Connectors: make([]uint32, r.countConns),
			Encoders:   make([]uint32, r.countEncoders),
		}
		counts := r
		r.fbIDPtr = 0
		r.countFBs = 0
		r.crtcIDPtr = ptr(res.CRTCs)
		r.connectorIDPtr = ptr(res.Connectors)
		r.encoderIDPtr = ptr(res.Encoders)

		err = ioctl(d.fd(), ioctlGetResources, unsafe.Pointer(&r))
		runtime.KeepAlive(&res)
		if err != nil {
			return nil, fmt.Errorf("get resources: %w", err)
		}

		// A hot-plug between the two calls can change the counts.
		if r.countCRTCs != counts.countCRTCs || r.countConns != counts.countConns || r.countEncoders != counts.countEncoders {
			continue
		}
		return &res, nil
	}
}

// Connector describes a display connector.
type Connector struct {
	ID         uint32
	Name       string
	Connection uint32
	MMWidth    uint32
	MMHeight   uint32
	Modes      []ModeInfo
	EncoderID  uint32
	Encoders   []uint32
}

func (d *Device) Connector(id uint32) (*Connector, error) {
	for {
		c := getConnector{connectorID: id}
		err := ioctl(d.fd(), ioctlGetConnector, unsafe.Pointer(&c))
		if err != nil {
			return nil, fmt.Errorf("get connector %v: %w", id, err)
		}

		modes := make([]ModeInfo, c.countModes)
		encoders := make([]uint32, c.countEncoders)
		counts := c
		c.countProps = 0
		c.propsPtr = 0
		c.propValuesPtr = 0
		c.modesPtr = ptr(modes)
		c.encodersPtr = ptr(encoders)

		err = ioctl(d.fd(), ioctlGetConnector, unsafe.Pointer(&c))
		runtime.KeepAlive(modes)
		runtime.KeepAlive(encoders)
		if err != nil {
			return nil, fmt.Errorf("get connector %v: %w", id, err)
		}
		if c.countModes != counts.countModes || c.countEncoders != counts.countEncoders {
			continue
		}

		name, ok := connectorTypes[c.connectorType]
		if !ok {
			name = "Unknown"
		}

		return &Connector{
			ID:         id,
			Name:       fmt.Sprintf("%v-%v", name, c.connectorTypeID),
			Connection: c.connection,
			MMWidth:    c.mmWidth,
			MMHeight:   c.mmHeight,
			Modes:      modes,
			EncoderID:  c.encoderID,
			Encoders:   encoders,
		}, nil
	}
}

// Encoder describes the link between a connector and the CRTCs that
// can drive it.
type Encoder struct {
	ID            uint32
	CRTCID        uint32
	PossibleCRTCs uint32
}

func (d *Device) Encoder(id uint32) (*Encoder, error) {
	e := getEncoder{encoderID: id}
	err := ioctl(d.fd(), ioctlGetEncoder, unsafe.Pointer(&e))
	if err != nil {
		return nil, fmt.Errorf("get encoder %v: %w", id, err)
	}
	return &Encoder{ID: id, CRTCID: e.crtcID, PossibleCRTCs: e.possibleCRTCs}, nil
}

// PickCRTC finds a CRTC that can drive conn and is not in used,
// preferring the one that is currently attached.
func (d *Device) PickCRTC(res *Resources, conn *Connector, used map[uint32]bool) (uint32, error) {
	if conn.EncoderID != 0 {
		enc, err := d.Encoder(conn.EncoderID)
		if err == nil && enc.CRTCID != 0 && !used[enc.CRTCID] {
			return enc.CRTCID, nil
		}
	}

	for _, id := range conn.Encoders {
		enc, err := d.Encoder(id)
		if err != nil {
			continue
		}
		for i, crtc := range res.CRTCs {
			if enc.PossibleCRTCs&(1<<i) == 0 || used[crtc] {
				continue
			}
			return crtc, nil
		}
	}

	return 0, ErrNoCRTC
}

// SetCRTC performs a mode set, scanning out fb on conn.
func (d *Device) SetCRTC(crtc, fb, conn uint32, mode ModeInfo) error {
	conns := []uint32{conn}
	c := modeCRTC{
		setConnectorsPtr: ptr(conns),
		countConnectors:  1,
		crtcID:           crtc,
		fbID:             fb,
		modeValid:        1,
		mode:             mode,
	}
	err := ioctl(d.fd(), ioctlSetCRTC, unsafe.Pointer(&c))
	runtime.KeepAlive(conns)
	return err
}

// DisableCRTC turns off a CRTC.
func (d *Device) DisableCRTC(crtc uint32) error {
	c := modeCRTC{crtcID: crtc}
	return ioctl(d.fd(), ioctlSetCRTC, unsafe.Pointer(&c))
}

// PageFlip schedules fb to be scanned out at the next vblank. A
// FlipEvent carrying userData is delivered when it completes.
func (d *Device) PageFlip(crtc, fb uint32, userData uint64) error {
	f := pageFlip{
		crtcID:   crtc,
		fbID:     fb,
		flags:    pageFlipEvent,
		userData: userData,
	}
	return ioctl(d.fd(), ioctlPageFlip, unsafe.Pointer(&f))
}

// DumbBuffer is a CPU-mapped XRGB8888 scanout buffer.
type DumbBuffer struct {
	Width, Height int
	Pitch         int
	Pix           []byte

	handle uint32
	fb     uint32
}

func (b *DumbBuffer) FB() uint32 {
	return b.fb
}

// CreateDumb allocates, registers, and maps a dumb buffer.
func (d *Device) CreateDumb(width, height int) (*DumbBuffer, error) {
	c := createDumb{
		width:  uint32(width),
		height: uint32(height),
		bpp:    32,
	}
	err := ioctl(d.fd(), ioctlCreateDumb, unsafe.Pointer(&c))
	if err != nil {
		return nil, fmt.Errorf("create dumb buffer: %w", err)
	}
	b := DumbBuffer{
		Width:  width,
		Height: height,
		Pitch:  int(c.pitch),
		handle: c.handle,
	}

	fb := fbCmd{
		width:  uint32(width),
		height: uint32(height),
		pitch:  c.pitch,
		bpp:    32,
		depth:  24,
		handle: c.handle,
	}
	err = ioctl(d.fd(), ioctlAddFB, unsafe.Pointer(&fb))
	if err != nil {
		d.destroyHandle(b.handle)
		return nil, fmt.Errorf("add framebuffer: %w", err)
	}
	b.fb = fb.fbID

	m := mapDumb{handle: c.handle}
	err = ioctl(d.fd(), ioctlMapDumb, unsafe.Pointer(&m))
	if err != nil {
		d.DestroyDumb(&b)
		return nil, fmt.Errorf("map dumb buffer: %w", err)
	}

	b.Pix, err = unix.Mmap(int(d.fd()), int64(m.offset), int(c.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		d.DestroyDumb(&b)
		return nil, fmt.Errorf("mmap dumb buffer: %w", err)
	}

	return &b, nil
}

// DestroyDumb unmaps and frees a dumb buffer.
func (d *Device) DestroyDumb(b *DumbBuffer) error {
	var errs []error
	if b.Pix != nil {
		errs = append(errs, unix.Munmap(b.Pix))
		b.Pix = nil
	}
	if b.fb != 0 {
		fb := b.fb
		errs = append(errs, ioctl(d.fd(), ioctlRmFB, unsafe.Pointer(&fb)))
		b.fb = 0
	}
	errs = append(errs, d.destroyHandle(b.handle))
	return errors.Join(errs...)
}

func (d *Device) destroyHandle(handle uint32) error {
	dd := destroyDumb{handle: handle}
	return ioctl(d.fd(), ioctlDestroyDumb, unsafe.Pointer(&dd))
}

// FlipEvent reports a completed page flip.
type FlipEvent struct {
	UserData uint64
	Time     time.Time
	Sequence uint32
	CRTC     uint32
}

// ReadEvents blocks until at least one event is available on the
// card and returns the page flip completions among them.
func (d *Device) ReadEvents() ([]FlipEvent, error) {
	buf := make([]byte, 1024)
	n, err := d.file.Read(buf)
	if err != nil {
		return nil, err
	}
	return ParseEvents(buf[:n]), nil
}

// ParseEvents decodes the page flip completions in buf, skipping any
// other kind of event.
func ParseEvents(buf []byte) []FlipEvent {
	var events []FlipEvent
	for len(buf) >= 8 {
		typ := hostOrder.Uint32(buf[0:])
		length := int(hostOrder.Uint32(buf[4:]))
		if length < 8 || length > len(buf) {
			break
		}

		if typ == eventFlipComplete && length >= 32 {
			sec := hostOrder.Uint32(buf[16:])
			usec := hostOrder.Uint32(buf[20:])
			events = append(events, FlipEvent{
				UserData: hostOrder.Uint64(buf[8:]),
				Time:     time.Unix(int64(sec), int64(usec)*1000),
				Sequence: hostOrder.Uint32(buf[24:]),
				CRTC:     hostOrder.Uint32(buf[28:]),
			})
		}
		buf = buf[length:]
	}
	return events
}
