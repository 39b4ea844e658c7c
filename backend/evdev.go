package backend

import (
	"fmt"
	"path/filepath"
	"time"
	"unsafe"

	"deedles.dev/booth/geom"
	evdev "github.com/gvalkov/golang-evdev"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"
)

// Event codes missing from the evdev package's tables, from
// linux/input-event-codes.h.
const (
	btnMisc     = 0x100
	btnMouse    = 0x110
	btnJoystick = 0x120
	btnTouch    = 0x14a
	keyOK       = 0x160

	absMTSlot       = 0x2f
	absMTPositionX  = 0x35
	absMTPositionY  = 0x36
	absMTTrackingID = 0x39

	synDropped = 3
)

// Scroll distance of one wheel step, matching what libinput reports.
const wheelStep = 15

// classify works out what kind of device has the given capabilities.
func classify(caps map[int][]int) DeviceType {
	var t DeviceType

	keys := caps[evdev.EV_KEY]
	if slices.ContainsFunc(keys, func(k int) bool { return k >= evdev.KEY_A && k <= evdev.KEY_Z }) {
		t |= DeviceKeyboard
	}

	rel := caps[evdev.EV_REL]
	if slices.Contains(rel, evdev.REL_X) && slices.Contains(rel, evdev.REL_Y) {
		t |= DevicePointer
	}

	abs := caps[evdev.EV_ABS]
	switch {
	case slices.Contains(abs, absMTSlot) && slices.Contains(abs, absMTPositionX):
		t |= DeviceTouch
	case slices.Contains(abs, evdev.ABS_X) && slices.Contains(abs, evdev.ABS_Y) &&
		(slices.Contains(keys, evdev.BTN_LEFT) || slices.Contains(keys, btnTouch)):
		t |= DevicePointer
	}

	return t
}

type absRange struct {
	min, max int32
}

func (r absRange) normalize(v int32) float64 {
	if r.max <= r.min {
		return 0
	}
	return float64(v-r.min) / float64(r.max-r.min)
}

type absInfo struct {
	value, minimum, maximum, fuzz, flat, resolution int32
}

// absRangeOf queries the range of an absolute axis with EVIOCGABS.
func absRangeOf(dev *evdev.InputDevice, axis int) (absRange, error) {
	var info absInfo
	req := uintptr(2<<30 | unsafe.Sizeof(info)<<16 | 'E'<<8 | uintptr(0x40+axis))
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.File.Fd(), req, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return absRange{}, fmt.Errorf("get range of axis %#x: %w", axis, errno)
	}
	return absRange{min: info.minimum, max: info.maximum}, nil
}

type touchSlot struct {
	id      int32
	pos     geom.Point[float64]
	down    bool
	started bool
	moved   bool
	ended   bool
}

// translator turns the raw events of one device into backend events.
// Events are grouped by the device into frames ending in SYN_REPORT,
// and a translated frame is produced only once its end is seen.
type translator struct {
	device string
	typ    DeviceType

	// absX and absY are the ranges of the axes of an absolute pointer
	// or a touchscreen.
	absX, absY absRange

	dropped bool
	pending []Event
	rel     geom.Point[float64]
	abs     geom.Point[float64]
	absSet  bool
	pointer bool

	slot   int32
	slots  map[int32]*touchSlot
	nextID int32
}

func newTranslator(device string, typ DeviceType, absX, absY absRange) *translator {
	return &translator{
		device: device,
		typ:    typ,
		absX:   absX,
		absY:   absY,
		slots:  make(map[int32]*touchSlot),
	}
}

func eventTime(ev *evdev.InputEvent) time.Time {
	return time.Unix(int64(ev.Time.Sec), int64(ev.Time.Usec)*1000)
}

// feed processes one raw event and returns the events of a frame that
// it completed, if any.
func (tr *translator) feed(ev *evdev.InputEvent) []Event {
	if ev.Type == evdev.EV_SYN {
		switch ev.Code {
		case evdev.SYN_REPORT:
			if tr.dropped {
				tr.dropped = false
				tr.reset()
				return nil
			}
			return tr.flush(eventTime(ev))
		case synDropped:
			tr.dropped = true
		}
		return nil
	}
	if tr.dropped {
		return nil
	}

	t := eventTime(ev)
	switch ev.Type {
	case evdev.EV_KEY:
		tr.key(t, uint32(ev.Code), ev.Value)
	case evdev.EV_REL:
		tr.relative(t, ev.Code, ev.Value)
	case evdev.EV_ABS:
		tr.absolute(ev.Code, ev.Value)
	}
	return nil
}

func (tr *translator) reset() {
	tr.pending = tr.pending[:0]
	tr.rel = geom.Point[float64]{}
	tr.absSet = false
	tr.pointer = false
	for _, s := range tr.slots {
		s.started, s.moved, s.ended = false, false, false
	}
}

func (tr *translator) key(t time.Time, code uint32, value int32) {
	if value == 2 {
		return
	}
	pressed := value == 1

	switch {
	case code == btnTouch:
		if tr.typ&DeviceTouch != 0 {
			return
		}
		tr.pointer = true
		tr.pending = append(tr.pending, PointerButton{Device: tr.device, Time: t, Button: evdev.BTN_LEFT, Pressed: pressed})

	case code >= btnMouse && code < btnJoystick:
		tr.pointer = true
		tr.pending = append(tr.pending, PointerButton{Device: tr.device, Time: t, Button: code, Pressed: pressed})

	case code < btnMisc || code >= keyOK:
		tr.pending = append(tr.pending, Key{Device: tr.device, Time: t, Code: code, Pressed: pressed})
	}
}

func (tr *translator) relative(t time.Time, code uint16, value int32) {
	switch code {
	case evdev.REL_X:
		tr.rel.X += float64(value)
	case evdev.REL_Y:
		tr.rel.Y += float64(value)
	case evdev.REL_WHEEL:
		tr.pointer = true
		tr.pending = append(tr.pending, PointerAxis{
			Device:   tr.device,
			Time:     t,
			Axis:     AxisVertical,
			Source:   AxisSourceWheel,
			Value:    float64(-value * wheelStep),
			Discrete: -value,
		})
	case evdev.REL_HWHEEL:
		tr.pointer = true
		tr.pending = append(tr.pending, PointerAxis{
			Device:   tr.device,
			Time:     t,
			Axis:     AxisHorizontal,
			Source:   AxisSourceWheel,
			Value:    float64(value * wheelStep),
			Discrete: value,
		})
	}
}

func (tr *translator) absolute(code uint16, value int32) {
	if tr.typ&DeviceTouch == 0 {
		switch code {
		case evdev.ABS_X:
			tr.abs.X = tr.absX.normalize(value)
			tr.absSet = true
		case evdev.ABS_Y:
			tr.abs.Y = tr.absY.normalize(value)
			tr.absSet = true
		}
		return
	}

	switch code {
	case absMTSlot:
		tr.slot = value
		return
	}

	s := tr.slots[tr.slot]
	if s == nil {
		s = &touchSlot{}
		tr.slots[tr.slot] = s
	}

	switch code {
	case absMTTrackingID:
		if value < 0 {
			if s.down {
				s.ended = true
			}
			return
		}
		s.id = tr.nextID
		tr.nextID++
		s.down = true
		s.started = true
		s.ended = false
	case absMTPositionX:
		s.pos.X = tr.absX.normalize(value)
		s.moved = true
	case absMTPositionY:
		s.pos.Y = tr.absY.normalize(value)
		s.moved = true
	}
}

func (tr *translator) flush(t time.Time) []Event {
	var events []Event
	if !tr.rel.IsZero() {
		events = append(events, PointerMotion{Device: tr.device, Time: t, Delta: tr.rel})
		tr.pointer = true
	}
	if tr.absSet {
		events = append(events, PointerMotionAbsolute{Device: tr.device, Time: t, Pos: tr.abs})
		tr.pointer = true
	}
	events = append(events, tr.pending...)
	if tr.pointer {
		events = append(events, PointerFrame{Device: tr.device})
	}

	var touched bool
	for _, slot := range tr.sortedSlots() {
		s := tr.slots[slot]
		switch {
		case s.started:
			events = append(events, TouchDown{Device: tr.device, Time: t, ID: s.id, Pos: s.pos})
			touched = true
		case s.moved && s.down && !s.ended:
			events = append(events, TouchMotion{Device: tr.device, Time: t, ID: s.id, Pos: s.pos})
			touched = true
		}
		if s.ended {
			events = append(events, TouchUp{Device: tr.device, Time: t, ID: s.id})
			s.down = false
			touched = true
		}
	}
	if touched {
		events = append(events, TouchFrame{Device: tr.device})
	}

	tr.reset()
	return events
}

func (tr *translator) sortedSlots() []int32 {
	slots := make([]int32, 0, len(tr.slots))
	for slot := range tr.slots {
		slots = append(slots, slot)
	}
	slices.Sort(slots)
	return slots
}

// inputDevice is an open evdev device.
type inputDevice struct {
	path string
	name string
	typ  DeviceType
	dev  *evdev.InputDevice
	tr   *translator
}

func openInput(path string) (*inputDevice, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}

	typ := classify(dev.CapabilitiesFlat)
	if typ == 0 {
		dev.File.Close()
		return nil, nil
	}

	var absX, absY absRange
	if typ&DeviceTouch != 0 {
		absX, _ = absRangeOf(dev, absMTPositionX)
		absY, _ = absRangeOf(dev, absMTPositionY)
	} else if slices.Contains(dev.CapabilitiesFlat[evdev.EV_ABS], evdev.ABS_X) {
		absX, _ = absRangeOf(dev, evdev.ABS_X)
		absY, _ = absRangeOf(dev, evdev.ABS_Y)
	}

	// Events should reach only the compositor, not the terminal or
	// anything else reading the device.
	err = dev.Grab()
	if err != nil {
		dev.File.Close()
		return nil, fmt.Errorf("grab: %w", err)
	}

	name := filepath.Base(path)
	return &inputDevice{
		path: path,
		name: name,
		typ:  typ,
		dev:  dev,
		tr:   newTranslator(name, typ, absX, absY),
	}, nil
}

// read blocks reading events from the device and passes every
// completed frame to emit until the device fails or is closed.
func (d *inputDevice) read(emit func([]Event)) error {
	for {
		raw, err := d.dev.Read()
		if err != nil {
			return err
		}
		for i := range raw {
			if events := d.tr.feed(&raw[i]); len(events) > 0 {
				emit(events)
			}
		}
	}
}

func (d *inputDevice) close() error {
	d.dev.Release()
	return d.dev.File.Close()
}
