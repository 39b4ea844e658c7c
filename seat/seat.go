// Package seat implements the compositor's single seat: the keyboard,
// pointer, and touch foci and the routing of device input to the
// clients that hold them.
package seat

import (
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/util"
	"deedles.dev/booth/internal/xkb"
	"deedles.dev/booth/output"
	"deedles.dev/booth/scene"
	"golang.org/x/exp/slices"
)

// Capabilities are the kinds of input devices available to the seat.
// The values match wl_seat.capability.
type Capabilities uint32

const (
	CapPointer Capabilities = 1 << iota
	CapKeyboard
	CapTouch
)

// Axis is a scroll axis. The values match wl_pointer.axis.
type Axis uint32

const (
	AxisVertical Axis = iota
	AxisHorizontal
)

// AxisSource is the kind of device that produced a scroll event. The
// values match wl_pointer.axis_source.
type AxisSource uint32

const (
	AxisSourceWheel AxisSource = iota
	AxisSourceFinger
	AxisSourceContinuous
	AxisSourceWheelTilt
)

// Receiver delivers input events to the client that owns a surface.
// Points are surface-local.
type Receiver interface {
	PointerEnter(serial uint32, surface scene.SurfaceID, p geom.Point[float64])
	PointerLeave(serial uint32, surface scene.SurfaceID)
	PointerMotion(t time.Time, p geom.Point[float64])
	PointerButton(serial uint32, t time.Time, button uint32, pressed bool)
	PointerAxis(t time.Time, axis Axis, value float64, discrete int32, source AxisSource)
	PointerFrame()

	KeyboardEnter(serial uint32, surface scene.SurfaceID, keys []uint32)
	KeyboardLeave(serial uint32, surface scene.SurfaceID)
	Key(serial uint32, t time.Time, key uint32, pressed bool)
	Modifiers(serial uint32, mods xkb.Modifiers)

	// Keymap switches the client's keyboards to km if they do not
	// already use it.
	Keymap(km *xkb.Keymap)

	TouchDown(serial uint32, t time.Time, surface scene.SurfaceID, id int32, p geom.Point[float64])
	TouchUp(serial uint32, t time.Time, id int32)
	TouchMotion(t time.Time, id int32, p geom.Point[float64])
	TouchFrame()
	TouchCancel()
}

// Resolver finds the Receiver for a surface. It returns false if the
// surface or its client has gone away.
type Resolver interface {
	ReceiverFor(id scene.SurfaceID) (Receiver, bool)
}

type touchPoint struct {
	surface scene.SurfaceID
	output  output.ID
	origin  geom.Point[float64]
}

// Seat is the input state of the compositor. Exactly one exists.
type Seat struct {
	Name string

	devices map[string]Capabilities
	caps    Capabilities

	serial uint32
	mods   *xkb.State

	// keymap belongs to the physical keyboards. active is the keymap
	// that keys are currently sent with, which is a virtual
	// keyboard's after it was typed on.
	keymap   *xkb.Keymap
	active   *xkb.Keymap
	virtMods xkb.Modifiers

	keyboard scene.SurfaceID
	keys     []uint32

	pointer    scene.SurfaceID
	pointerPos geom.Point[float64]
	buttons    []uint32

	touches map[int32]touchPoint
}

// New returns a seat with no devices. keymap may be nil, in which
// case a us layout is assumed for modifier tracking.
func New(name string, keymap *xkb.Keymap) *Seat {
	return &Seat{
		Name:    name,
		devices: make(map[string]Capabilities),
		mods:    keymap.NewState(),
		keymap:  keymap,
		active:  keymap,
		touches: make(map[int32]touchPoint),
	}
}

// NextSerial returns a new event serial.
func (s *Seat) NextSerial() uint32 {
	s.serial++
	return s.serial
}

// AddDevice records an input device. It returns the new capabilities
// of the seat and whether they changed.
func (s *Seat) AddDevice(name string, caps Capabilities) (Capabilities, bool) {
	s.devices[name] = caps
	return s.updateCaps()
}

// RemoveDevice forgets an input device.
func (s *Seat) RemoveDevice(name string) (Capabilities, bool) {
	delete(s.devices, name)
	return s.updateCaps()
}

func (s *Seat) updateCaps() (Capabilities, bool) {
	var caps Capabilities
	for _, c := range s.devices {
		caps |= c
	}
	changed := caps != s.caps
	s.caps = caps
	return caps, changed
}

func (s *Seat) Capabilities() Capabilities {
	return s.caps
}

// KeyboardFocus returns the surface that receives key events.
func (s *Seat) KeyboardFocus() scene.SurfaceID {
	return s.keyboard
}

// PointerFocus returns the surface that receives pointer events.
func (s *Seat) PointerFocus() scene.SurfaceID {
	return s.pointer
}

// PointerPosition returns the pointer's location in layout
// coordinates.
func (s *Seat) PointerPosition() geom.Point[float64] {
	return s.pointerPos
}

// Keymap returns the keymap that clients should interpret keys with.
func (s *Seat) Keymap() *xkb.Keymap {
	return s.active
}

// Modifiers returns the current modifier state.
func (s *Seat) Modifiers() xkb.Modifiers {
	if s.active != s.keymap {
		return s.virtMods
	}
	return s.mods.Modifiers()
}

// PressedKeys returns the keys held down, in the order they were
// pressed.
func (s *Seat) PressedKeys() []uint32 {
	return slices.Clone(s.keys)
}

// PressedButtons returns the pointer buttons held down.
func (s *Seat) PressedButtons() []uint32 {
	return slices.Clone(s.buttons)
}

func (s *Seat) setKey(code uint32, pressed bool) bool {
	i := slices.Index(s.keys, code)
	switch {
	case pressed && i < 0:
		s.keys = append(s.keys, code)
		return true
	case !pressed && i >= 0:
		s.keys = slices.Delete(s.keys, i, i+1)
		return true
	}
	return false
}

func (s *Seat) setButton(button uint32, pressed bool) bool {
	has := slices.Contains(s.buttons, button)
	switch {
	case pressed && !has:
		s.buttons = append(s.buttons, button)
		return true
	case !pressed && has:
		s.buttons = util.Remove(s.buttons, button)
		return true
	}
	return false
}
