package backend

import (
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/output"
)

// Event is something that happened in a backend. The set of events
// is closed.
type Event interface {
	event()
}

// OutputAdded reports a newly connected or enabled display.
type OutputAdded struct {
	Info output.ConnectorInfo
}

// OutputRemoved reports that a display was disconnected or that the
// device driving it is gone.
type OutputRemoved struct {
	Name string
}

// OutputModeChanged reports that a display, such as the host window
// of the windowed backend, changed its size.
type OutputModeChanged struct {
	Name string
	Mode output.Mode
}

// Presented reports that a submitted frame is on screen, or, if
// Discarded is set, that it never will be.
type Presented struct {
	Output    string
	Token     PresentationToken
	Time      time.Time
	Discarded bool
}

// DeviceType is the kind of an input device.
type DeviceType int

const (
	DeviceKeyboard DeviceType = 1 << iota
	DevicePointer
	DeviceTouch
)

func (t DeviceType) String() string {
	var s string
	for _, d := range []struct {
		t    DeviceType
		name string
	}{{DeviceKeyboard, "keyboard"}, {DevicePointer, "pointer"}, {DeviceTouch, "touch"}} {
		if t&d.t == 0 {
			continue
		}
		if s != "" {
			s += "+"
		}
		s += d.name
	}
	if s == "" {
		return "none"
	}
	return s
}

type InputDeviceAdded struct {
	Name string
	Type DeviceType
}

type InputDeviceRemoved struct {
	Name string
}

// Key is a key press or release. Code is an evdev key code.
type Key struct {
	Device  string
	Time    time.Time
	Code    uint32
	Pressed bool
}

// PointerMotion is relative pointer movement.
type PointerMotion struct {
	Device string
	Time   time.Time
	Delta  geom.Point[float64]
}

// PointerMotionAbsolute puts the pointer at a position in the unit
// square of an output. An empty Output means the primary one.
type PointerMotionAbsolute struct {
	Device string
	Time   time.Time
	Output string
	Pos    geom.Point[float64]
}

// PointerButton is a button press or release. Button is an evdev
// code, such as BTN_LEFT.
type PointerButton struct {
	Device  string
	Time    time.Time
	Button  uint32
	Pressed bool
}

// Axis values match wl_pointer.axis.
type Axis uint32

const (
	AxisVertical Axis = iota
	AxisHorizontal
)

// AxisSource values match wl_pointer.axis_source.
type AxisSource uint32

const (
	AxisSourceWheel AxisSource = iota
	AxisSourceFinger
	AxisSourceContinuous
	AxisSourceWheelTilt
)

// PointerAxis is scrolling. Value is in surface units, Discrete in
// wheel steps.
type PointerAxis struct {
	Device   string
	Time     time.Time
	Axis     Axis
	Source   AxisSource
	Value    float64
	Discrete int32
}

// PointerFrame ends a group of pointer events that belong together.
type PointerFrame struct {
	Device string
}

// TouchDown starts a touch point. Pos is in the unit square of the
// output.
type TouchDown struct {
	Device string
	Time   time.Time
	ID     int32
	Output string
	Pos    geom.Point[float64]
}

type TouchUp struct {
	Device string
	Time   time.Time
	ID     int32
}

type TouchMotion struct {
	Device string
	Time   time.Time
	ID     int32
	Pos    geom.Point[float64]
}

type TouchFrame struct {
	Device string
}

// SessionChanged reports that the session was switched away from or
// back to. While inactive, nothing may be drawn and no input arrives.
type SessionChanged struct {
	Active bool
}

// DeviceFailed reports an error in a device. If the error is fatal
// the compositor cannot continue.
type DeviceFailed struct {
	Err *DeviceError
}

// Quit is a request from the backend to shut down, such as the host
// window being closed.
type Quit struct{}

func (OutputAdded) event()           {}
func (OutputRemoved) event()         {}
func (OutputModeChanged) event()     {}
func (Presented) event()             {}
func (InputDeviceAdded) event()      {}
func (InputDeviceRemoved) event()    {}
func (Key) event()                   {}
func (PointerMotion) event()         {}
func (PointerMotionAbsolute) event() {}
func (PointerButton) event()         {}
func (PointerAxis) event()           {}
func (PointerFrame) event()          {}
func (TouchDown) event()             {}
func (TouchUp) event()               {}
func (TouchMotion) event()           {}
func (TouchFrame) event()            {}
func (SessionChanged) event()        {}
func (DeviceFailed) event()          {}
func (Quit) event()                  {}
