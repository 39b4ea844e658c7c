// Package backend provides the devices that the compositor draws to
// and reads input from. A Backend is either windowed, running as a
// client of another Wayland compositor, or native, driving the
// hardware directly from a virtual terminal.
package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"deedles.dev/booth/geom"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnsupported   = errors.New("not supported by this backend")
	ErrNoSession     = errors.New("no session available for device access")
	ErrNoGPU         = errors.New("no usable GPU found")
	ErrUnknownKind   = errors.New("unknown backend")
	ErrNotStarted    = errors.New("backend not started")
	ErrInFlight      = errors.New("previous frame still in flight")
	ErrUnknownOutput = errors.New("unknown output")
	ErrClosed        = errors.New("backend closed")
)

// DeviceError is a failure of a particular device.
type DeviceError struct {
	Device string
	Err    error

	// Fatal is set if the compositor cannot continue without the
	// device.
	Fatal bool
}

func (err *DeviceError) Error() string {
	return fmt.Sprintf("device %v: %v", err.Device, err.Err)
}

func (err *DeviceError) Unwrap() error {
	return err.Err
}

// Kind is the variant of a Backend.
type Kind int

const (
	KindWindowed Kind = iota + 1
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindWindowed:
		return "windowed"
	case KindNative:
		return "native"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses a backend name. "auto" picks a backend with
// Detect.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		return Detect(), nil
	case "windowed", "winit", "wayland":
		return KindWindowed, nil
	case "native", "tty", "drm":
		return KindNative, nil
	default:
		return 0, fmt.Errorf("%q: %w", name, ErrUnknownKind)
	}
}

// Detect picks the windowed backend if a Wayland compositor is
// already running, and the native one otherwise.
func Detect() Kind {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return KindWindowed
	}
	return KindNative
}

// Config holds the settings of both backend variants. Each uses only
// the fields relevant to it.
type Config struct {
	// Width and Height are the initial size of the windowed
	// backend's host window.
	Width, Height int

	// Title and AppID are given to the host window.
	Title string
	AppID string

	// Seat is the name of the native seat.
	Seat string
}

// PresentationToken identifies a submitted frame. Tokens are unique
// within a Backend.
type PresentationToken uint64

// Frame is a composited image to present on an output.
type Frame struct {
	Image *image.RGBA

	// Damage is the area of Image that changed since the previous
	// frame submitted to the same output.
	Damage []geom.Rect[int]

	// Transform is applied to Image when presenting it.
	Transform geom.Transform
}

// Backend is a tagged union of the two backend variants. Exactly one
// of the variant pointers is set, matching Kind.
type Backend struct {
	Kind Kind

	windowed *Windowed
	native   *Native
}

// New creates a backend of the given kind. No devices are opened
// until Start is called.
func New(kind Kind, config Config) (*Backend, error) {
	b := Backend{Kind: kind}
	switch kind {
	case KindWindowed:
		b.windowed = newWindowed(config)
	case KindNative:
		b.native = newNative(config)
	default:
		return nil, fmt.Errorf("new %v: %w", kind, ErrUnknownKind)
	}
	return &b, nil
}

// Start opens the backend's devices. Events describing the initial
// outputs and input devices become available from Events once it
// returns. Any error is a fatal startup failure.
func (b *Backend) Start(ctx context.Context) error {
	logrus.WithField("backend", b.Kind).Infoln("starting backend")

	switch b.Kind {
	case KindWindowed:
		return b.windowed.start(ctx)
	case KindNative:
		return b.native.start(ctx)
	default:
		panic(fmt.Errorf("invalid backend kind: %v", b.Kind))
	}
}

// Events yields batches of events as they happen.
func (b *Backend) Events() <-chan []Event {
	switch b.Kind {
	case KindWindowed:
		return b.windowed.events.Get()
	case KindNative:
		return b.native.events.Get()
	default:
		panic(fmt.Errorf("invalid backend kind: %v", b.Kind))
	}
}

// PollEvents returns the events that are available without blocking.
func (b *Backend) PollEvents() []Event {
	switch b.Kind {
	case KindWindowed:
		return b.windowed.events.TryGet()
	case KindNative:
		return b.native.events.TryGet()
	default:
		panic(fmt.Errorf("invalid backend kind: %v", b.Kind))
	}
}

// SubmitFrame presents a frame on the named output. It does not wait
// for the frame to be shown. A Presented event carrying the returned
// token follows once it has been.
func (b *Backend) SubmitFrame(name string, frame *Frame) (PresentationToken, error) {
	switch b.Kind {
	case KindWindowed:
		return b.windowed.submit(name, frame)
	case KindNative:
		return b.native.submit(name, frame)
	default:
		panic(fmt.Errorf("invalid backend kind: %v", b.Kind))
	}
}

// CanSwitchVT reports whether SwitchVT is supported.
func (b *Backend) CanSwitchVT() bool {
	switch b.Kind {
	case KindWindowed:
		return false
	case KindNative:
		return true
	default:
		panic(fmt.Errorf("invalid backend kind: %v", b.Kind))
	}
}

// SwitchVT switches to another virtual terminal.
func (b *Backend) SwitchVT(vt int) error {
	switch b.Kind {
	case KindWindowed:
		return fmt.Errorf("switch to vt %v: %w", vt, ErrUnsupported)
	case KindNative:
		return b.native.switchVT(vt)
	default:
		panic(fmt.Errorf("invalid backend kind: %v", b.Kind))
	}
}

// SeatName returns the name of the seat that input comes from.
func (b *Backend) SeatName() string {
	switch b.Kind {
	case KindWindowed:
		return "seat0"
	case KindNative:
		return b.native.seat
	default:
		panic(fmt.Errorf("invalid backend kind: %v", b.Kind))
	}
}

// Close releases every device and restores the terminal, if it was
// changed.
func (b *Backend) Close() error {
	switch b.Kind {
	case KindWindowed:
		return b.windowed.close()
	case KindNative:
		return b.native.close()
	default:
		panic(fmt.Errorf("invalid backend kind: %v", b.Kind))
	}
}
