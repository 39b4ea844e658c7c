// Package output tracks the displays that the compositor presents to.
package output

import (
	"fmt"
	"image"
	"time"

	"deedles.dev/booth/geom"
)

// ID identifies an output for as long as it exists. IDs are never
// reused.
type ID uint32

// DefaultRefreshMHz is assumed for modes that do not report a
// refresh rate.
const DefaultRefreshMHz = 60000

// Mode is a resolution and refresh rate that a display supports.
type Mode struct {
	Size       geom.Point[int]
	RefreshMHz int
	Preferred  bool
}

// Interval returns the time between two refreshes.
func (m Mode) Interval() time.Duration {
	refresh := m.RefreshMHz
	if refresh <= 0 {
		refresh = DefaultRefreshMHz
	}
	return time.Duration(int64(time.Second) * 1000 / int64(refresh))
}

func (m Mode) String() string {
	return fmt.Sprintf("%vx%v@%.3f", m.Size.X, m.Size.Y, float64(m.RefreshMHz)/1000)
}

// ConnectorInfo describes a display as reported by a backend.
type ConnectorInfo struct {
	Name         string
	Make         string
	Model        string
	PhysicalSize geom.Point[int]
	Modes        []Mode
}

// SelectMode picks the mode to use from modes: the preferred one if
// the display reports one, else the first.
func SelectMode(modes []Mode) (Mode, bool) {
	if len(modes) == 0 {
		return Mode{}, false
	}
	for _, mode := range modes {
		if mode.Preferred {
			return mode, true
		}
	}
	return modes[0], true
}

// Output is a display. It owns its render target, which is only ever
// touched by the render loop.
type Output struct {
	ID           ID
	Name         string
	Make         string
	Model        string
	PhysicalSize geom.Point[int]
	Modes        []Mode
	Mode         Mode
	Transform    geom.Transform
	Primary      bool

	// Target holds the composited contents of the output in layout
	// orientation, sized to the transformed mode.
	Target *image.RGBA

	pos geom.Point[int]
}

// Size returns the size of the output in layout coordinates.
func (out *Output) Size() geom.Point[int] {
	return out.Transform.Size(out.Mode.Size)
}

// Bounds returns the area that the output covers in the layout.
func (out *Output) Bounds() geom.Rect[int] {
	return geom.Sized(out.pos, out.Size())
}

// LocalBounds returns the output's area relative to its own top-left
// corner.
func (out *Output) LocalBounds() geom.Rect[int] {
	return geom.Sized(geom.Point[int]{}, out.Size())
}

func (out *Output) allocTarget() {
	size := out.Size()
	if out.Target != nil && out.Target.Rect.Dx() == size.X && out.Target.Rect.Dy() == size.Y {
		return
	}
	out.Target = image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
}

func (out *Output) String() string {
	return fmt.Sprintf("%v (%v)", out.Name, out.Mode)
}
