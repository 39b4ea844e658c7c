package drm

import (
	"bytes"
	"encoding/binary"
)

var hostOrder binary.ByteOrder = binary.NativeEndian

func (m ModeInfo) Preferred() bool {
	return m.Type&modeTypePreferred != 0
}

// RefreshMHz returns the refresh rate in millihertz, computed from
// the pixel clock for precision.
func (m ModeInfo) RefreshMHz() int {
	if m.HTotal == 0 || m.VTotal == 0 {
		return int(m.VRefresh) * 1000
	}
	return int((uint64(m.Clock)*1000000/uint64(m.HTotal) + uint64(m.VTotal)/2) / uint64(m.VTotal))
}

func (m ModeInfo) String() string {
	name, _, _ := bytes.Cut(m.Name[:], []byte{0})
	return string(name)
}
