// Package drm wraps the subset of the kernel mode setting interface
// needed to drive outputs with CPU-rendered dumb buffers.
package drm

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | (uint32(b) << 8) | (uint32(c) << 16) | (uint32(d) << 24)
}

var (
	FormatARGB8888 = fourcc('A', 'R', '2', '4')
	FormatXRGB8888 = fourcc('X', 'R', '2', '4')
	FormatABGR8888 = fourcc('A', 'B', '2', '4')
	FormatXBGR8888 = fourcc('X', 'B', '2', '4')
)

const FormatBigEndian = 1 << 31

// Connection states reported for connectors.
const (
	Connected         = 1
	Disconnected      = 2
	UnknownConnection = 3
)

const (
	modeTypePreferred = 1 << 3

	pageFlipEvent = 0x01

	eventFlipComplete = 0x02

	capDumbBuffer = 0x1
)

// connectorTypes maps connector type values to the names used by the
// kernel for connector names, e.g. HDMI-A-1.
var connectorTypes = map[uint32]string{
	0:  "Unknown",
	1:  "VGA",
	2:  "DVI-I",
	3:  "DVI-D",
	4:  "DVI-A",
	5:  "Composite",
	6:  "SVIDEO",
	7:  "LVDS",
	8:  "Component",
	9:  "DIN",
	10: "DP",
	11: "HDMI-A",
	12: "HDMI-B",
	13: "TV",
	14: "eDP",
	15: "Virtual",
	16: "DSI",
	17: "DPI",
	18: "Writeback",
	19: "SPI",
	20: "USB",
}
