package drm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	ioctlBase = 'd'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | ioctlBase<<8 | nr
}

func iowr[T any](nr uintptr) uintptr {
	var v T
	return ioc(iocRead|iocWrite, nr, unsafe.Sizeof(v))
}

type getCap struct {
	capability uint64
	value      uint64
}

type cardRes struct {
	fbIDPtr        uint64
	crtcIDPtr      uint64
	connectorIDPtr uint64
	encoderIDPtr   uint64
	countFBs       uint32
	countCRTCs     uint32
	countConns     uint32
	countEncoders  uint32
	minWidth       uint32
	maxWidth       uint32
	minHeight      uint32
	maxHeight      uint32
}

// ModeInfo mirrors struct drm_mode_modeinfo.
type ModeInfo struct {
	Clock      uint32
	HDisplay   uint16
	HSyncStart uint16
	HSyncEnd   uint16
	HTotal     uint16
	HSkew      uint16
	VDisplay   uint16
	VSyncStart uint16
	VSyncEnd   uint16
	VTotal     uint16
	VScan      uint16
	VRefresh   uint32
	Flags      uint32
	Type       uint32
	Name       [32]byte
}

type getConnector struct {
	encodersPtr     uint64
	modesPtr        uint64
	propsPtr        uint64
	propValuesPtr   uint64
	countModes      uint32
	countProps      uint32
	countEncoders   uint32
	encoderID       uint32
	connectorID     uint32
	connectorType   uint32
	connectorTypeID uint32
	connection      uint32
	mmWidth         uint32
	mmHeight        uint32
	subpixel        uint32
	pad             uint32
}

type getEncoder struct {
	encoderID      uint32
	encoderType    uint32
	crtcID         uint32
	possibleCRTCs  uint32
	possibleClones uint32
}

type modeCRTC struct {
	setConnectorsPtr uint64
	countConnectors  uint32
	crtcID           uint32
	fbID             uint32
	x, y             uint32
	gammaSize        uint32
	modeValid        uint32
	mode             ModeInfo
}

type createDumb struct {
	height uint32
	width  uint32
	bpp    uint32
	flags  uint32
	handle uint32
	pitch  uint32
	size   uint64
}

type mapDumb struct {
	handle uint32
	pad    uint32
	offset uint64
}

type destroyDumb struct {
	handle uint32
}

type fbCmd struct {
	fbID   uint32
	width  uint32
	height uint32
	pitch  uint32
	bpp    uint32
	depth  uint32
	handle uint32
}

type pageFlip struct {
	crtcID   uint32
	fbID     uint32
	flags    uint32
	reserved uint32
	userData uint64
}

var (
	ioctlSetMaster    = ioc(iocNone, 0x1e, 0)
	ioctlDropMaster   = ioc(iocNone, 0x1f, 0)
	ioctlGetCap       = iowr[getCap](0x0c)
	ioctlGetResources = iowr[cardRes](0xA0)
	ioctlSetCRTC      = iowr[modeCRTC](0xA2)
	ioctlGetEncoder   = iowr[getEncoder](0xA6)
	ioctlGetConnector = iowr[getConnector](0xA7)
	ioctlAddFB        = iowr[fbCmd](0xAE)
	ioctlRmFB         = iowr[uint32](0xAF)
	ioctlPageFlip     = iowr[pageFlip](0xB0)
	ioctlCreateDumb   = iowr[createDumb](0xB2)
	ioctlMapDumb      = iowr[mapDumb](0xB3)
	ioctlDestroyDumb  = iowr[destroyDumb](0xB4)
)

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

func ptr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}
