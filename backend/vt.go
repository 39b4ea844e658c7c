package backend

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Console ioctls from linux/kd.h and linux/vt.h.
const (
	kdSetMode   = 0x4B3A
	kdGetKbMode = 0x4B44
	kdSetKbMode = 0x4B45

	kdText     = 0x00
	kdGraphics = 0x01
	kOff       = 0x04

	vtSetMode  = 0x5602
	vtGetState = 0x5603
	vtRelDisp  = 0x5605
	vtActivate = 0x5606

	vtAuto    = 0x00
	vtProcess = 0x01
	vtAckAcq  = 0x02
)

type vtMode struct {
	mode   int8
	waitv  int8
	relsig int16
	acqsig int16
	frsig  int16
}

type vtStat struct {
	active uint16
	signal uint16
	state  uint16
}

// terminal is the virtual terminal that the compositor draws on. While
// it is set up, switching away from it is negotiated through signals
// instead of happening immediately.
type terminal struct {
	file   *os.File
	num    int
	kbMode int32
}

func ioctlPtr(f *os.File, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlInt(f *os.File, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// activeVT returns the number of the virtual terminal currently in
// the foreground.
func activeVT() (int, error) {
	data, err := os.ReadFile("/sys/class/tty/tty0/active")
	if err != nil {
		return 0, err
	}
	return parseVT(string(data))
}

func parseVT(name string) (int, error) {
	name = strings.TrimSpace(name)
	num, ok := strings.CutPrefix(name, "tty")
	if !ok {
		return 0, fmt.Errorf("%q is not a virtual terminal", name)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%q is not a virtual terminal", name)
	}
	return n, nil
}

func openTerminal() (*terminal, error) {
	num, err := activeVT()
	if err != nil {
		return nil, fmt.Errorf("find active vt: %w", err)
	}

	path := fmt.Sprintf("/dev/tty%d", num)
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}

	var stat vtStat
	err = ioctlPtr(file, vtGetState, unsafe.Pointer(&stat))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%v is not a virtual terminal: %w", path, err)
	}

	return &terminal{file: file, num: num}, nil
}

// setup puts the terminal in graphics mode, stops it from reading the
// keyboard, and has it ask before switching away with relsig and
// confirm switching back with acqsig.
func (t *terminal) setup(relsig, acqsig unix.Signal) error {
	err := ioctlPtr(t.file, kdGetKbMode, unsafe.Pointer(&t.kbMode))
	if err != nil {
		return fmt.Errorf("get keyboard mode: %w", err)
	}
	err = ioctlInt(t.file, kdSetKbMode, kOff)
	if err != nil {
		return fmt.Errorf("disable keyboard: %w", err)
	}
	err = ioctlInt(t.file, kdSetMode, kdGraphics)
	if err != nil {
		return fmt.Errorf("set graphics mode: %w", err)
	}

	mode := vtMode{
		mode:   vtProcess,
		relsig: int16(relsig),
		acqsig: int16(acqsig),
	}
	err = ioctlPtr(t.file, vtSetMode, unsafe.Pointer(&mode))
	if err != nil {
		return fmt.Errorf("set vt mode: %w", err)
	}
	return nil
}

// restore returns the terminal to text mode with automatic switching.
func (t *terminal) restore() error {
	mode := vtMode{mode: vtAuto}
	errs := []error{
		ioctlInt(t.file, kdSetMode, kdText),
		ioctlInt(t.file, kdSetKbMode, uintptr(t.kbMode)),
		ioctlPtr(t.file, vtSetMode, unsafe.Pointer(&mode)),
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// release allows a pending switch away from the terminal.
func (t *terminal) release() error {
	return ioctlInt(t.file, vtRelDisp, 1)
}

// acquire acknowledges a switch back to the terminal.
func (t *terminal) acquire() error {
	return ioctlInt(t.file, vtRelDisp, vtAckAcq)
}

func (t *terminal) activate(vt int) error {
	if vt == t.num {
		return nil
	}
	return ioctlInt(t.file, vtActivate, uintptr(vt))
}

func (t *terminal) close() error {
	err := t.restore()
	cerr := t.file.Close()
	if err != nil {
		return err
	}
	return cerr
}
