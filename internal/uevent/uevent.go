// Package uevent listens for kernel device events, the same stream
// that udev consumes, in order to notice hot-plugged displays and
// input devices.
package uevent

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Action is the kind of change that an event describes.
type Action string

const (
	Add    Action = "add"
	Remove Action = "remove"
	Change Action = "change"
)

// Event is a single kernel uevent.
type Event struct {
	Action    Action
	DevPath   string
	Subsystem string
	Env       map[string]string
}

// DevName returns the path of the device node for the event, if it
// has one.
func (ev Event) DevName() string {
	name := ev.Env["DEVNAME"]
	if name == "" {
		return ""
	}
	return "/dev/" + name
}

// Hotplug reports whether the event announces a connector change on
// a DRM card.
func (ev Event) Hotplug() bool {
	return ev.Subsystem == "drm" && ev.Action == Change && ev.Env["HOTPLUG"] == "1"
}

// Parse decodes a raw uevent message. Messages begin with an
// "action@devpath" header followed by null separated KEY=value pairs.
func Parse(data []byte) (Event, error) {
	fields := bytes.Split(data, []byte{0})
	if len(fields) == 0 {
		return Event{}, errors.New("empty uevent")
	}

	action, devpath, ok := strings.Cut(string(fields[0]), "@")
	if !ok {
		return Event{}, fmt.Errorf("malformed uevent header %q", fields[0])
	}

	ev := Event{
		Action:  Action(action),
		DevPath: devpath,
		Env:     make(map[string]string, len(fields)-1),
	}
	for _, field := range fields[1:] {
		k, v, ok := strings.Cut(string(field), "=")
		if !ok {
			continue
		}
		ev.Env[k] = v
	}
	ev.Subsystem = ev.Env["SUBSYSTEM"]

	return ev, nil
}

// Monitor is a netlink socket subscribed to kernel uevents.
type Monitor struct {
	file *os.File
}

// Listen opens a new monitor.
func Listen() (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("open netlink socket: %w", err)
	}

	err = unix.Bind(fd, &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: 1,
		Pid:    0,
	})
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind netlink socket: %w", err)
	}

	return &Monitor{file: os.NewFile(uintptr(fd), "uevent")}, nil
}

func (m *Monitor) Close() error {
	return m.file.Close()
}

// Read blocks until the next event is received.
func (m *Monitor) Read() (Event, error) {
	buf := make([]byte, 8192)
	for {
		n, err := m.file.Read(buf)
		if err != nil {
			return Event{}, err
		}

		// udevd rebroadcasts on its own group with a binary header;
		// only kernel messages are accepted here.
		if bytes.HasPrefix(buf[:n], []byte("libudev")) {
			continue
		}

		ev, err := Parse(buf[:n])
		if err != nil {
			continue
		}
		return ev, nil
	}
}
