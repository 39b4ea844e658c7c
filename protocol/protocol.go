// Package protocol implements the server side of the Wayland protocol
// objects that booth supports: the core protocol with its clipboard,
// xdg-shell with server-side decorations, the wlr layer shell, and
// virtual keyboards.
//
// Every client connection is read on its own goroutine, but decoding
// and dispatch happen on whichever goroutine calls Server.Flush, which
// is expected to be the compositor's event loop. Objects are therefore
// free to touch the scene and the seat directly.
package protocol

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Error is a fatal protocol error raised against one of a client's
// objects. It is reported to the client with wl_display.error, after
// which the client is disconnected.
type Error struct {
	Object  uint32
	Code    uint32
	Message string
}

func (err *Error) Error() string {
	return fmt.Sprintf("protocol error on object %v, code %v: %v", err.Object, err.Code, err.Message)
}

// Error codes of wl_display.
const (
	errInvalidObject  = 0
	errInvalidMethod  = 1
	errNoMemory       = 2
	errImplementation = 3
)

// traceEnabled reports whether WAYLAND_DEBUG asks for server side
// message traces.
func traceEnabled() bool {
	v := os.Getenv("WAYLAND_DEBUG")
	switch {
	case v == "1", v == "server":
		return true
	case strings.Contains(v, "server"):
		return true
	default:
		return false
	}
}

var trace = traceEnabled()

func tracef(format string, args ...any) {
	if trace {
		logrus.Debugf(format, args...)
	}
}
