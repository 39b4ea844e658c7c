// Package wire implements the Wayland wire format for the server side
// of a connection.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// byteOrder is the host byte order.
var byteOrder = binary.NativeEndian

// HeaderSize is the size of the sender and size/opcode words that
// start every message.
const HeaderSize = 8

// MaxMessageSize is the largest message the size field can describe.
const MaxMessageSize = math.MaxUint16

func padding(l uint32) uint32 {
	return (4 - (l & 0x3)) & 0x3
}

// Fixed is a 24.8 signed fixed-point number.
type Fixed int32

func FixedInt(v int) Fixed {
	return Fixed(v << 8)
}

func FixedFloat(v float64) Fixed {
	return Fixed(math.Round(v * 256))
}

func (f Fixed) Int() int {
	return int(f >> 8)
}

func (f Fixed) Float() float64 {
	return float64(f) / 256
}

func (f Fixed) String() string {
	return fmt.Sprint(f.Float())
}

// UnknownOpError is returned when dispatching a message with an
// opcode that the receiving interface does not define.
type UnknownOpError struct {
	Interface string
	Op        uint16
}

func (err UnknownOpError) Error() string {
	return fmt.Sprintf("unknown opcode for %v: %v", err.Interface, err.Op)
}

// UnknownSenderIDError is returned by an attempt to dispatch an
// incoming message that indicates a method call on an object that
// the connection doesn't know about.
type UnknownSenderIDError struct {
	Sender uint32
}

func (err UnknownSenderIDError) Error() string {
	return fmt.Sprintf("unknown sender object ID: %v", err.Sender)
}
