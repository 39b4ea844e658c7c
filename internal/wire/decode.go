package wire

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrMissingFD is returned when a message expects a file descriptor
// that was never received.
var ErrMissingFD = errors.New("message expects a file descriptor that was not received")

// MessageBuffer holds message data that has been read from the socket
// but not yet decoded. Read errors are sticky: after the first one
// every read returns the zero value and Err reports the error.
type MessageBuffer struct {
	conn   *Conn
	sender uint32
	op     uint16
	data   []byte
	off    int
	err    error
}

// Sender is the object ID of the sender of the message.
func (r *MessageBuffer) Sender() uint32 {
	return r.sender
}

// Op is the opcode of the message.
func (r *MessageBuffer) Op() uint16 {
	return r.op
}

// Size is the total size of the message, including the header.
func (r *MessageBuffer) Size() int {
	return len(r.data) + HeaderSize
}

func (r *MessageBuffer) Err() error {
	return r.err
}

func (r *MessageBuffer) word() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.data)-r.off < 4 {
		r.err = fmt.Errorf("message from %v op %v: %w", r.sender, r.op, io.ErrUnexpectedEOF)
		return 0
	}

	v := byteOrder.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *MessageBuffer) ReadInt() int32 {
	return int32(r.word())
}

func (r *MessageBuffer) ReadUint() uint32 {
	return r.word()
}

func (r *MessageBuffer) ReadFixed() Fixed {
	return Fixed(r.word())
}

// ReadObject reads an object ID. Zero means null.
func (r *MessageBuffer) ReadObject() uint32 {
	return r.word()
}

// ReadNewID reads the ID of an object being created with an
// interface that is fixed by the protocol.
func (r *MessageBuffer) ReadNewID() uint32 {
	return r.word()
}

// NewID is a new_id argument without a fixed interface, as used by
// wl_registry.bind.
type NewID struct {
	Interface string
	Version   uint32
	ID        uint32
}

func (r *MessageBuffer) ReadUntypedNewID() NewID {
	return NewID{
		Interface: r.ReadString(),
		Version:   r.ReadUint(),
		ID:        r.ReadUint(),
	}
}

func (r *MessageBuffer) bytes(length uint32) []byte {
	if r.err != nil {
		return nil
	}

	total := int(length + padding(length))
	if total < 0 || len(r.data)-r.off < total {
		r.err = fmt.Errorf("message from %v op %v: %w", r.sender, r.op, io.ErrUnexpectedEOF)
		return nil
	}

	b := r.data[r.off : r.off+int(length)]
	r.off += total
	return b
}

func (r *MessageBuffer) ReadString() string {
	length := r.ReadUint()
	if length == 0 {
		return ""
	}

	b := r.bytes(length)
	if r.err != nil {
		return ""
	}
	if b[len(b)-1] != 0 {
		r.err = fmt.Errorf("message from %v op %v: string is not null terminated", r.sender, r.op)
		return ""
	}
	return string(b[:len(b)-1])
}

func (r *MessageBuffer) ReadArray() []byte {
	length := r.ReadUint()
	b := r.bytes(length)
	if r.err != nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// ReadFile takes the next file descriptor received on the connection.
// The caller owns the returned file.
func (r *MessageBuffer) ReadFile() *os.File {
	if r.err != nil {
		return nil
	}

	fd, ok := r.conn.popFD()
	if !ok {
		r.err = ErrMissingFD
		return nil
	}
	return os.NewFile(uintptr(fd), "wayland-fd")
}
