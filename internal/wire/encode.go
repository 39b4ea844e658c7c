package wire

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// MessageBuilder is an event under construction.
type MessageBuilder struct {
	// Method is the name of the event being sent. It is used only for
	// debug output.
	Method string

	sender uint32
	op     uint16
	data   []byte
	files  []*os.File
	args   []string
}

func NewMessage(sender uint32, op uint16) *MessageBuilder {
	mb := MessageBuilder{
		sender: sender,
		op:     op,
		data:   make([]byte, HeaderSize, 32),
	}
	return &mb
}

func (mb *MessageBuilder) Sender() uint32 {
	return mb.sender
}

func (mb *MessageBuilder) Op() uint16 {
	return mb.op
}

func (mb *MessageBuilder) word(v uint32) {
	mb.data = byteOrder.AppendUint32(mb.data, v)
}

func (mb *MessageBuilder) WriteInt(v int32) {
	mb.word(uint32(v))
	mb.args = append(mb.args, strconv.FormatInt(int64(v), 10))
}

func (mb *MessageBuilder) WriteUint(v uint32) {
	mb.word(v)
	mb.args = append(mb.args, strconv.FormatUint(uint64(v), 10))
}

// WriteObject writes an object ID. Zero means null.
func (mb *MessageBuilder) WriteObject(id uint32) {
	mb.word(id)
	mb.args = append(mb.args, fmt.Sprintf("@%v", id))
}

func (mb *MessageBuilder) WriteNewID(id uint32) {
	mb.word(id)
	mb.args = append(mb.args, fmt.Sprintf("new id @%v", id))
}

func (mb *MessageBuilder) WriteFixed(v Fixed) {
	mb.word(uint32(v))
	mb.args = append(mb.args, v.String())
}

func (mb *MessageBuilder) WriteString(v string) {
	length := uint32(len(v) + 1)
	mb.word(length)
	mb.data = append(mb.data, v...)
	mb.data = append(mb.data, make([]byte, 1+padding(length))...)
	mb.args = append(mb.args, strconv.Quote(v))
}

func (mb *MessageBuilder) WriteArray(v []byte) {
	length := uint32(len(v))
	mb.word(length)
	mb.data = append(mb.data, v...)
	mb.data = append(mb.data, make([]byte, padding(length))...)
	mb.args = append(mb.args, fmt.Sprintf("array[%v]", len(v)))
}

// WriteFile attaches a file descriptor. The file is not closed by the
// builder and must stay open until Build returns.
func (mb *MessageBuilder) WriteFile(f *os.File) {
	mb.files = append(mb.files, f)
	mb.args = append(mb.args, fmt.Sprintf("fd %v", f.Fd()))
}

// Bytes returns the encoded message.
func (mb *MessageBuilder) Bytes() ([]byte, error) {
	if len(mb.data) > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %v bytes", len(mb.data))
	}

	byteOrder.PutUint32(mb.data[0:], mb.sender)
	byteOrder.PutUint32(mb.data[4:], uint32(len(mb.data))<<16|uint32(mb.op))
	return mb.data, nil
}

// Build encodes the message and sends it to c. The MessageBuilder
// should not be used again after this method is called.
func (mb *MessageBuilder) Build(c *Conn) error {
	data, err := mb.Bytes()
	if err != nil {
		return err
	}

	var oob []byte
	if len(mb.files) > 0 {
		fds := make([]int, 0, len(mb.files))
		for _, f := range mb.files {
			fds = append(fds, int(f.Fd()))
		}
		oob = unix.UnixRights(fds...)
	}

	return c.write(data, oob)
}

func (mb *MessageBuilder) String() string {
	return fmt.Sprintf("@%v.%v(%v)", mb.sender, mb.Method, strings.Join(mb.args, ", "))
}
