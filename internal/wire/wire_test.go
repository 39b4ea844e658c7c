package wire_test

import (
	"encoding/binary"
	"net"
	"os"
	"testing"

	"deedles.dev/booth/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (*wire.Conn, *wire.Conn) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	conn := func(fd int) *wire.Conn {
		f := os.NewFile(uintptr(fd), "socketpair")
		defer f.Close()
		c, err := net.FileConn(f)
		require.NoError(t, err)
		return wire.NewConn(c.(*net.UnixConn))
	}

	a, b := conn(fds[0]), conn(fds[1])
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestMessageWithFile(t *testing.T) {
	a, b := socketPair(t)

	f, err := os.CreateTemp(t.TempDir(), "fd")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString("keymap")
	require.NoError(t, err)

	msg := wire.NewMessage(3, 1)
	msg.WriteInt(-5)
	msg.WriteString("wl_seat")
	msg.WriteFixed(wire.FixedFloat(1.5))
	msg.WriteFile(f)
	msg.WriteArray([]byte{1, 2, 3})
	require.NoError(t, msg.Build(a))

	chunk, err := b.ReadChunk()
	require.NoError(t, err)
	b.Feed(chunk)

	buf, err := b.Next()
	require.NoError(t, err)
	require.NotNil(t, buf)

	assert.Equal(t, uint32(3), buf.Sender())
	assert.Equal(t, uint16(1), buf.Op())
	assert.Equal(t, int32(-5), buf.ReadInt())
	assert.Equal(t, "wl_seat", buf.ReadString())
	assert.Equal(t, 1.5, buf.ReadFixed().Float())

	got := buf.ReadFile()
	require.NotNil(t, got)
	defer got.Close()
	data := make([]byte, 6)
	_, err = got.ReadAt(data, 0)
	require.NoError(t, err)
	assert.Equal(t, "keymap", string(data))

	assert.Equal(t, []byte{1, 2, 3}, buf.ReadArray())
	assert.NoError(t, buf.Err())
}

func TestNextPartial(t *testing.T) {
	_, b := socketPair(t)

	msg := wire.NewMessage(1, 0)
	msg.WriteUint(7)
	data, err := msg.Bytes()
	require.NoError(t, err)

	b.Feed(wire.Chunk{Data: data[:6]})
	buf, err := b.Next()
	require.NoError(t, err)
	assert.Nil(t, buf)

	b.Feed(wire.Chunk{Data: data[6:]})
	buf, err = b.Next()
	require.NoError(t, err)
	require.NotNil(t, buf)
	assert.Equal(t, uint32(7), buf.ReadUint())

	buf, err = b.Next()
	assert.NoError(t, err)
	assert.Nil(t, buf)
}

func TestShortMessage(t *testing.T) {
	_, b := socketPair(t)

	msg := wire.NewMessage(1, 0)
	data, err := msg.Bytes()
	require.NoError(t, err)
	b.Feed(wire.Chunk{Data: data})

	buf, err := b.Next()
	require.NoError(t, err)
	buf.ReadUint()
	assert.Error(t, buf.Err())
	assert.Nil(t, buf.ReadFile())
}

func TestFixed(t *testing.T) {
	assert.Equal(t, -2.25, wire.FixedFloat(-2.25).Float())
	assert.Equal(t, 3, wire.FixedInt(3).Int())
}

func TestMessageHeader(t *testing.T) {
	msg := wire.NewMessage(9, 2)
	msg.WriteUint(0x01020304)
	data, err := msg.Bytes()
	require.NoError(t, err)
	require.Len(t, data, 12)

	assert.Equal(t, uint32(9), binary.NativeEndian.Uint32(data[0:]))
	assert.Equal(t, uint32(12)<<16|2, binary.NativeEndian.Uint32(data[4:]))
	assert.Equal(t, uint32(0x01020304), binary.NativeEndian.Uint32(data[8:]))
}
