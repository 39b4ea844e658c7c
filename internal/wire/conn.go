package wire

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	readSize = 4096

	// maxFDs is the most file descriptors accepted with a single read,
	// mirroring the limit used by libwayland.
	maxFDs = 28
)

// Chunk is raw data read from a connection along with any file
// descriptors that arrived with it.
type Chunk struct {
	Data []byte
	FDs  []int
}

// Conn is the server end of a client connection. Reading is split in
// two: ReadChunk blocks on the socket and is meant to be called from
// a dedicated goroutine, while Feed and Next decode messages and must
// be called from the goroutine that owns the connection's objects.
// File descriptors are consumed in the order that messages read them,
// so they have to be decoded on the owning goroutine.
type Conn struct {
	conn    *net.UnixConn
	timeout time.Duration

	in  []byte
	fds []int
}

// NewConn creates a new Conn that wraps c. After this is called, use
// the provided Close method to close c instead of calling its own
// Close method.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{
		conn:    c,
		timeout: time.Second,
	}
}

// SetWriteTimeout sets how long a write may block before it fails.
// A client that does not read its events within that time is
// considered dead.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	c.timeout = d
}

// Close closes the underlying connection and any file descriptors
// that were received but never consumed.
func (c *Conn) Close() error {
	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
	return c.conn.Close()
}

// Credentials returns the process ID of the peer.
func (c *Conn) Credentials() (pid int32, err error) {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var cred *unix.Ucred
	cerr := raw.Control(func(fd uintptr) {
		cred, err = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if cerr != nil {
		return 0, cerr
	}
	if err != nil {
		return 0, err
	}
	return cred.Pid, nil
}

// ReadChunk blocks until data is available and returns it.
func (c *Conn) ReadChunk() (Chunk, error) {
	buf := make([]byte, readSize)
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))
	n, oobn, _, _, err := c.conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return Chunk{}, err
	}

	fds, err := parseFDs(oob[:oobn])
	if err != nil {
		return Chunk{}, err
	}
	if n == 0 && len(fds) == 0 {
		return Chunk{}, net.ErrClosed
	}
	return Chunk{Data: buf[:n], FDs: fds}, nil
}

func parseFDs(data []byte) ([]int, error) {
	if len(data) == 0 {
		return nil, nil
	}

	cmsgs, err := unix.ParseSocketControlMessage(data)
	if err != nil {
		return nil, fmt.Errorf("parse socket control messages: %w", err)
	}

	var all []int
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			if errors.Is(err, unix.EINVAL) {
				continue
			}
			return nil, fmt.Errorf("parse unix control message: %w", err)
		}
		all = append(all, fds...)
	}
	return all, nil
}

// Feed appends a chunk read by ReadChunk to the decode buffer.
func (c *Conn) Feed(chunk Chunk) {
	c.in = append(c.in, chunk.Data...)
	c.fds = append(c.fds, chunk.FDs...)
}

// Next decodes the next complete message from the decode buffer. It
// returns nil without an error if no complete message is buffered.
func (c *Conn) Next() (*MessageBuffer, error) {
	if len(c.in) < HeaderSize {
		return nil, nil
	}

	sender := byteOrder.Uint32(c.in[0:4])
	so := byteOrder.Uint32(c.in[4:8])
	size := int(so >> 16)
	op := uint16(so & 0xFFFF)
	if size < HeaderSize || size%4 != 0 {
		return nil, fmt.Errorf("invalid message size %v from object %v", size, sender)
	}
	if len(c.in) < size {
		return nil, nil
	}

	data := make([]byte, size-HeaderSize)
	copy(data, c.in[HeaderSize:size])
	c.in = c.in[:copy(c.in, c.in[size:])]

	return &MessageBuffer{
		conn:   c,
		sender: sender,
		op:     op,
		data:   data,
	}, nil
}

func (c *Conn) popFD() (int, bool) {
	if len(c.fds) == 0 {
		return -1, false
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, true
}

func (c *Conn) write(data, oob []byte) error {
	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	_, _, err := c.conn.WriteMsgUnix(data, oob, nil)
	return err
}

func xdgRuntimeDir() string {
	dir, ok := os.LookupEnv("XDG_RUNTIME_DIR")
	if ok {
		return dir
	}
	return fmt.Sprintf("/run/user/%v", os.Getuid())
}

// Listener is a listening Wayland socket along with the lock file
// that claims its name.
type Listener struct {
	*net.UnixListener
	Name string
	lock *os.File
}

// Close closes the socket and removes it and its lock file.
func (lis *Listener) Close() error {
	err := lis.UnixListener.Close()
	os.Remove(lis.lock.Name())
	lis.lock.Close()
	return err
}

// Listen opens a new socket in the runtime directory. If name is
// empty, the first free wayland-N name is used.
func Listen(name string) (*Listener, error) {
	dir := xdgRuntimeDir()
	if name != "" {
		return listen(dir, name)
	}

	for i := range 32 {
		lis, err := listen(dir, "wayland-"+strconv.Itoa(i))
		if err == nil {
			return lis, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EADDRINUSE) {
			return nil, err
		}
	}
	return nil, errors.New("no free socket name")
}

func listen(dir, name string) (*Listener, error) {
	if strings.ContainsRune(name, '/') {
		return nil, fmt.Errorf("invalid socket name %q", name)
	}
	path := filepath.Join(dir, name)

	lock, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR|unix.O_CLOEXEC, 0o660)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	err = unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("lock %v: %w", name, err)
	}

	// Holding the lock means any socket file left behind is stale.
	os.Remove(path)

	lis, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		os.Remove(lock.Name())
		lock.Close()
		return nil, fmt.Errorf("listen on %v: %w", path, err)
	}
	lis.SetUnlinkOnClose(true)

	return &Listener{UnixListener: lis, Name: name, lock: lock}, nil
}
