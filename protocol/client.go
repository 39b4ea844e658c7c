package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"

	"deedles.dev/booth/internal/wire"
	"github.com/sirupsen/logrus"
)

// serverIDStart is the first object ID in the range that the server
// allocates from.
const serverIDStart = 0xff000000

// object is a protocol object living in a client's ID space.
type object interface {
	dispatch(msg *wire.MessageBuffer) error

	// destroy releases whatever the object holds. It is called once,
	// either when the client destroys the object or when the client
	// disconnects.
	destroy()
}

// resource is embedded in every object to identify it.
type resource struct {
	client  *Client
	id      uint32
	iface   string
	version uint32
}

func (r *resource) event(op uint16, method string) *wire.MessageBuilder {
	mb := wire.NewMessage(r.id, op)
	mb.Method = r.iface + "." + method
	return mb
}

func (r *resource) send(mb *wire.MessageBuilder) {
	r.client.send(mb)
}

func (r *resource) errorf(code uint32, format string, args ...any) *Error {
	return &Error{
		Object:  r.id,
		Code:    code,
		Message: fmt.Sprintf("%v@%v: %v", r.iface, r.id, fmt.Sprintf(format, args...)),
	}
}

func (r *resource) unknownOp(op uint16) error {
	return r.errorf(errInvalidMethod, "%v", wire.UnknownOpError{Interface: r.iface, Op: op})
}

// Client is a connected client.
type Client struct {
	server *Server
	conn   *wire.Conn
	pid    int32
	closed bool

	objects  map[uint32]object
	display  *display
	inputs   *clientInput
	serverID uint32
}

func newClient(server *Server, conn *wire.Conn) *Client {
	c := Client{
		server:   server,
		conn:     conn,
		objects:  make(map[uint32]object),
		serverID: serverIDStart,
	}
	c.pid, _ = conn.Credentials()

	c.display = &display{resource: resource{client: &c, id: 1, iface: "wl_display", version: 1}}
	c.objects[1] = c.display

	return &c
}

func (c *Client) log() *logrus.Entry {
	return logrus.WithField("client", c.pid)
}

// PID returns the process ID of the client.
func (c *Client) PID() int32 {
	return c.pid
}

// listen reads from the connection until it fails, handing each chunk
// to the server's queue.
func (c *Client) listen() {
	for {
		chunk, err := c.conn.ReadChunk()
		if err != nil {
			c.server.queue.Push(func() { c.disconnect(err) })
			return
		}

		ok := c.server.queue.Push(func() { c.receive(chunk) })
		if !ok {
			return
		}
	}
}

func (c *Client) receive(chunk wire.Chunk) {
	if c.closed {
		return
	}

	c.conn.Feed(chunk)
	for !c.closed {
		msg, err := c.conn.Next()
		if err != nil {
			c.fail(&Error{Object: 1, Code: errInvalidMethod, Message: err.Error()})
			return
		}
		if msg == nil {
			return
		}

		err = c.dispatch(msg)
		if err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Client) dispatch(msg *wire.MessageBuffer) error {
	obj, ok := c.objects[msg.Sender()]
	if !ok {
		return &Error{Object: 1, Code: errInvalidObject, Message: wire.UnknownSenderIDError{Sender: msg.Sender()}.Error()}
	}

	tracef("client %v -> @%v op %v", c.pid, msg.Sender(), msg.Op())
	err := obj.dispatch(msg)
	if err != nil {
		return err
	}
	if err := msg.Err(); err != nil {
		return &Error{Object: msg.Sender(), Code: errInvalidMethod, Message: err.Error()}
	}
	return nil
}

// add registers a new client-created object.
func (c *Client) add(id uint32, obj object) error {
	if id == 0 {
		return &Error{Object: 1, Code: errInvalidObject, Message: "null new_id"}
	}
	if _, ok := c.objects[id]; ok {
		return &Error{Object: 1, Code: errInvalidObject, Message: fmt.Sprintf("new_id %v is already in use", id)}
	}
	c.objects[id] = obj
	return nil
}

// remove destroys an object at the client's request and lets it know
// that the ID can be reused.
func (c *Client) remove(id uint32) {
	obj, ok := c.objects[id]
	if !ok {
		return
	}
	delete(c.objects, id)
	obj.destroy()
	if id < serverIDStart {
		c.display.deleteID(id)
	}
}

// newServerID allocates an ID for an object created by the server.
func (c *Client) newServerID() uint32 {
	for {
		id := c.serverID
		c.serverID++
		if c.serverID == 0 {
			c.serverID = serverIDStart
		}
		if _, ok := c.objects[id]; !ok {
			return id
		}
	}
}

// get returns the object with the given ID if it has type T.
func get[T object](c *Client, id uint32) (T, bool) {
	obj, ok := c.objects[id].(T)
	return obj, ok
}

func (c *Client) send(mb *wire.MessageBuilder) {
	if c.closed {
		return
	}

	tracef("client %v <- %v", c.pid, mb)
	err := mb.Build(c.conn)
	if err != nil {
		c.disconnect(fmt.Errorf("send %v: %w", mb.Method, err))
	}
}

// fail reports err to the client and disconnects it.
func (c *Client) fail(err error) {
	var perr *Error
	if !errors.As(err, &perr) {
		perr = &Error{Object: 1, Code: errImplementation, Message: err.Error()}
	}

	c.log().WithError(perr).Warnln("protocol error")
	c.display.error(perr)
	c.disconnect(nil)
}

// Close disconnects the client.
func (c *Client) Close() {
	c.disconnect(nil)
}

func (c *Client) disconnect(err error) {
	if c.closed {
		return
	}
	c.closed = true

	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.log().Debugln("client disconnected")
	default:
		c.log().WithError(err).Infoln("client connection failed")
	}

	c.conn.Close()

	// Surfaces go last so that their roles are torn down first.
	var surfaces []object
	for id, obj := range c.objects {
		if _, ok := obj.(*surface); ok {
			surfaces = append(surfaces, obj)
			continue
		}
		delete(c.objects, id)
		obj.destroy()
	}
	for _, obj := range surfaces {
		obj.destroy()
	}
	c.objects = nil

	c.server.removeClient(c)
}
