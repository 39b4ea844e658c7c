package protocol

import (
	"encoding/binary"
	"image"
	"net"
	"os"
	"testing"
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/shm"
	"deedles.dev/booth/internal/wire"
	"deedles.dev/booth/internal/xkb"
	"deedles.dev/booth/output"
	"deedles.dev/booth/scene"
	"deedles.dev/booth/seat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fixture struct {
	t      *testing.T
	srv    *Server
	sc     *scene.Scene
	seat   *seat.Seat
	router *seat.Router
	out    *output.Output
}

func newFixture(t *testing.T, config Config) *fixture {
	return newKeyboardFixture(t, config, nil)
}

// newKeyboardFixture returns a fixture whose seat uses km for its
// physical keyboards.
func newKeyboardFixture(t *testing.T, config Config, km *xkb.Keymap) *fixture {
	sc := scene.New()
	outs := output.NewManager(nil)
	out, err := outs.Add(output.ConnectorInfo{
		Name:  "TEST-1",
		Make:  "booth",
		Model: "test",
		Modes: []output.Mode{{Size: geom.Pt(800, 600), RefreshMHz: 60000, Preferred: true}},
	})
	require.NoError(t, err)

	st := seat.New("seat0", km)
	srv := NewServer(nil, sc, st, outs, config)
	sc.Listener = srv
	sc.AddOutput(out)
	srv.AddOutput(out)

	router := seat.NewRouter(st, sc, outs, srv)
	srv.Router = router
	t.Cleanup(func() { srv.Close() })

	return &fixture{
		t:      t,
		srv:    srv,
		sc:     sc,
		seat:   st,
		router: router,
		out:    out,
	}
}

type event struct {
	sender uint32
	op     uint16
	msg    *wire.MessageBuffer
}

// testClient speaks the wire protocol from the client side of a
// socket pair. Requests and events share a format, so the server's
// own codec is used in both directions.
type testClient struct {
	f      *fixture
	conn   *wire.Conn
	chunks chan wire.Chunk
	nextID uint32

	registry uint32
	globals  map[string]uint32
	events   []event
	dead     bool
}

func socketPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	conns := make([]*net.UnixConn, 2)
	for i, fd := range fds {
		file := os.NewFile(uintptr(fd), "socketpair")
		c, err := net.FileConn(file)
		file.Close()
		require.NoError(t, err)
		conns[i] = c.(*net.UnixConn)
	}
	return conns[0], conns[1]
}

func (f *fixture) connect() *testClient {
	server, client := socketPair(f.t)
	f.srv.addClient(server)

	c := testClient{
		f:       f,
		conn:    wire.NewConn(client),
		chunks:  make(chan wire.Chunk, 16),
		nextID:  2,
		globals: make(map[string]uint32),
	}
	go func(conn *wire.Conn, chunks chan<- wire.Chunk) {
		defer close(chunks)
		for {
			chunk, err := conn.ReadChunk()
			if err != nil {
				return
			}
			chunks <- chunk
		}
	}(c.conn, c.chunks)
	f.t.Cleanup(func() { c.conn.Close() })

	registry := c.newID()
	c.request(1, 1, func(mb *wire.MessageBuilder) { mb.WriteNewID(registry) })
	c.roundtrip()
	for _, ev := range c.take(registry, 0) {
		name := ev.msg.ReadUint()
		iface := ev.msg.ReadString()
		c.globals[iface] = name
	}
	c.registry = registry

	return &c
}

func (c *testClient) newID() uint32 {
	id := c.nextID
	c.nextID++
	return id
}

func (c *testClient) request(sender uint32, op uint16, args func(mb *wire.MessageBuilder)) {
	mb := wire.NewMessage(sender, op)
	if args != nil {
		args(mb)
	}
	require.NoError(c.f.t, mb.Build(c.conn))
}

// pump runs the server until cond is true.
func (c *testClient) pump(cond func() bool) {
	timeout := time.After(2 * time.Second)
	for !cond() {
		select {
		case batch := <-c.f.srv.Queue():
			c.f.srv.Flush(batch)

		case chunk, ok := <-c.chunks:
			if !ok {
				c.dead = true
				c.chunks = nil
				continue
			}
			c.conn.Feed(chunk)
			for {
				msg, err := c.conn.Next()
				require.NoError(c.f.t, err)
				if msg == nil {
					break
				}
				c.events = append(c.events, event{sender: msg.Sender(), op: msg.Op(), msg: msg})
			}

		case <-timeout:
			c.f.t.Fatal("timed out")
		}
	}
}

// roundtrip waits until the server has handled every request sent so
// far and the client has read the events it sent in response.
func (c *testClient) roundtrip() {
	if c.dead {
		c.f.t.Fatal("connection closed")
	}
	id := c.newID()
	c.request(1, 0, func(mb *wire.MessageBuilder) { mb.WriteNewID(id) })
	c.pump(func() bool {
		for _, ev := range c.events {
			if ev.sender == id && ev.op == 0 {
				return true
			}
		}
		return false
	})
}

// take removes and returns the events from sender with the given
// opcode.
func (c *testClient) take(sender uint32, op uint16) []event {
	var taken []event
	rest := c.events[:0]
	for _, ev := range c.events {
		if ev.sender == sender && ev.op == op {
			taken = append(taken, ev)
			continue
		}
		rest = append(rest, ev)
	}
	c.events = rest
	return taken
}

func (c *testClient) bind(iface string, version uint32) uint32 {
	name, ok := c.globals[iface]
	require.True(c.f.t, ok, "no %v global", iface)

	id := c.newID()
	c.request(c.registry, 0, func(mb *wire.MessageBuilder) {
		mb.WriteUint(name)
		mb.WriteString(iface)
		mb.WriteUint(version)
		mb.WriteNewID(id)
	})
	return id
}

func (c *testClient) create(sender uint32, op uint16, args ...uint32) uint32 {
	id := c.newID()
	c.request(sender, op, func(mb *wire.MessageBuilder) {
		mb.WriteNewID(id)
		for _, arg := range args {
			mb.WriteUint(arg)
		}
	})
	return id
}

// buffer creates a shared memory buffer filled with a single color.
func (c *testClient) buffer(shmID uint32, w, h int, pixel uint32) uint32 {
	size := w * h * 4
	file, err := shm.Create("booth-test", size)
	require.NoError(c.f.t, err)
	defer file.Close()

	mem, err := shm.Map(file, size, unix.PROT_READ|unix.PROT_WRITE)
	require.NoError(c.f.t, err)
	for i := 0; i < size; i += 4 {
		binary.LittleEndian.PutUint32(mem[i:], pixel)
	}
	mem.Unmap()

	pool := c.newID()
	c.request(shmID, 0, func(mb *wire.MessageBuilder) {
		mb.WriteNewID(pool)
		mb.WriteFile(file)
		mb.WriteInt(int32(size))
	})

	buf := c.newID()
	c.request(pool, 0, func(mb *wire.MessageBuilder) {
		mb.WriteNewID(buf)
		mb.WriteInt(0)
		mb.WriteInt(int32(w))
		mb.WriteInt(int32(h))
		mb.WriteInt(int32(w * 4))
		mb.WriteUint(formatARGB8888)
	})
	c.request(pool, 1, nil)
	c.roundtrip()
	return buf
}

func (c *testClient) protocolError() (object, code uint32) {
	c.pump(func() bool { return len(c.find(1, 0)) > 0 })
	ev := c.find(1, 0)[0]
	return ev.msg.ReadObject(), ev.msg.ReadUint()
}

func (c *testClient) find(sender uint32, op uint16) []event {
	var found []event
	for _, ev := range c.events {
		if ev.sender == sender && ev.op == op {
			found = append(found, ev)
		}
	}
	return found
}

type toplevelIDs struct {
	surface, xdg, toplevel uint32
}

func (c *testClient) toplevel(compositor, wm uint32) toplevelIDs {
	var ids toplevelIDs
	ids.surface = c.create(compositor, 0)
	ids.xdg = c.create(wm, 2, ids.surface)
	ids.toplevel = c.create(ids.xdg, 1)
	c.request(ids.surface, 6, nil)
	c.roundtrip()
	return ids
}

// mapToplevel creates a toplevel, acknowledges its configure and
// commits a buffer filling the output.
func (c *testClient) mapToplevel() toplevelIDs {
	comp := c.bind("wl_compositor", 5)
	wm := c.bind("xdg_wm_base", 3)
	shmID := c.bind("wl_shm", 1)

	ids := c.toplevel(comp, wm)
	serial := c.take(ids.xdg, 0)[0].msg.ReadUint()
	c.request(ids.xdg, 4, func(mb *wire.MessageBuilder) { mb.WriteUint(serial) })
	buf := c.buffer(shmID, 800, 600, 0)
	c.request(ids.surface, 1, func(mb *wire.MessageBuilder) {
		mb.WriteObject(buf)
		mb.WriteInt(0)
		mb.WriteInt(0)
	})
	c.request(ids.surface, 6, nil)
	c.roundtrip()
	return ids
}

func (c *testClient) surfaceID(id uint32) scene.SurfaceID {
	for sid, surf := range c.f.srv.surfaces {
		if surf.id == id && surf.client != nil && !surf.client.closed {
			return sid
		}
	}
	return scene.SurfaceID{}
}

func TestRegistryAdvertisesGlobals(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()

	for _, iface := range []string{"wl_compositor", "wl_subcompositor", "wl_shm", "wl_seat", "wl_output", "xdg_wm_base", "zwlr_layer_shell_v1", "zxdg_decoration_manager_v1", "wl_data_device_manager", "zwp_virtual_keyboard_manager_v1"} {
		assert.Contains(t, c.globals, iface)
	}

	f.srv.RemoveOutput(f.out.ID)
	c.roundtrip()
	removed := c.take(c.registry, 1)
	require.Len(t, removed, 1)
	assert.Equal(t, c.globals["wl_output"], removed[0].msg.ReadUint())
}

func TestBindUnknownGlobal(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()

	c.request(c.registry, 0, func(mb *wire.MessageBuilder) {
		mb.WriteUint(99)
		mb.WriteString("wl_compositor")
		mb.WriteUint(1)
		mb.WriteNewID(c.newID())
	})
	obj, code := c.protocolError()
	assert.Equal(t, c.registry, obj)
	assert.EqualValues(t, errInvalidObject, code)
}

func TestOutputEvents(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()

	out := c.bind("wl_output", 4)
	c.roundtrip()

	mode := c.take(out, 1)
	require.Len(t, mode, 1)
	assert.EqualValues(t, modeCurrent|modePreferred, mode[0].msg.ReadUint())
	assert.EqualValues(t, 800, mode[0].msg.ReadInt())
	assert.EqualValues(t, 600, mode[0].msg.ReadInt())

	name := c.take(out, 4)
	require.Len(t, name, 1)
	assert.Equal(t, "TEST-1", name[0].msg.ReadString())
	assert.Len(t, c.take(out, 2), 1)
}

func TestToplevelLifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()
	comp := c.bind("wl_compositor", 5)
	wm := c.bind("xdg_wm_base", 3)
	shmID := c.bind("wl_shm", 1)
	out := c.bind("wl_output", 4)

	ids := c.toplevel(comp, wm)

	configures := c.take(ids.toplevel, 0)
	require.Len(t, configures, 1)
	assert.EqualValues(t, 800, configures[0].msg.ReadInt())
	assert.EqualValues(t, 600, configures[0].msg.ReadInt())
	states := configures[0].msg.ReadArray()
	require.Len(t, states, 8)
	assert.EqualValues(t, toplevelStateFullscreen, binary.NativeEndian.Uint32(states))

	serials := c.take(ids.xdg, 0)
	require.Len(t, serials, 1)
	c.request(ids.xdg, 4, func(mb *wire.MessageBuilder) { mb.WriteUint(serials[0].msg.ReadUint()) })

	buf := c.buffer(shmID, 800, 600, 0xFF0000FF)
	c.request(ids.surface, 1, func(mb *wire.MessageBuilder) {
		mb.WriteObject(buf)
		mb.WriteInt(0)
		mb.WriteInt(0)
	})
	c.request(ids.surface, 6, nil)
	c.roundtrip()

	sid := c.surfaceID(ids.surface)
	app := f.sc.VisibleApplication(f.out.ID)
	require.NotNil(t, app)
	assert.Equal(t, sid, app.ID())
	assert.Equal(t, geom.Pt(800, 600), app.Size())

	enter := c.take(ids.surface, 0)
	require.Len(t, enter, 1)
	assert.Equal(t, out, enter[0].msg.ReadObject())

	frame, err := f.sc.BeginFrame(f.out.ID)
	require.NoError(t, err)
	b, ok := f.sc.TakeBuffer(frame, sid)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 800, 600), b.Image().Bounds())
	f.sc.FinishFrame(frame)
	c.roundtrip()
	assert.Len(t, c.take(buf, 0), 1, "buffer should be released after the frame")

	c.request(ids.toplevel, 0, nil)
	c.roundtrip()
	assert.Nil(t, f.sc.VisibleApplication(f.out.ID))
}

func TestBufferBeforeConfigureAck(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()
	comp := c.bind("wl_compositor", 5)
	wm := c.bind("xdg_wm_base", 3)
	shmID := c.bind("wl_shm", 1)

	ids := c.toplevel(comp, wm)
	buf := c.buffer(shmID, 10, 10, 0)
	c.request(ids.surface, 1, func(mb *wire.MessageBuilder) {
		mb.WriteObject(buf)
		mb.WriteInt(0)
		mb.WriteInt(0)
	})
	c.request(ids.surface, 6, nil)

	obj, code := c.protocolError()
	assert.Equal(t, ids.xdg, obj)
	assert.EqualValues(t, xdgSurfaceErrUnconfiguredBuffer, code)
	c.pump(func() bool { return f.srv.Clients() == 0 })
	assert.Zero(t, f.sc.Len())
}

func TestPopupDismissed(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()
	comp := c.bind("wl_compositor", 5)
	wm := c.bind("xdg_wm_base", 3)

	surf := c.create(comp, 0)
	xdg := c.create(wm, 2, surf)
	pos := c.create(wm, 1)
	popup := c.create(xdg, 2, 0, pos)
	c.roundtrip()

	assert.Len(t, c.take(popup, 1), 1)
}

func TestLayerSurfaceConfigure(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()
	comp := c.bind("wl_compositor", 5)
	shell := c.bind("zwlr_layer_shell_v1", 4)

	surf := c.create(comp, 0)
	layer := c.newID()
	c.request(shell, 0, func(mb *wire.MessageBuilder) {
		mb.WriteNewID(layer)
		mb.WriteObject(surf)
		mb.WriteObject(0)
		mb.WriteUint(uint32(scene.LayerTop))
		mb.WriteString("osk")
	})
	c.request(layer, 0, func(mb *wire.MessageBuilder) {
		mb.WriteUint(0)
		mb.WriteUint(200)
	})
	c.request(layer, 1, func(mb *wire.MessageBuilder) {
		mb.WriteUint(uint32(geom.EdgeBottom | geom.EdgeLeft | geom.EdgeRight))
	})
	c.request(layer, 2, func(mb *wire.MessageBuilder) { mb.WriteInt(200) })
	c.request(layer, 4, func(mb *wire.MessageBuilder) { mb.WriteUint(uint32(scene.InteractivityExclusive)) })
	c.request(surf, 6, nil)
	c.roundtrip()

	configures := c.take(layer, 0)
	require.Len(t, configures, 1)
	configures[0].msg.ReadUint()
	assert.EqualValues(t, 800, configures[0].msg.ReadUint())
	assert.EqualValues(t, 200, configures[0].msg.ReadUint())

	s := f.sc.Get(c.surfaceID(surf))
	require.NotNil(t, s)
	assert.Equal(t, scene.RoleLayer, s.Role())
	assert.Equal(t, scene.InteractivityExclusive, s.Layer().Interactivity)
}

func TestLayerSurfaceInvalidSize(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()
	comp := c.bind("wl_compositor", 5)
	shell := c.bind("zwlr_layer_shell_v1", 4)

	surf := c.create(comp, 0)
	layer := c.newID()
	c.request(shell, 0, func(mb *wire.MessageBuilder) {
		mb.WriteNewID(layer)
		mb.WriteObject(surf)
		mb.WriteObject(0)
		mb.WriteUint(uint32(scene.LayerOverlay))
		mb.WriteString("bad")
	})
	c.request(surf, 6, nil)

	obj, code := c.protocolError()
	assert.Equal(t, layer, obj)
	assert.EqualValues(t, layerSurfaceErrInvalidSize, code)
}

func TestLayerSurfaceClosedWithOutput(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()
	comp := c.bind("wl_compositor", 5)
	shell := c.bind("zwlr_layer_shell_v1", 4)

	surf := c.create(comp, 0)
	layer := c.newID()
	c.request(shell, 0, func(mb *wire.MessageBuilder) {
		mb.WriteNewID(layer)
		mb.WriteObject(surf)
		mb.WriteObject(0)
		mb.WriteUint(uint32(scene.LayerBottom))
		mb.WriteString("panel")
	})
	c.request(layer, 1, func(mb *wire.MessageBuilder) { mb.WriteUint(uint32(geom.EdgeAll)) })
	c.request(surf, 6, nil)
	c.roundtrip()

	f.sc.RemoveOutput(f.out.ID)
	f.srv.RemoveOutput(f.out.ID)
	c.roundtrip()
	assert.Len(t, c.take(layer, 1), 1)

	// Commits to a closed layer surface are harmless.
	c.request(surf, 6, nil)
	c.roundtrip()
	assert.Equal(t, 1, f.srv.Clients())
}

func TestDisconnectDestroysSurfaces(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()
	comp := c.bind("wl_compositor", 5)
	wm := c.bind("xdg_wm_base", 3)
	c.toplevel(comp, wm)
	c.create(comp, 0)
	c.roundtrip()
	require.Equal(t, 2, f.sc.Len())

	var gone *Client
	f.srv.OnClientGone = func(client *Client) { gone = client }

	c.conn.Close()
	c.pump(func() bool { return f.srv.Clients() == 0 })
	assert.NotNil(t, gone)
	assert.Zero(t, f.sc.Len())
	assert.Empty(t, f.srv.surfaces)
}

func TestKeyboardSetup(t *testing.T) {
	km, err := xkb.New(xkb.Names{})
	require.NoError(t, err)
	defer km.Close()

	f := newKeyboardFixture(t, Config{RepeatRate: 25, RepeatDelay: 200}, km)
	c := f.connect()
	seatID := c.bind("wl_seat", 7)
	kb := c.create(seatID, 1)
	c.roundtrip()

	keymaps := c.take(kb, 0)
	require.Len(t, keymaps, 1)
	assert.EqualValues(t, keymapFormatXKBV1, keymaps[0].msg.ReadUint())
	file := keymaps[0].msg.ReadFile()
	require.NotNil(t, file)
	file.Close()
	_, size := km.File()
	assert.Equal(t, size, keymaps[0].msg.ReadUint())

	repeat := c.take(kb, 5)
	require.Len(t, repeat, 1)
	assert.EqualValues(t, 25, repeat[0].msg.ReadInt())
	assert.EqualValues(t, 200, repeat[0].msg.ReadInt())

	names := c.take(seatID, 1)
	require.Len(t, names, 1)
	assert.Equal(t, "seat0", names[0].msg.ReadString())
}

func TestInputDelivery(t *testing.T) {
	f := newFixture(t, Config{})
	f.seat.AddDevice("mouse", seat.CapPointer)
	f.seat.AddDevice("kbd", seat.CapKeyboard)

	c := f.connect()
	comp := c.bind("wl_compositor", 5)
	wm := c.bind("xdg_wm_base", 3)
	shmID := c.bind("wl_shm", 1)
	seatID := c.bind("wl_seat", 7)
	ptr := c.create(seatID, 0)
	kb := c.create(seatID, 1)

	ids := c.toplevel(comp, wm)
	serial := c.take(ids.xdg, 0)[0].msg.ReadUint()
	c.request(ids.xdg, 4, func(mb *wire.MessageBuilder) { mb.WriteUint(serial) })
	buf := c.buffer(shmID, 800, 600, 0)
	c.request(ids.surface, 1, func(mb *wire.MessageBuilder) {
		mb.WriteObject(buf)
		mb.WriteInt(0)
		mb.WriteInt(0)
	})
	c.request(ids.surface, 6, nil)
	c.roundtrip()

	now := time.Now()
	f.router.Refocus(now)
	f.router.PointerMotion(now, geom.Pt(10.0, 20.0))
	f.router.PointerFrame()
	f.router.Key(now, 30, true)
	c.roundtrip()

	enter := c.take(kb, 1)
	require.Len(t, enter, 1)
	enter[0].msg.ReadUint()
	assert.Equal(t, ids.surface, enter[0].msg.ReadObject())

	keys := c.take(kb, 3)
	require.Len(t, keys, 1)
	keys[0].msg.ReadUint()
	keys[0].msg.ReadUint()
	assert.EqualValues(t, 30, keys[0].msg.ReadUint())
	assert.EqualValues(t, 1, keys[0].msg.ReadUint())

	penter := c.take(ptr, 0)
	require.Len(t, penter, 1)
	penter[0].msg.ReadUint()
	assert.Equal(t, ids.surface, penter[0].msg.ReadObject())
	assert.NotEmpty(t, c.find(ptr, 5))
}

func TestCursorRequiresPointerFocus(t *testing.T) {
	f := newFixture(t, Config{})
	f.seat.AddDevice("mouse", seat.CapPointer)

	c := f.connect()
	comp := c.bind("wl_compositor", 5)
	seatID := c.bind("wl_seat", 7)
	ptr := c.create(seatID, 0)
	cursor := c.create(comp, 0)
	c.request(ptr, 0, func(mb *wire.MessageBuilder) {
		mb.WriteUint(0)
		mb.WriteObject(cursor)
		mb.WriteInt(1)
		mb.WriteInt(2)
	})
	c.roundtrip()

	s := f.sc.Get(c.surfaceID(cursor))
	require.NotNil(t, s)
	assert.Equal(t, scene.RoleCursor, s.Role())
	_, sid, _ := f.sc.Cursor(f.out.ID)
	assert.False(t, sid.Valid(), "a client without pointer focus must not set the cursor")
}

func TestSurfaceErrors(t *testing.T) {
	tests := []struct {
		name string
		op   uint16
		arg  int32
		code uint32
	}{
		{"scale", 8, 0, surfaceErrInvalidScale},
		{"transform", 7, 9, surfaceErrInvalidTransform},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			c := f.connect()
			comp := c.bind("wl_compositor", 5)
			surf := c.create(comp, 0)
			c.request(surf, test.op, func(mb *wire.MessageBuilder) { mb.WriteInt(test.arg) })

			obj, code := c.protocolError()
			assert.Equal(t, surf, obj)
			assert.Equal(t, test.code, code)
		})
	}
}

func TestVirtualKeyboard(t *testing.T) {
	km, err := xkb.New(xkb.Names{})
	require.NoError(t, err)
	defer km.Close()
	fr, err := xkb.New(xkb.Names{Layout: "fr"})
	require.NoError(t, err)
	defer fr.Close()

	f := newKeyboardFixture(t, Config{}, km)
	f.seat.AddDevice("kbd", seat.CapKeyboard)

	app := f.connect()
	kb := app.create(app.bind("wl_seat", 7), 1)
	app.mapToplevel()
	f.router.Refocus(time.Now())
	app.roundtrip()
	require.Len(t, app.take(kb, 0), 1)
	require.Len(t, app.take(kb, 1), 1)

	osk := f.connect()
	mgr := osk.bind("zwp_virtual_keyboard_manager_v1", 1)
	oskSeat := osk.bind("wl_seat", 7)
	vk := osk.newID()
	osk.request(mgr, 0, func(mb *wire.MessageBuilder) {
		mb.WriteObject(oskSeat)
		mb.WriteNewID(vk)
	})
	file, size := fr.File()
	osk.request(vk, 0, func(mb *wire.MessageBuilder) {
		mb.WriteUint(keymapFormatXKBV1)
		mb.WriteFile(file)
		mb.WriteUint(size)
	})
	osk.request(vk, 1, func(mb *wire.MessageBuilder) {
		mb.WriteUint(0)
		mb.WriteUint(30)
		mb.WriteUint(1)
	})
	osk.roundtrip()
	app.roundtrip()

	keymaps := app.take(kb, 0)
	require.Len(t, keymaps, 1)
	keymaps[0].msg.ReadUint()
	received := keymaps[0].msg.ReadFile()
	require.NotNil(t, received)
	received.Close()
	assert.Equal(t, size, keymaps[0].msg.ReadUint())

	keys := app.take(kb, 3)
	require.Len(t, keys, 1)
	keys[0].msg.ReadUint()
	keys[0].msg.ReadUint()
	assert.EqualValues(t, 30, keys[0].msg.ReadUint())
	assert.EqualValues(t, 1, keys[0].msg.ReadUint())

	osk.request(vk, 3, nil)
	osk.roundtrip()
	app.roundtrip()

	keys = app.take(kb, 3)
	require.Len(t, keys, 1, "held keys are released with the virtual keyboard")
	keys[0].msg.ReadUint()
	keys[0].msg.ReadUint()
	assert.EqualValues(t, 30, keys[0].msg.ReadUint())
	assert.EqualValues(t, 0, keys[0].msg.ReadUint())

	keymaps = app.take(kb, 0)
	require.Len(t, keymaps, 1)
	keymaps[0].msg.ReadUint()
	received = keymaps[0].msg.ReadFile()
	require.NotNil(t, received)
	received.Close()
	_, physical := km.File()
	assert.Equal(t, physical, keymaps[0].msg.ReadUint())
	assert.Same(t, km, f.seat.Keymap())
}

func TestVirtualKeyboardWithoutKeymap(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()
	mgr := c.bind("zwp_virtual_keyboard_manager_v1", 1)
	seatID := c.bind("wl_seat", 7)
	vk := c.newID()
	c.request(mgr, 0, func(mb *wire.MessageBuilder) {
		mb.WriteObject(seatID)
		mb.WriteNewID(vk)
	})
	c.request(vk, 1, func(mb *wire.MessageBuilder) {
		mb.WriteUint(0)
		mb.WriteUint(30)
		mb.WriteUint(1)
	})

	obj, code := c.protocolError()
	assert.Equal(t, vk, obj)
	assert.EqualValues(t, virtualKeyboardErrNoKeymap, code)
}

func TestSelection(t *testing.T) {
	f := newFixture(t, Config{})
	f.seat.AddDevice("kbd", seat.CapKeyboard)
	const mime = "text/plain;charset=utf-8"

	owner := f.connect()
	ownerMgr := owner.bind("wl_data_device_manager", 3)
	ownerDev := owner.create(ownerMgr, 1, owner.bind("wl_seat", 7))
	owner.mapToplevel()
	f.router.Refocus(time.Now())
	owner.roundtrip()

	src := owner.create(ownerMgr, 0)
	owner.request(src, 0, func(mb *wire.MessageBuilder) { mb.WriteString(mime) })
	owner.request(ownerDev, 1, func(mb *wire.MessageBuilder) {
		mb.WriteObject(src)
		mb.WriteUint(0)
	})
	owner.roundtrip()
	require.NotNil(t, f.srv.selection)
	assert.Equal(t, src, f.srv.selection.id)

	other := f.connect()
	otherMgr := other.bind("wl_data_device_manager", 3)
	otherDev := other.create(otherMgr, 1, other.bind("wl_seat", 7))
	other.mapToplevel()
	f.router.Refocus(time.Now())
	other.roundtrip()

	offers := other.take(otherDev, 0)
	require.Len(t, offers, 1)
	offer := offers[0].msg.ReadNewID()
	assert.GreaterOrEqual(t, offer, uint32(serverIDStart))

	mimes := other.take(offer, 0)
	require.Len(t, mimes, 1)
	assert.Equal(t, mime, mimes[0].msg.ReadString())

	selections := other.take(otherDev, 5)
	require.Len(t, selections, 1)
	assert.Equal(t, offer, selections[0].msg.ReadObject())

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	other.request(offer, 1, func(mb *wire.MessageBuilder) {
		mb.WriteString(mime)
		mb.WriteFile(w)
	})
	other.roundtrip()
	w.Close()
	owner.roundtrip()

	sends := owner.take(src, 1)
	require.Len(t, sends, 1)
	assert.Equal(t, mime, sends[0].msg.ReadString())
	fd := sends[0].msg.ReadFile()
	require.NotNil(t, fd)
	fd.Close()

	// Only the focused client may set the selection.
	src2 := owner.create(ownerMgr, 0)
	owner.request(ownerDev, 1, func(mb *wire.MessageBuilder) {
		mb.WriteObject(src2)
		mb.WriteUint(0)
	})
	owner.roundtrip()
	assert.Len(t, owner.take(src2, 2), 1)
	assert.Equal(t, src, f.srv.selection.id)

	owner.request(src, 1, nil)
	owner.roundtrip()
	other.roundtrip()
	assert.Nil(t, f.srv.selection)
	selections = other.take(otherDev, 5)
	require.Len(t, selections, 1)
	assert.Zero(t, selections[0].msg.ReadObject())
}

func TestToplevelDecoration(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.connect()
	comp := c.bind("wl_compositor", 5)
	wm := c.bind("xdg_wm_base", 3)
	mgr := c.bind("zxdg_decoration_manager_v1", 1)

	ids := c.toplevel(comp, wm)
	require.Len(t, c.take(ids.xdg, 0), 1)

	deco := c.newID()
	c.request(mgr, 1, func(mb *wire.MessageBuilder) {
		mb.WriteNewID(deco)
		mb.WriteObject(ids.toplevel)
	})
	c.request(deco, 1, func(mb *wire.MessageBuilder) { mb.WriteUint(1) })
	c.roundtrip()

	modes := c.take(deco, 0)
	require.Len(t, modes, 2)
	for _, ev := range modes {
		assert.EqualValues(t, decorationModeServerSide, ev.msg.ReadUint())
	}
	assert.Len(t, c.take(ids.xdg, 0), 2, "each mode is followed by a configure")

	c.request(ids.toplevel, 0, nil)
	obj, code := c.protocolError()
	assert.Equal(t, deco, obj)
	assert.EqualValues(t, decorationErrOrphaned, code)
}
