package protocol

import (
	"errors"
	"net"
	"time"

	"deedles.dev/booth/internal/cq"
	"deedles.dev/booth/internal/wire"
	"deedles.dev/booth/output"
	"deedles.dev/booth/scene"
	"deedles.dev/booth/seat"
	"github.com/sirupsen/logrus"
)

// Config holds the parts of the server's behavior that are chosen by
// the user.
type Config struct {
	// RepeatRate is in characters per second, RepeatDelay in
	// milliseconds.
	RepeatRate  int32
	RepeatDelay int32

	// WriteTimeout is how long a write to a client may block before
	// the client is disconnected.
	WriteTimeout time.Duration
}

// Server accepts client connections and owns the globals that they
// can bind.
type Server struct {
	Scene   *scene.Scene
	Seat    *seat.Seat
	Outputs *output.Manager

	// Router is consulted for requests that affect input, such as
	// setting the cursor image. It must be set before Flush is first
	// called.
	Router *seat.Router

	config Config
	lis    *wire.Listener
	done   chan struct{}
	queue  *cq.Queue[func()]

	clients  map[*Client]struct{}
	globals  []*global
	nextName uint32

	surfaces map[scene.SurfaceID]*surface
	outputs  map[output.ID]*global

	// selection is the seat's clipboard.
	selection *dataSource

	// OnClientGone is called after a client disconnects.
	OnClientGone func(c *Client)
}

// NewServer returns a server that accepts clients from lis.
func NewServer(lis *wire.Listener, sc *scene.Scene, st *seat.Seat, outputs *output.Manager, config Config) *Server {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = time.Second
	}

	s := Server{
		Scene:    sc,
		Seat:     st,
		Outputs:  outputs,
		config:   config,
		lis:      lis,
		done:     make(chan struct{}),
		queue:    cq.New[func()](),
		clients:  make(map[*Client]struct{}),
		nextName: 1,
		surfaces: make(map[scene.SurfaceID]*surface),
		outputs:  make(map[output.ID]*global),
	}

	s.addGlobal("wl_compositor", compositorVersion, bindCompositor)
	s.addGlobal("wl_subcompositor", 1, bindSubcompositor)
	s.addGlobal("wl_shm", 1, bindShm)
	s.addGlobal("wl_seat", seatVersion, bindSeat)
	s.addGlobal("xdg_wm_base", wmBaseVersion, bindWmBase)
	s.addGlobal("zwlr_layer_shell_v1", layerShellVersion, bindLayerShell)
	s.addGlobal("zxdg_decoration_manager_v1", decorationManagerVersion, bindDecorationManager)
	s.addGlobal("wl_data_device_manager", dataDeviceManagerVersion, bindDataDeviceManager)
	s.addGlobal("zwp_virtual_keyboard_manager_v1", virtualKeyboardManagerVersion, bindVirtualKeyboardManager)

	return &s
}

// Serve starts accepting clients in the background.
func (s *Server) Serve() {
	go s.accept()
}

func (s *Server) accept() {
	for {
		c, err := s.lis.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithError(err).Warnln("accept client")
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		if !s.queue.Push(func() { s.addClient(c) }) {
			c.Close()
			return
		}
	}
}

// SocketName is the name of the socket that clients connect to, for
// use as WAYLAND_DISPLAY.
func (s *Server) SocketName() string {
	return s.lis.Name
}

// Queue yields batches of work that must be passed to Flush.
func (s *Server) Queue() <-chan []func() {
	return s.queue.Get()
}

// Flush runs a batch received from Queue, which decodes and
// dispatches client requests.
func (s *Server) Flush(batch []func()) {
	for _, f := range batch {
		f()
	}
}

// Close disconnects every client and stops listening.
func (s *Server) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)

	var err error
	if s.lis != nil {
		err = s.lis.Close()
	}
	for c := range s.clients {
		c.Close()
	}
	s.queue.Stop()
	return err
}

func (s *Server) addClient(c *net.UnixConn) {
	conn := wire.NewConn(c)
	conn.SetWriteTimeout(s.config.WriteTimeout)

	client := newClient(s, conn)
	s.clients[client] = struct{}{}
	client.log().Debugln("client connected")

	go client.listen()
}

func (s *Server) removeClient(c *Client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	if s.OnClientGone != nil {
		s.OnClientGone(c)
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	return len(s.clients)
}

// ReceiverFor returns the input receiver of the client that owns a
// surface.
func (s *Server) ReceiverFor(id scene.SurfaceID) (seat.Receiver, bool) {
	surf, ok := s.surfaces[id]
	if !ok || surf.client.closed {
		return nil, false
	}
	return surf.client.input(), true
}

// SurfaceMapped tells the client that owns a surface which output it
// is being shown on.
func (s *Server) SurfaceMapped(sc *scene.Surface) {
	surf, ok := s.surfaces[sc.ID()]
	if !ok {
		return
	}
	surf.enter(sc.Output())
}

func (s *Server) SurfaceUnmapped(sc *scene.Surface) {
	surf, ok := s.surfaces[sc.ID()]
	if !ok {
		return
	}
	surf.leaveAll()
}

func (s *Server) SurfaceDestroyed(sc *scene.Surface) {}
