package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deedles.dev/booth/backend"
	"deedles.dev/booth/internal/wire"
	"deedles.dev/booth/internal/xkb"
	"deedles.dev/booth/output"
	"deedles.dev/booth/protocol"
	"deedles.dev/booth/render"
	"deedles.dev/booth/scene"
	"deedles.dev/booth/seat"
	"github.com/sirupsen/logrus"
)

var errQuit = errors.New("quit requested")

// Server ties the backend to the scene, the input router, the render
// loop, and the clients. Everything but blocking I/O happens on the
// goroutine running Run.
type Server struct {
	Config Config

	backend  *backend.Backend
	outputs  *output.Manager
	scene    *scene.Scene
	seat     *seat.Seat
	router   *seat.Router
	proto    *protocol.Server
	renderer *render.Renderer
	loop     *render.Loop

	client     *kioskClient
	clientDone chan error

	// refocus is set when the scene changed in a way that may move
	// input focus.
	refocus bool
}

// Run starts the compositor and the kiosk client and runs until the
// client exits, the backend asks to quit, or ctx is cancelled.
func (server *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer server.close()

	err := server.init(ctx)
	if err != nil {
		return err
	}

	server.client, err = startClient(server.Config.Command, server.proto.SocketName())
	if err != nil {
		return err
	}
	server.clientDone = server.client.done

	return server.run(ctx)
}

func (server *Server) init(ctx context.Context) error {
	keymap, err := xkb.New(server.Config.XKB)
	if err != nil {
		return fmt.Errorf("create keymap: %w", err)
	}

	server.backend, err = backend.New(server.Config.Backend, backend.Config{
		Width:  server.Config.Width,
		Height: server.Config.Height,
	})
	if err != nil {
		return err
	}

	lis, err := wire.Listen(server.Config.Socket)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server.outputs = output.NewManager(server.Config.Outputs)
	server.scene = scene.New()
	server.seat = seat.New(server.backend.SeatName(), keymap)
	server.proto = protocol.NewServer(lis, server.scene, server.seat, server.outputs, protocol.Config{
		RepeatRate:  server.Config.RepeatRate,
		RepeatDelay: int32(server.Config.RepeatDelay / time.Millisecond),
	})
	server.proto.OnClientGone = server.onClientGone

	server.router = seat.NewRouter(server.seat, server.scene, server.outputs, server.proto)
	server.router.HideCursor = server.Config.HideCursor
	if server.backend.CanSwitchVT() {
		server.router.SwitchVT = server.switchVT
	}
	server.proto.Router = server.router

	server.renderer = render.NewRenderer(server.Config.Background)
	server.loop = render.NewLoop(server.scene, server.backend, server.renderer)
	server.scene.Listener = server

	err = server.backend.Start(ctx)
	if err != nil {
		return fmt.Errorf("start %v backend: %w", server.backend.Kind, err)
	}

	server.proto.Serve()
	logrus.WithFields(logrus.Fields{
		"backend": server.backend.Kind,
		"socket":  server.proto.SocketName(),
	}).Infoln("compositor running")

	return nil
}

func (server *Server) close() {
	if server.client != nil {
		server.client.stop()
	}
	if server.proto != nil {
		if err := server.proto.Close(); err != nil {
			logrus.WithError(err).Warnln("close server")
		}
	}
	if server.backend != nil {
		if err := server.backend.Close(); err != nil {
			logrus.WithError(err).Warnln("close backend")
		}
	}
}

func (server *Server) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			logrus.Infoln("shutting down")
			return nil

		case events := <-server.backend.Events():
			err := server.handleEvents(events)
			if errors.Is(err, errQuit) {
				logrus.Infoln("backend requested shutdown")
				return nil
			}
			if err != nil {
				return err
			}

		case batch := <-server.proto.Queue():
			server.proto.Flush(batch)

		case err := <-server.clientDone:
			server.client.exited(err)
			return nil

		case <-server.wakeup():
		}

		now := time.Now()
		if server.refocus {
			server.refocus = false
			server.router.Refocus(now)
		}
		server.loop.Tick(now)
	}
}

// handleEvents handles a batch of backend events and then any that
// arrived in the meantime, so that a frame is not started with input
// or output changes still queued.
func (server *Server) handleEvents(events []backend.Event) error {
	for len(events) > 0 {
		for _, ev := range events {
			err := server.handleEvent(ev)
			if err != nil {
				return err
			}
		}
		events = server.backend.PollEvents()
	}
	return nil
}

func (server *Server) handleEvent(ev backend.Event) error {
	switch ev := ev.(type) {
	case backend.OutputAdded:
		server.onOutputAdded(ev.Info)
	case backend.OutputRemoved:
		server.onOutputRemoved(ev.Name)
	case backend.OutputModeChanged:
		server.onOutputModeChanged(ev.Name, ev.Mode)
	case backend.Presented:
		server.onPresented(ev)

	case backend.InputDeviceAdded:
		server.onInputDeviceAdded(ev.Name, ev.Type)
	case backend.InputDeviceRemoved:
		server.onInputDeviceRemoved(ev.Name)
	case backend.Key:
		server.router.Key(ev.Time, ev.Code, ev.Pressed)
	case backend.PointerMotion:
		server.router.PointerMotion(ev.Time, ev.Delta)
	case backend.PointerMotionAbsolute:
		server.router.PointerMotionAbsolute(ev.Time, ev.Output, ev.Pos)
	case backend.PointerButton:
		server.router.PointerButton(ev.Time, ev.Button, ev.Pressed)
	case backend.PointerAxis:
		server.router.PointerAxis(ev.Time, seat.Axis(ev.Axis), ev.Value, ev.Discrete, seat.AxisSource(ev.Source))
	case backend.PointerFrame:
		server.router.PointerFrame()
	case backend.TouchDown:
		server.router.TouchDown(ev.Time, ev.ID, ev.Output, ev.Pos)
	case backend.TouchMotion:
		server.router.TouchMotion(ev.Time, ev.ID, ev.Pos)
	case backend.TouchUp:
		server.router.TouchUp(ev.Time, ev.ID)
	case backend.TouchFrame:
		server.router.TouchFrame()

	case backend.SessionChanged:
		server.onSessionChanged(ev.Active)
	case backend.DeviceFailed:
		return server.onDeviceFailed(ev.Err)
	case backend.Quit:
		return errQuit

	default:
		panic(fmt.Errorf("unexpected backend event: %T", ev))
	}

	return nil
}

func (server *Server) onSessionChanged(active bool) {
	if !active {
		logrus.Infoln("session inactive")
		server.router.Suspend()
		server.loop.Suspend()
		return
	}

	logrus.Infoln("session active")
	server.loop.Resume()
	server.router.Resume(time.Now())
}

func (server *Server) onDeviceFailed(err *backend.DeviceError) error {
	if err.Fatal {
		return err
	}
	logrus.WithError(err).Warnln("device failed")
	return nil
}

func (server *Server) onClientGone(c *protocol.Client) {
	logrus.WithField("pid", c.PID()).Debugln("client gone")
}
