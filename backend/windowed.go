package backend

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/cq"
	"deedles.dev/booth/internal/shm"
	"deedles.dev/booth/output"
	"deedles.dev/ximage"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	xdg_shell "github.com/rajveermalviya/go-wayland/wayland/stable/xdg-shell"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	windowedOutput   = "WL-1"
	windowedPointer  = "WL-1-pointer"
	windowedKeyboard = "WL-1-keyboard"
	windowedTouch    = "WL-1-touch"

	// The host does not say how often it repaints, so a nominal rate
	// is reported. Pacing follows the host's frame callbacks anyway.
	windowedRefreshMHz = 60000
)

// Windowed runs the compositor in a window of another Wayland
// compositor. The window is the only output and the host's input
// devices are forwarded as virtual ones.
type Windowed struct {
	config Config
	events *cq.Queue[Event]

	display    *client.Display
	wctx       *client.Context
	registry   *client.Registry
	compositor *client.Compositor
	shm        *client.Shm
	wmBase     *xdg_shell.WmBase
	seat       *client.Seat

	surface    *client.Surface
	xdgSurface *xdg_shell.Surface
	toplevel   *xdg_shell.Toplevel

	// wl guards the host connection's object table. It is held while
	// sending requests and while delivering an event, but not while
	// waiting for one. It is always taken before mu.
	wl sync.Mutex

	// mu guards the state below.
	mu         sync.Mutex
	pointer    *client.Pointer
	keyboard   *client.Keyboard
	touch      *client.Touch
	size       geom.Point[int]
	pending    geom.Point[int]
	configured bool
	announced  bool
	buffers    [2]*hostBuffer
	damage     *swapDamage
	next       int
	token      PresentationToken
	inflight   bool
	keys       map[uint32]struct{}
	axisSource AxisSource
	discrete   [2]int32
	closed     bool
}

func newWindowed(config Config) *Windowed {
	if config.Width <= 0 || config.Height <= 0 {
		config.Width, config.Height = 1280, 720
	}
	if config.Title == "" {
		config.Title = "booth"
	}
	if config.AppID == "" {
		config.AppID = "dev.deedles.booth"
	}

	return &Windowed{
		config: config,
		events: cq.New[Event](),
		size:   geom.Pt(config.Width, config.Height),
		damage: newSwapDamage(2),
		keys:   make(map[uint32]struct{}),
	}
}

func (w *Windowed) log() *logrus.Entry {
	return logrus.WithField("backend", KindWindowed)
}

func (w *Windowed) push(ev Event) {
	w.events.Push(ev)
}

func (w *Windowed) start(ctx context.Context) error {
	display, err := client.Connect("")
	if err != nil {
		return fmt.Errorf("connect to host compositor: %w", err)
	}
	w.display = display
	w.wctx = display.Context()
	display.SetErrorHandler(w.onDisplayError)

	w.registry, err = display.GetRegistry()
	if err != nil {
		return fmt.Errorf("get registry: %w", err)
	}
	w.registry.SetGlobalHandler(w.onGlobal)

	err = w.roundtrip()
	if err != nil {
		return fmt.Errorf("initial roundtrip: %w", err)
	}
	if w.compositor == nil || w.shm == nil || w.wmBase == nil {
		return fmt.Errorf("host compositor lacks wl_compositor, wl_shm, or xdg_wm_base: %w", ErrUnsupported)
	}

	err = w.createWindow()
	if err != nil {
		return err
	}
	for !w.isConfigured() {
		err := w.dispatchOne()
		if err != nil {
			return fmt.Errorf("wait for initial configure: %w", err)
		}
	}

	w.mu.Lock()
	w.announced = true
	size := w.size
	w.mu.Unlock()

	w.push(OutputAdded{Info: output.ConnectorInfo{
		Name:  windowedOutput,
		Make:  "wayland",
		Model: w.config.Title,
		Modes: []output.Mode{{Size: size, RefreshMHz: windowedRefreshMHz, Preferred: true}},
	}})
	w.log().WithField("size", size).Infoln("host window ready")

	go w.dispatch()
	go func() {
		<-ctx.Done()
		w.close()
	}()

	return nil
}

// roundtrip blocks until the host has handled every request sent so
// far. It must not be called once the dispatch goroutine is running.
func (w *Windowed) roundtrip() error {
	cb, err := w.display.Sync()
	if err != nil {
		return err
	}
	defer cb.Destroy()

	var done bool
	cb.SetDoneHandler(func(client.CallbackDoneEvent) { done = true })
	for !done {
		err := w.dispatchOne()
		if err != nil {
			return err
		}
	}
	return nil
}

// dispatchOne waits for a single event from the host and delivers it.
func (w *Windowed) dispatchOne() error {
	sender, opcode, fd, data, err := w.wctx.ReadMsg()
	if err != nil {
		return fmt.Errorf("read host event: %w", err)
	}

	w.wl.Lock()
	defer w.wl.Unlock()

	d, ok := w.wctx.GetProxy(sender).(client.Dispatcher)
	if !ok {
		// Events can still arrive for objects that were destroyed.
		if fd >= 0 {
			unix.Close(fd)
		}
		w.log().WithField("sender", sender).Debugln("event for unknown host object")
		return nil
	}
	d.Dispatch(opcode, fd, data)
	return nil
}

func (w *Windowed) dispatch() {
	for {
		err := w.dispatchOne()
		if err == nil {
			continue
		}

		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}

		w.push(DeviceFailed{Err: &DeviceError{Device: "host compositor", Err: err, Fatal: true}})
		return
	}
}

func (w *Windowed) onDisplayError(ev client.DisplayErrorEvent) {
	w.log().WithFields(logrus.Fields{
		"code":    ev.Code,
		"message": ev.Message,
	}).Errorln("host protocol error")
}

func (w *Windowed) onGlobal(ev client.RegistryGlobalEvent) {
	var err error
	switch ev.Interface {
	case "wl_compositor":
		w.compositor = client.NewCompositor(w.wctx)
		err = w.registry.Bind(ev.Name, ev.Interface, min(ev.Version, 4), w.compositor)

	case "wl_shm":
		w.shm = client.NewShm(w.wctx)
		err = w.registry.Bind(ev.Name, ev.Interface, 1, w.shm)

	case "xdg_wm_base":
		w.wmBase = xdg_shell.NewWmBase(w.wctx)
		w.wmBase.SetPingHandler(w.onPing)
		err = w.registry.Bind(ev.Name, ev.Interface, 1, w.wmBase)

	case "wl_seat":
		if w.seat != nil {
			return
		}
		w.seat = client.NewSeat(w.wctx)
		w.seat.SetCapabilitiesHandler(w.onCapabilities)
		err = w.registry.Bind(ev.Name, ev.Interface, min(ev.Version, 5), w.seat)
	}
	if err != nil {
		w.log().WithError(err).WithField("interface", ev.Interface).Warnln("bind host global")
	}
}

func (w *Windowed) onPing(ev xdg_shell.WmBasePingEvent) {
	w.wmBase.Pong(ev.Serial)
}

func (w *Windowed) createWindow() (err error) {
	w.surface, err = w.compositor.CreateSurface()
	if err != nil {
		return fmt.Errorf("create host surface: %w", err)
	}
	w.xdgSurface, err = w.wmBase.GetXdgSurface(w.surface)
	if err != nil {
		return fmt.Errorf("create xdg surface: %w", err)
	}
	w.xdgSurface.SetConfigureHandler(w.onSurfaceConfigure)

	w.toplevel, err = w.xdgSurface.GetToplevel()
	if err != nil {
		return fmt.Errorf("create toplevel: %w", err)
	}
	w.toplevel.SetConfigureHandler(w.onToplevelConfigure)
	w.toplevel.SetCloseHandler(func(xdg_shell.ToplevelCloseEvent) {
		w.log().Infoln("host window closed")
		w.push(Quit{})
	})
	w.toplevel.SetTitle(w.config.Title)
	w.toplevel.SetAppId(w.config.AppID)

	return w.surface.Commit()
}

func (w *Windowed) isConfigured() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.configured
}

func (w *Windowed) onToplevelConfigure(ev xdg_shell.ToplevelConfigureEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.Width > 0 && ev.Height > 0 {
		w.pending = geom.Pt(int(ev.Width), int(ev.Height))
	}
}

func (w *Windowed) onSurfaceConfigure(ev xdg_shell.SurfaceConfigureEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.xdgSurface.AckConfigure(ev.Serial)
	w.configured = true

	size := w.pending
	if size.IsZero() || size == w.size {
		return
	}
	w.size = size
	w.damage.reset()
	if w.announced {
		w.push(OutputModeChanged{
			Name: windowedOutput,
			Mode: output.Mode{Size: size, RefreshMHz: windowedRefreshMHz, Preferred: true},
		})
	}
}

func (w *Windowed) submit(name string, frame *Frame) (PresentationToken, error) {
	if name != windowedOutput {
		return 0, fmt.Errorf("submit to %q: %w", name, ErrUnknownOutput)
	}

	w.wl.Lock()
	defer w.wl.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.surface == nil:
		return 0, ErrNotStarted
	case w.closed:
		return 0, ErrClosed
	case w.inflight:
		return 0, ErrInFlight
	}

	bounds := geom.FromImageRect(frame.Image.Rect)
	i, buf, err := w.acquire(frame.Transform.Size(bounds.Size()))
	if err != nil {
		return 0, err
	}

	rects, full := w.damage.use(i, frame.Damage)
	if full {
		rects = []geom.Rect[int]{bounds}
	}
	blit(buf.img, frame.Image, rects, frame.Transform)

	w.surface.Attach(buf.buf, 0, 0)
	for _, r := range rects {
		r = transformRect(r, frame.Transform, bounds.Size())
		w.surface.DamageBuffer(int32(r.Min.X), int32(r.Min.Y), int32(r.Dx()), int32(r.Dy()))
	}
	cb, err := w.surface.Frame()
	if err != nil {
		return 0, &DeviceError{Device: "host compositor", Err: err}
	}
	w.token++
	token := w.token
	cb.SetDoneHandler(func(client.CallbackDoneEvent) {
		cb.Destroy()
		w.presented(token)
	})
	err = w.surface.Commit()
	if err != nil {
		return 0, &DeviceError{Device: "host compositor", Err: err}
	}

	buf.busy = true
	w.inflight = true
	w.next = 1 - i
	return token, nil
}

// acquire returns a buffer of the given size that the host is not
// reading from, preferring the one after the buffer last presented.
func (w *Windowed) acquire(size geom.Point[int]) (int, *hostBuffer, error) {
	for _, i := range []int{w.next, 1 - w.next} {
		buf := w.buffers[i]
		if buf != nil && buf.busy {
			continue
		}
		if buf != nil && buf.size == size {
			return i, buf, nil
		}

		nbuf, err := w.newHostBuffer(size)
		if err != nil {
			return 0, nil, &DeviceError{Device: "host shm", Err: err}
		}
		if buf != nil {
			buf.destroy()
		}
		w.buffers[i] = nbuf
		w.damage.full[i] = true
		return i, nbuf, nil
	}
	return 0, nil, ErrInFlight
}

func (w *Windowed) presented(token PresentationToken) {
	w.mu.Lock()
	w.inflight = false
	w.mu.Unlock()

	w.push(Presented{Output: windowedOutput, Token: token, Time: time.Now()})
}

func (w *Windowed) close() error {
	w.wl.Lock()
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.wl.Unlock()
		return nil
	}
	w.closed = true

	for i, buf := range w.buffers {
		if buf != nil {
			buf.destroy()
			w.buffers[i] = nil
		}
	}
	if w.toplevel != nil {
		w.toplevel.Destroy()
		w.xdgSurface.Destroy()
		w.surface.Destroy()
	}
	w.mu.Unlock()
	w.wl.Unlock()

	var err error
	if w.wctx != nil {
		err = w.wctx.Close()
	}
	w.events.Stop()
	return err
}

// hostBuffer is a shm buffer shared with the host compositor.
type hostBuffer struct {
	size geom.Point[int]
	file *os.File
	mmap shm.Mmap
	pool *client.ShmPool
	buf  *client.Buffer
	img  *ximage.FormatImage
	busy bool
}

// newHostBuffer must be called with w.wl and w.mu held.
func (w *Windowed) newHostBuffer(size geom.Point[int]) (hb *hostBuffer, err error) {
	stride := size.X * 4
	length := stride * size.Y

	hb = &hostBuffer{size: size}
	defer func() {
		if err != nil {
			hb.destroy()
		}
	}()

	hb.file, err = shm.Create("booth-windowed", length)
	if err != nil {
		return nil, err
	}
	hb.mmap, err = shm.Map(hb.file, length, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	hb.img = scanout(hb.mmap, stride, size.Y)

	hb.pool, err = w.shm.CreatePool(hb.file.Fd(), int32(length))
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	hb.buf, err = hb.pool.CreateBuffer(0, int32(size.X), int32(size.Y), int32(stride), uint32(client.ShmFormatArgb8888))
	if err != nil {
		return nil, fmt.Errorf("create buffer: %w", err)
	}
	hb.buf.SetReleaseHandler(func(client.BufferReleaseEvent) {
		w.mu.Lock()
		defer w.mu.Unlock()
		hb.busy = false
	})

	return hb, nil
}

func (hb *hostBuffer) destroy() {
	if hb.buf != nil {
		hb.buf.Destroy()
	}
	if hb.pool != nil {
		hb.pool.Destroy()
	}
	if err := hb.mmap.Unmap(); err != nil {
		logrus.WithError(err).Warnln("unmap host buffer")
	}
	if hb.file != nil {
		hb.file.Close()
	}
}
