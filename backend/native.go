package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/cq"
	"deedles.dev/booth/internal/drm"
	"deedles.dev/booth/internal/uevent"
	"deedles.dev/booth/output"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrInactive is returned when drawing is attempted while the session
// is switched away.
var ErrInactive = errors.New("session is not active")

const (
	releaseSignal = unix.SIGUSR1
	acquireSignal = unix.SIGUSR2
)

// Native drives a GPU and input devices directly from a virtual
// terminal.
type Native struct {
	config Config
	seat   string
	events *cq.Queue[Event]

	signals chan os.Signal
	done    chan struct{}

	mu      sync.Mutex
	vt      *terminal
	gpu     *drm.Device
	outputs map[string]*drmOutput
	inputs  map[string]*inputDevice
	monitor *uevent.Monitor
	token   PresentationToken
	active  bool
	closed  bool
}

// drmOutput is a connector being driven by a CRTC.
type drmOutput struct {
	name      string
	connector uint32
	crtc      uint32
	modes     []drm.ModeInfo
	mode      drm.ModeInfo

	buffers [2]*drm.DumbBuffer
	damage  *swapDamage
	front   int

	// modeset is set when the next frame must be shown with a full
	// mode set instead of a page flip.
	modeset  bool
	inflight PresentationToken
}

func newNative(config Config) *Native {
	seat := config.Seat
	if seat == "" {
		seat = "seat0"
	}

	return &Native{
		config:  config,
		seat:    seat,
		events:  cq.New[Event](),
		done:    make(chan struct{}),
		outputs: make(map[string]*drmOutput),
		inputs:  make(map[string]*inputDevice),
	}
}

func (n *Native) log() *logrus.Entry {
	return logrus.WithField("backend", KindNative)
}

func (n *Native) push(events ...Event) {
	for _, ev := range events {
		n.events.Push(ev)
	}
}

// checkSession reports whether the process may open devices directly.
// A seat manager is not spoken to; a session is assumed to be
// available if the process is privileged or was started by one.
func checkSession() error {
	if os.Geteuid() == 0 {
		return nil
	}
	if os.Getenv("XDG_SESSION_ID") != "" || os.Getenv("LIBSEAT_BACKEND") != "" {
		return nil
	}
	return ErrNoSession
}

func (n *Native) start(ctx context.Context) (err error) {
	err = checkSession()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			n.close()
		}
	}()

	n.vt, err = openTerminal()
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	n.signals = make(chan os.Signal, 2)
	signal.Notify(n.signals, releaseSignal, acquireSignal)
	err = n.vt.setup(releaseSignal, acquireSignal)
	if err != nil {
		return fmt.Errorf("set up vt%v: %w", n.vt.num, err)
	}
	n.log().WithField("vt", n.vt.num).Infoln("took over terminal")

	path, err := primaryGPU()
	if err != nil {
		return err
	}
	n.gpu, err = drm.Open(path)
	if err != nil {
		return fmt.Errorf("open %v: %w", path, errors.Join(ErrNoGPU, err))
	}
	err = n.gpu.SetMaster()
	if err != nil {
		return fmt.Errorf("become drm master of %v: %w", path, err)
	}
	n.log().WithField("gpu", path).Infoln("opened gpu")

	n.mu.Lock()
	n.active = true
	n.scanConnectors()
	n.scanInputs()
	n.mu.Unlock()

	n.monitor, err = uevent.Listen()
	if err != nil {
		n.log().WithError(err).Warnln("hot-plugged devices will not be noticed")
		err = nil
	} else {
		go n.watchDevices()
	}

	go n.readFlips()
	go n.handleSignals()
	go func() {
		select {
		case <-ctx.Done():
			n.close()
		case <-n.done:
		}
	}()

	return nil
}

// primaryGPU finds the card that the firmware used for the boot
// console, or the first card if that cannot be told.
func primaryGPU() (string, error) {
	cards, _ := filepath.Glob("/dev/dri/card[0-9]*")
	if len(cards) == 0 {
		return "", ErrNoGPU
	}
	sort.Strings(cards)

	for _, card := range cards {
		bootVGA, err := os.ReadFile(filepath.Join("/sys/class/drm", filepath.Base(card), "device/boot_vga"))
		if err == nil && strings.TrimSpace(string(bootVGA)) == "1" {
			return card, nil
		}
	}
	return cards[0], nil
}

// scanConnectors compares the connected displays to the known outputs,
// adding and removing outputs to match. It must be called with n.mu
// held.
func (n *Native) scanConnectors() {
	res, err := n.gpu.Resources()
	if err != nil {
		n.push(DeviceFailed{Err: &DeviceError{Device: n.gpu.Path, Err: err}})
		return
	}

	used := make(map[uint32]bool)
	for _, out := range n.outputs {
		used[out.crtc] = true
	}

	seen := make(map[string]bool)
	for _, id := range res.Connectors {
		conn, err := n.gpu.Connector(id)
		if err != nil {
			n.log().WithError(err).Warnln("read connector")
			continue
		}
		if conn.Connection != drm.Connected || len(conn.Modes) == 0 {
			continue
		}
		seen[conn.Name] = true
		if _, ok := n.outputs[conn.Name]; ok {
			continue
		}

		crtc, err := n.gpu.PickCRTC(res, conn, used)
		if err != nil {
			n.log().WithError(err).WithField("connector", conn.Name).Warnln("cannot drive display")
			continue
		}
		used[crtc] = true

		out := drmOutput{
			name:      conn.Name,
			connector: conn.ID,
			crtc:      crtc,
			modes:     conn.Modes,
			damage:    newSwapDamage(2),
			modeset:   true,
		}
		n.outputs[out.name] = &out

		n.log().WithFields(logrus.Fields{
			"connector": out.name,
			"crtc":      crtc,
		}).Infoln("display connected")
		n.push(OutputAdded{Info: output.ConnectorInfo{
			Name:         conn.Name,
			Make:         "drm",
			Model:        conn.Name,
			PhysicalSize: geom.Pt(int(conn.MMWidth), int(conn.MMHeight)),
			Modes:        convertModes(conn.Modes),
		}})
	}

	for name, out := range n.outputs {
		if !seen[name] {
			n.removeOutput(out)
		}
	}
}

func convertModes(modes []drm.ModeInfo) []output.Mode {
	converted := make([]output.Mode, 0, len(modes))
	for _, m := range modes {
		converted = append(converted, output.Mode{
			Size:       geom.Pt(int(m.HDisplay), int(m.VDisplay)),
			RefreshMHz: m.RefreshMHz(),
			Preferred:  m.Preferred(),
		})
	}
	return converted
}

// findMode returns the mode of a connector that has the given size,
// preferring the one that the display prefers and then the fastest.
func findMode(modes []drm.ModeInfo, size geom.Point[int]) (drm.ModeInfo, bool) {
	var best drm.ModeInfo
	var found bool
	for _, m := range modes {
		if int(m.HDisplay) != size.X || int(m.VDisplay) != size.Y {
			continue
		}
		switch {
		case !found,
			m.Preferred() && !best.Preferred(),
			m.Preferred() == best.Preferred() && m.RefreshMHz() > best.RefreshMHz():
			best, found = m, true
		}
	}
	return best, found
}

// removeOutput must be called with n.mu held.
func (n *Native) removeOutput(out *drmOutput) {
	delete(n.outputs, out.name)
	if n.active {
		n.gpu.DisableCRTC(out.crtc)
	}
	n.destroyBuffers(out)

	n.log().WithField("connector", out.name).Infoln("display disconnected")
	if out.inflight != 0 {
		n.push(Presented{Output: out.name, Token: out.inflight, Time: time.Now(), Discarded: true})
	}
	n.push(OutputRemoved{Name: out.name})
}

func (n *Native) destroyBuffers(out *drmOutput) {
	for i, buf := range out.buffers {
		if buf == nil {
			continue
		}
		if err := n.gpu.DestroyDumb(buf); err != nil {
			n.log().WithError(err).Warnln("destroy dumb buffer")
		}
		out.buffers[i] = nil
	}
}

// scanInputs opens every input device that is not already open. It
// must be called with n.mu held.
func (n *Native) scanInputs() {
	paths, _ := filepath.Glob("/dev/input/event*")
	for _, path := range paths {
		n.addInput(path)
	}
}

func (n *Native) addInput(path string) {
	if _, ok := n.inputs[path]; ok {
		return
	}

	dev, err := openInput(path)
	if err != nil {
		n.log().WithError(err).WithField("device", path).Warnln("open input device")
		return
	}
	if dev == nil {
		return
	}
	n.inputs[path] = dev

	n.log().WithFields(logrus.Fields{
		"device": path,
		"name":   dev.dev.Name,
		"type":   dev.typ,
	}).Infoln("input device added")
	n.push(InputDeviceAdded{Name: dev.name, Type: dev.typ})

	go n.readInput(dev)
}

func (n *Native) readInput(dev *inputDevice) {
	err := dev.read(func(events []Event) {
		n.mu.Lock()
		active := n.active
		n.mu.Unlock()
		if active {
			n.push(events...)
		}
	})

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.inputs[dev.path] != dev {
		return
	}
	n.log().WithError(err).WithField("device", dev.path).Infoln("input device gone")
	n.removeInput(dev)
}

// removeInput must be called with n.mu held.
func (n *Native) removeInput(dev *inputDevice) {
	delete(n.inputs, dev.path)
	dev.close()
	n.push(InputDeviceRemoved{Name: dev.name})
}

func (n *Native) watchDevices() {
	for {
		ev, err := n.monitor.Read()
		if err != nil {
			n.mu.Lock()
			closed := n.closed
			n.mu.Unlock()
			if !closed {
				n.log().WithError(err).Warnln("stopped watching for hot-plugged devices")
			}
			return
		}
		n.handleUevent(ev)
	}
}

func (n *Native) handleUevent(ev uevent.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	switch ev.Subsystem {
	case "drm":
		switch {
		case ev.Hotplug() && ev.DevName() == n.gpu.Path:
			n.log().Debugln("connectors changed")
			n.scanConnectors()

		case ev.Action == uevent.Remove && ev.DevName() == n.gpu.Path:
			n.log().WithField("gpu", n.gpu.Path).Errorln("gpu removed")
			for _, out := range n.outputs {
				n.removeOutput(out)
			}
			n.push(DeviceFailed{Err: &DeviceError{Device: n.gpu.Path, Err: ErrNoGPU}})
		}

	case "input":
		path := ev.DevName()
		if !strings.HasPrefix(path, "/dev/input/event") {
			return
		}
		switch ev.Action {
		case uevent.Add:
			n.addInput(path)
		case uevent.Remove:
			if dev, ok := n.inputs[path]; ok {
				n.removeInput(dev)
			}
		}
	}
}

func (n *Native) readFlips() {
	for {
		flips, err := n.gpu.ReadEvents()
		if err != nil {
			n.mu.Lock()
			closed := n.closed
			n.mu.Unlock()
			if !closed {
				n.push(DeviceFailed{Err: &DeviceError{Device: n.gpu.Path, Err: err, Fatal: true}})
			}
			return
		}

		n.mu.Lock()
		for _, flip := range flips {
			n.flipped(flip)
		}
		n.mu.Unlock()
	}
}

// flipped must be called with n.mu held.
func (n *Native) flipped(flip drm.FlipEvent) {
	token := PresentationToken(flip.UserData)
	for _, out := range n.outputs {
		if out.crtc != flip.CRTC || out.inflight != token {
			continue
		}
		out.inflight = 0
		out.front = 1 - out.front
		n.push(Presented{Output: out.name, Token: token, Time: flip.Time})
		return
	}
}

func (n *Native) handleSignals() {
	for {
		select {
		case <-n.done:
			return
		case sig := <-n.signals:
			switch sig {
			case releaseSignal:
				n.deactivate()
			case acquireSignal:
				n.activate()
			}
		}
	}
}

// deactivate gives up the GPU and input devices so that another
// session can use them.
func (n *Native) deactivate() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.active {
		return
	}
	n.active = false

	n.push(SessionChanged{Active: false})
	for _, out := range n.outputs {
		if out.inflight != 0 {
			n.push(Presented{Output: out.name, Token: out.inflight, Time: time.Now(), Discarded: true})
			out.inflight = 0
		}
		out.modeset = true
	}
	for _, dev := range n.inputs {
		dev.dev.Release()
	}

	if err := n.gpu.DropMaster(); err != nil {
		n.log().WithError(err).Warnln("drop drm master")
	}
	if err := n.vt.release(); err != nil {
		n.log().WithError(err).Warnln("release vt")
	}
	n.log().Infoln("session deactivated")
}

func (n *Native) activate() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.active {
		return
	}

	if err := n.vt.acquire(); err != nil {
		n.log().WithError(err).Warnln("acquire vt")
	}
	if err := n.gpu.SetMaster(); err != nil {
		n.push(DeviceFailed{Err: &DeviceError{Device: n.gpu.Path, Err: err, Fatal: true}})
		return
	}
	for _, dev := range n.inputs {
		dev.dev.Grab()
	}
	n.active = true

	// Displays may have changed while another session had them.
	n.scanConnectors()
	for _, out := range n.outputs {
		out.damage.reset()
	}
	n.push(SessionChanged{Active: true})
	n.log().Infoln("session activated")
}

func (n *Native) submit(name string, frame *Frame) (PresentationToken, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case n.gpu == nil:
		return 0, ErrNotStarted
	case n.closed:
		return 0, ErrClosed
	case !n.active:
		return 0, ErrInactive
	}

	out, ok := n.outputs[name]
	if !ok {
		return 0, fmt.Errorf("submit to %q: %w", name, ErrUnknownOutput)
	}
	if out.inflight != 0 {
		return 0, ErrInFlight
	}

	bounds := geom.FromImageRect(frame.Image.Rect)
	size := frame.Transform.Size(bounds.Size())
	err := n.prepare(out, size)
	if err != nil {
		return 0, &DeviceError{Device: out.name, Err: err}
	}

	back := 1 - out.front
	buf := out.buffers[back]
	rects, full := out.damage.use(back, frame.Damage)
	if full {
		rects = []geom.Rect[int]{bounds}
	}
	blit(scanout(buf.Pix, buf.Pitch, buf.Height), frame.Image, rects, frame.Transform)

	n.token++
	token := n.token

	if out.modeset {
		err := n.gpu.SetCRTC(out.crtc, buf.FB(), out.connector, out.mode)
		if err != nil {
			return 0, &DeviceError{Device: out.name, Err: fmt.Errorf("mode set: %w", err)}
		}
		out.modeset = false
		out.front = back
		n.push(Presented{Output: out.name, Token: token, Time: time.Now()})
		return token, nil
	}

	err = n.gpu.PageFlip(out.crtc, buf.FB(), uint64(token))
	if err != nil {
		return 0, &DeviceError{Device: out.name, Err: fmt.Errorf("page flip: %w", err)}
	}
	out.inflight = token
	return token, nil
}

// prepare makes sure that out has scanout buffers of the given size,
// choosing a matching mode. It must be called with n.mu held.
func (n *Native) prepare(out *drmOutput, size geom.Point[int]) error {
	if out.buffers[0] != nil && out.buffers[0].Width == size.X && out.buffers[0].Height == size.Y {
		return nil
	}

	mode, ok := findMode(out.modes, size)
	if !ok {
		return fmt.Errorf("no %vx%v mode", size.X, size.Y)
	}

	n.destroyBuffers(out)
	for i := range out.buffers {
		buf, err := n.gpu.CreateDumb(size.X, size.Y)
		if err != nil {
			n.destroyBuffers(out)
			return err
		}
		out.buffers[i] = buf
	}

	out.mode = mode
	out.modeset = true
	out.damage.reset()
	n.log().WithFields(logrus.Fields{
		"connector": out.name,
		"mode":      mode,
	}).Infoln("allocated scanout buffers")
	return nil
}

func (n *Native) switchVT(vt int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.vt == nil {
		return ErrNotStarted
	}
	err := n.vt.activate(vt)
	if err != nil {
		return fmt.Errorf("switch to vt%v: %w", vt, err)
	}
	return nil
}

func (n *Native) close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	close(n.done)

	var errs []error
	if n.monitor != nil {
		errs = append(errs, n.monitor.Close())
	}
	for _, dev := range n.inputs {
		errs = append(errs, dev.close())
	}
	clear(n.inputs)

	if n.gpu != nil {
		for _, out := range n.outputs {
			if n.active {
				n.gpu.DisableCRTC(out.crtc)
			}
			n.destroyBuffers(out)
		}
		clear(n.outputs)
		errs = append(errs, n.gpu.Close())
	}

	if n.signals != nil {
		signal.Stop(n.signals)
	}
	if n.vt != nil {
		errs = append(errs, n.vt.close())
	}

	n.events.Stop()
	return errors.Join(errs...)
}
