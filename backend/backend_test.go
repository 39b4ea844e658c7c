package backend

import (
	"encoding/binary"
	"image"
	"image/color"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/drm"
	evdev "github.com/gvalkov/golang-evdev"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
	}{
		{"windowed", KindWindowed},
		{"Wayland", KindWindowed},
		{"native", KindNative},
		{"drm", KindNative},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			kind, err := ParseKind(test.name)
			require.NoError(t, err)
			assert.Equal(t, test.kind, kind)
		})
	}

	_, err := ParseKind("x11")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDetect(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "wayland-1")
	assert.Equal(t, KindWindowed, Detect())

	t.Setenv("WAYLAND_DISPLAY", "")
	assert.Equal(t, KindNative, Detect())

	kind, err := ParseKind("auto")
	require.NoError(t, err)
	assert.Equal(t, KindNative, kind)
}

func TestDeviceTypeString(t *testing.T) {
	assert.Equal(t, "none", DeviceType(0).String())
	assert.Equal(t, "pointer", DevicePointer.String())
	assert.Equal(t, "keyboard+pointer", (DeviceKeyboard | DevicePointer).String())
}

func TestNotStarted(t *testing.T) {
	b, err := New(KindWindowed, Config{})
	require.NoError(t, err)
	_, err = b.SubmitFrame(windowedOutput, &Frame{Image: image.NewRGBA(image.Rect(0, 0, 1, 1))})
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.False(t, b.CanSwitchVT())
	assert.ErrorIs(t, b.SwitchVT(2), ErrUnsupported)

	_, err = b.SubmitFrame("HDMI-A-1", &Frame{})
	assert.ErrorIs(t, err, ErrUnknownOutput)
}

func TestPollEvents(t *testing.T) {
	b, err := New(KindWindowed, Config{})
	require.NoError(t, err)
	assert.Empty(t, b.PollEvents())

	b.windowed.push(SessionChanged{Active: true})
	b.windowed.push(Quit{})

	var got []Event
	require.Eventually(t, func() bool {
		got = append(got, b.PollEvents()...)
		return len(got) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []Event{SessionChanged{Active: true}, Quit{}}, got)
	assert.Empty(t, b.PollEvents())
}

// hostConn connects a windowed backend to a fake host compositor and
// returns the host's end of the connection.
func hostConn(t *testing.T, w *Windowed) *net.UnixConn {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	t.Setenv("WAYLAND_DISPLAY", "host-0")

	lis, err := net.ListenUnix("unix", &net.UnixAddr{Name: filepath.Join(dir, "host-0"), Net: "unix"})
	require.NoError(t, err)
	defer lis.Close()

	display, err := client.Connect("")
	require.NoError(t, err)
	w.display = display
	w.wctx = display.Context()

	conn, err := lis.AcceptUnix()
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		w.wctx.Close()
	})
	return conn
}

func hostEvent(sender uint32, op uint16, args ...uint32) []byte {
	data := make([]byte, 8, 8+4*len(args))
	binary.NativeEndian.PutUint32(data[0:], sender)
	binary.NativeEndian.PutUint32(data[4:], uint32(8+4*len(args))<<16|uint32(op))
	for _, arg := range args {
		data = binary.NativeEndian.AppendUint32(data, arg)
	}
	return data
}

func TestWindowedDispatchUnknownObject(t *testing.T) {
	w := newWindowed(Config{})
	host := hostConn(t, w)

	_, err := host.Write(hostEvent(77, 0))
	require.NoError(t, err)
	assert.NoError(t, w.dispatchOne())

	var deleted []uint32
	w.display.SetDeleteIdHandler(func(ev client.DisplayDeleteIdEvent) { deleted = append(deleted, ev.Id) })
	_, err = host.Write(hostEvent(1, 1, 5))
	require.NoError(t, err)
	require.NoError(t, w.dispatchOne())
	assert.Equal(t, []uint32{5}, deleted)
}

func TestWindowedRequestsDuringDispatch(t *testing.T) {
	const n = 100

	w := newWindowed(Config{})
	host := hostConn(t, w)

	var deleted int
	w.display.SetDeleteIdHandler(func(client.DisplayDeleteIdEvent) { deleted++ })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := w.dispatchOne(); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := host.Read(buf); err != nil {
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		_, err := host.Write(hostEvent(1, 1, uint32(1000+i)))
		require.NoError(t, err)

		w.wl.Lock()
		_, err = w.display.Sync()
		w.wl.Unlock()
		require.NoError(t, err)
	}
	wg.Wait()

	w.wl.Lock()
	defer w.wl.Unlock()
	assert.Equal(t, n, deleted)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		caps map[int][]int
		typ  DeviceType
	}{
		{
			name: "keyboard",
			caps: map[int][]int{evdev.EV_KEY: {evdev.KEY_A, evdev.KEY_Z, evdev.KEY_ENTER}},
			typ:  DeviceKeyboard,
		},
		{
			name: "mouse",
			caps: map[int][]int{
				evdev.EV_KEY: {evdev.BTN_LEFT, evdev.BTN_RIGHT},
				evdev.EV_REL: {evdev.REL_X, evdev.REL_Y, evdev.REL_WHEEL},
			},
			typ: DevicePointer,
		},
		{
			name: "touchscreen",
			caps: map[int][]int{
				evdev.EV_KEY: {btnTouch},
				evdev.EV_ABS: {evdev.ABS_X, evdev.ABS_Y, absMTSlot, absMTPositionX, absMTPositionY, absMTTrackingID},
			},
			typ: DeviceTouch,
		},
		{
			name: "tablet",
			caps: map[int][]int{
				evdev.EV_KEY: {evdev.BTN_LEFT},
				evdev.EV_ABS: {evdev.ABS_X, evdev.ABS_Y},
			},
			typ: DevicePointer,
		},
		{
			name: "power button",
			caps: map[int][]int{evdev.EV_KEY: {evdev.KEY_POWER}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.typ, classify(test.caps))
		})
	}
}

func raw(typ, code int, value int32) evdev.InputEvent {
	return evdev.InputEvent{Type: uint16(typ), Code: uint16(code), Value: value}
}

func syn() evdev.InputEvent {
	return raw(evdev.EV_SYN, evdev.SYN_REPORT, 0)
}

func feedAll(tr *translator, events ...evdev.InputEvent) [][]Event {
	var frames [][]Event
	for i := range events {
		if out := tr.feed(&events[i]); out != nil {
			frames = append(frames, out)
		}
	}
	return frames
}

func TestTranslateRelative(t *testing.T) {
	tr := newTranslator("event3", DevicePointer, absRange{}, absRange{})
	frames := feedAll(tr,
		raw(evdev.EV_REL, evdev.REL_X, 3),
		raw(evdev.EV_REL, evdev.REL_Y, -2),
		raw(evdev.EV_REL, evdev.REL_X, 1),
		raw(evdev.EV_KEY, evdev.BTN_LEFT, 1),
		syn(),
		raw(evdev.EV_REL, evdev.REL_WHEEL, 1),
		syn(),
	)
	require.Len(t, frames, 2)

	require.Len(t, frames[0], 3)
	motion, ok := frames[0][0].(PointerMotion)
	require.True(t, ok)
	assert.Equal(t, geom.Pt(4.0, -2.0), motion.Delta)
	button, ok := frames[0][1].(PointerButton)
	require.True(t, ok)
	assert.Equal(t, uint32(evdev.BTN_LEFT), button.Button)
	assert.True(t, button.Pressed)
	assert.Equal(t, PointerFrame{Device: "event3"}, frames[0][2])

	require.Len(t, frames[1], 2)
	axis, ok := frames[1][0].(PointerAxis)
	require.True(t, ok)
	assert.Equal(t, AxisVertical, axis.Axis)
	assert.Equal(t, AxisSourceWheel, axis.Source)
	assert.Equal(t, float64(-wheelStep), axis.Value)
	assert.Equal(t, int32(-1), axis.Discrete)
}

func TestTranslateKeys(t *testing.T) {
	tr := newTranslator("event0", DeviceKeyboard, absRange{}, absRange{})
	frames := feedAll(tr,
		raw(evdev.EV_KEY, evdev.KEY_A, 1),
		syn(),
		raw(evdev.EV_KEY, evdev.KEY_A, 2),
		syn(),
		raw(evdev.EV_KEY, evdev.KEY_A, 0),
		syn(),
	)
	require.Len(t, frames, 2)
	assert.Equal(t, []bool{true, false}, []bool{
		frames[0][0].(Key).Pressed,
		frames[1][0].(Key).Pressed,
	})
	assert.Equal(t, uint32(evdev.KEY_A), frames[0][0].(Key).Code)
}

func TestTranslateDropped(t *testing.T) {
	tr := newTranslator("event0", DeviceKeyboard, absRange{}, absRange{})
	frames := feedAll(tr,
		raw(evdev.EV_KEY, evdev.KEY_A, 1),
		raw(evdev.EV_SYN, synDropped, 0),
		raw(evdev.EV_KEY, evdev.KEY_B, 1),
		syn(),
		raw(evdev.EV_KEY, evdev.KEY_C, 1),
		syn(),
	)
	require.Len(t, frames, 1)
	require.Len(t, frames[0], 1)
	assert.Equal(t, uint32(evdev.KEY_C), frames[0][0].(Key).Code)
}

func TestTranslateAbsolutePointer(t *testing.T) {
	tr := newTranslator("event5", DevicePointer, absRange{0, 100}, absRange{0, 200})
	frames := feedAll(tr,
		raw(evdev.EV_ABS, evdev.ABS_X, 25),
		raw(evdev.EV_ABS, evdev.ABS_Y, 50),
		raw(evdev.EV_KEY, btnTouch, 1),
		syn(),
	)
	require.Len(t, frames, 1)
	require.Len(t, frames[0], 3)
	motion, ok := frames[0][0].(PointerMotionAbsolute)
	require.True(t, ok)
	assert.Equal(t, geom.Pt(0.25, 0.25), motion.Pos)
	assert.Equal(t, uint32(evdev.BTN_LEFT), frames[0][1].(PointerButton).Button)
}

func TestTranslateTouch(t *testing.T) {
	tr := newTranslator("event7", DeviceTouch, absRange{0, 1000}, absRange{0, 1000})
	frames := feedAll(tr,
		raw(evdev.EV_ABS, absMTSlot, 0),
		raw(evdev.EV_ABS, absMTTrackingID, 40),
		raw(evdev.EV_ABS, absMTPositionX, 100),
		raw(evdev.EV_ABS, absMTPositionY, 200),
		raw(evdev.EV_ABS, absMTSlot, 1),
		raw(evdev.EV_ABS, absMTTrackingID, 41),
		raw(evdev.EV_ABS, absMTPositionX, 500),
		raw(evdev.EV_ABS, absMTPositionY, 500),
		raw(evdev.EV_KEY, btnTouch, 1),
		syn(),

		raw(evdev.EV_ABS, absMTSlot, 0),
		raw(evdev.EV_ABS, absMTPositionX, 150),
		syn(),

		raw(evdev.EV_ABS, absMTSlot, 1),
		raw(evdev.EV_ABS, absMTTrackingID, -1),
		syn(),
	)
	require.Len(t, frames, 3)

	require.Len(t, frames[0], 3)
	down0 := frames[0][0].(TouchDown)
	down1 := frames[0][1].(TouchDown)
	assert.NotEqual(t, down0.ID, down1.ID)
	assert.Equal(t, geom.Pt(0.1, 0.2), down0.Pos)
	assert.Equal(t, geom.Pt(0.5, 0.5), down1.Pos)
	assert.Equal(t, TouchFrame{Device: "event7"}, frames[0][2])

	require.Len(t, frames[1], 2)
	motion := frames[1][0].(TouchMotion)
	assert.Equal(t, down0.ID, motion.ID)
	assert.Equal(t, geom.Pt(0.15, 0.2), motion.Pos)

	require.Len(t, frames[2], 2)
	assert.Equal(t, down1.ID, frames[2][0].(TouchUp).ID)
}

func TestSwapDamage(t *testing.T) {
	d := newSwapDamage(2)
	a := geom.Rt(0, 0, 10, 10)
	b := geom.Rt(20, 20, 30, 30)

	_, full := d.use(0, []geom.Rect[int]{a})
	assert.True(t, full, "first use of a buffer")
	_, full = d.use(1, []geom.Rect[int]{b})
	assert.True(t, full, "first use of a buffer")

	rects, full := d.use(0, []geom.Rect[int]{a})
	assert.False(t, full)
	assert.Equal(t, []geom.Rect[int]{b, a}, rects)

	_, full = d.use(1, nil)
	assert.True(t, full)
	_, full = d.use(0, []geom.Rect[int]{a})
	assert.True(t, full, "missed a full redraw")

	d.reset()
	_, full = d.use(1, []geom.Rect[int]{a})
	assert.True(t, full)
}

func TestTransformRect(t *testing.T) {
	size := geom.Pt(100, 50)
	r := geom.Rt(0, 0, 10, 20)

	assert.Equal(t, r, transformRect(r, geom.TransformNormal, size))
	assert.Equal(t, geom.Rt(30, 0, 50, 10), transformRect(r, geom.Transform90, size))
	assert.Equal(t, geom.Rt(90, 30, 100, 50), transformRect(r, geom.Transform180, size))
}

func TestBlit(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	red := color.RGBA{R: 0xFF, A: 0xFF}
	src.SetRGBA(0, 0, red)

	pix := make([]byte, 2*4*4)
	dst := scanout(pix, 2*4, 4)
	blit(dst, src, []geom.Rect[int]{geom.FromImageRect(src.Rect)}, geom.Transform90)

	r, g, b, a := dst.At(1, 0).RGBA()
	assert.Equal(t, [4]uint32{0xFFFF, 0, 0, 0xFFFF}, [4]uint32{r, g, b, a})
	_, _, _, a = dst.At(0, 0).RGBA()
	assert.Zero(t, a)
}

func TestScanoutStride(t *testing.T) {
	img := scanout(make([]byte, 64*3), 64, 3)
	assert.Equal(t, image.Rect(0, 0, 16, 3), img.Bounds())
}

func TestParseVT(t *testing.T) {
	n, err := parseVT("tty2\n")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = parseVT("ttyS0")
	assert.Error(t, err)
	_, err = parseVT("tty0")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, geom.Pt(0.5, 0.25), normalize(geom.Pt(400.0, 150.0), geom.Pt(800, 600)))
	assert.Equal(t, geom.Point[float64]{}, normalize(geom.Pt(1.0, 1.0), geom.Point[int]{}))
}

func TestFindMode(t *testing.T) {
	mode := func(w, h uint16, hz uint32, preferred bool) drm.ModeInfo {
		m := drm.ModeInfo{HDisplay: w, VDisplay: h, VRefresh: hz}
		if preferred {
			m.Type = 1 << 3
		}
		return m
	}
	modes := []drm.ModeInfo{
		mode(1920, 1080, 50, false),
		mode(1920, 1080, 60, false),
		mode(1280, 720, 60, true),
	}

	m, ok := findMode(modes, geom.Pt(1920, 1080))
	require.True(t, ok)
	assert.Equal(t, 60000, m.RefreshMHz())

	m, ok = findMode(modes, geom.Pt(1280, 720))
	require.True(t, ok)
	assert.True(t, m.Preferred())

	_, ok = findMode(modes, geom.Pt(640, 480))
	assert.False(t, ok)

	converted := convertModes(modes)
	require.Len(t, converted, 3)
	assert.Equal(t, geom.Pt(1280, 720), converted[2].Size)
	assert.True(t, converted[2].Preferred)
}
