package backend

import (
	"time"

	"deedles.dev/booth/geom"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"golang.org/x/sys/unix"
)

func (w *Windowed) onCapabilities(ev client.SeatCapabilitiesEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	has := func(c client.SeatCapability) bool { return ev.Capabilities&uint32(c) != 0 }

	switch {
	case has(client.SeatCapabilityPointer) && w.pointer == nil:
		p, err := w.seat.GetPointer()
		if err != nil {
			w.log().WithError(err).Warnln("get host pointer")
			break
		}
		p.SetEnterHandler(w.onPointerEnter)
		p.SetMotionHandler(w.onPointerMotion)
		p.SetButtonHandler(w.onPointerButton)
		p.SetAxisHandler(w.onPointerAxis)
		p.SetAxisSourceHandler(w.onPointerAxisSource)
		p.SetAxisDiscreteHandler(w.onPointerAxisDiscrete)
		p.SetFrameHandler(func(client.PointerFrameEvent) {
			w.push(PointerFrame{Device: windowedPointer})
		})
		w.pointer = p
		w.push(InputDeviceAdded{Name: windowedPointer, Type: DevicePointer})

	case !has(client.SeatCapabilityPointer) && w.pointer != nil:
		w.pointer.Release()
		w.pointer = nil
		w.push(InputDeviceRemoved{Name: windowedPointer})
	}

	switch {
	case has(client.SeatCapabilityKeyboard) && w.keyboard == nil:
		k, err := w.seat.GetKeyboard()
		if err != nil {
			w.log().WithError(err).Warnln("get host keyboard")
			break
		}
		k.SetKeymapHandler(func(ev client.KeyboardKeymapEvent) {
			// Host key codes are evdev codes, so the compositor's own
			// keymap applies and the host's is never read.
			unix.Close(ev.Fd)
		})
		k.SetKeyHandler(w.onKey)
		k.SetLeaveHandler(w.onKeyboardLeave)
		w.keyboard = k
		w.push(InputDeviceAdded{Name: windowedKeyboard, Type: DeviceKeyboard})

	case !has(client.SeatCapabilityKeyboard) && w.keyboard != nil:
		w.releaseKeys()
		w.keyboard.Release()
		w.keyboard = nil
		w.push(InputDeviceRemoved{Name: windowedKeyboard})
	}

	switch {
	case has(client.SeatCapabilityTouch) && w.touch == nil:
		t, err := w.seat.GetTouch()
		if err != nil {
			w.log().WithError(err).Warnln("get host touch")
			break
		}
		t.SetDownHandler(w.onTouchDown)
		t.SetUpHandler(func(ev client.TouchUpEvent) {
			w.push(TouchUp{Device: windowedTouch, Time: time.Now(), ID: ev.Id})
		})
		t.SetMotionHandler(w.onTouchMotion)
		t.SetFrameHandler(func(client.TouchFrameEvent) {
			w.push(TouchFrame{Device: windowedTouch})
		})
		w.touch = t
		w.push(InputDeviceAdded{Name: windowedTouch, Type: DeviceTouch})

	case !has(client.SeatCapabilityTouch) && w.touch != nil:
		w.touch.Release()
		w.touch = nil
		w.push(InputDeviceRemoved{Name: windowedTouch})
	}
}

// normalize converts a position in the host window to the unit
// square of the output. It must be called with w.mu held.
func (w *Windowed) normalize(x, y float64) geom.Point[float64] {
	return normalize(geom.Pt(x, y), w.size)
}

func normalize(p geom.Point[float64], size geom.Point[int]) geom.Point[float64] {
	if size.X <= 0 || size.Y <= 0 {
		return geom.Point[float64]{}
	}
	return geom.Pt(p.X/float64(size.X), p.Y/float64(size.Y))
}

func (w *Windowed) onPointerEnter(ev client.PointerEnterEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// The compositor draws its own cursor on top of the frame.
	w.pointer.SetCursor(ev.Serial, nil, 0, 0)

	w.push(PointerMotionAbsolute{
		Device: windowedPointer,
		Time:   time.Now(),
		Output: windowedOutput,
		Pos:    w.normalize(ev.SurfaceX, ev.SurfaceY),
	})
}

func (w *Windowed) onPointerMotion(ev client.PointerMotionEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.push(PointerMotionAbsolute{
		Device: windowedPointer,
		Time:   time.Now(),
		Output: windowedOutput,
		Pos:    w.normalize(ev.SurfaceX, ev.SurfaceY),
	})
}

func (w *Windowed) onPointerButton(ev client.PointerButtonEvent) {
	w.push(PointerButton{
		Device:  windowedPointer,
		Time:    time.Now(),
		Button:  ev.Button,
		Pressed: ev.State == uint32(client.PointerButtonStatePressed),
	})
}

func (w *Windowed) onPointerAxisSource(ev client.PointerAxisSourceEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.axisSource = AxisSource(ev.AxisSource)
}

func (w *Windowed) onPointerAxisDiscrete(ev client.PointerAxisDiscreteEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ev.Axis < uint32(len(w.discrete)) {
		w.discrete[ev.Axis] = ev.Discrete
	}
}

// onPointerAxis uses the source and discrete steps that the host sent
// earlier in the same frame.
func (w *Windowed) onPointerAxis(ev client.PointerAxisEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var discrete int32
	if ev.Axis < uint32(len(w.discrete)) {
		discrete = w.discrete[ev.Axis]
		w.discrete[ev.Axis] = 0
	}

	w.push(PointerAxis{
		Device:   windowedPointer,
		Time:     time.Now(),
		Axis:     Axis(ev.Axis),
		Source:   w.axisSource,
		Value:    ev.Value,
		Discrete: discrete,
	})
}

func (w *Windowed) onKey(ev client.KeyboardKeyEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pressed := ev.State == uint32(client.KeyboardKeyStatePressed)
	if pressed {
		w.keys[ev.Key] = struct{}{}
	} else {
		delete(w.keys, ev.Key)
	}

	w.push(Key{
		Device:  windowedKeyboard,
		Time:    time.Now(),
		Code:    ev.Key,
		Pressed: pressed,
	})
}

// onKeyboardLeave releases any keys still held when the host window
// loses focus, since their releases will go elsewhere.
func (w *Windowed) onKeyboardLeave(client.KeyboardLeaveEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.releaseKeys()
}

func (w *Windowed) releaseKeys() {
	now := time.Now()
	for code := range w.keys {
		w.push(Key{Device: windowedKeyboard, Time: now, Code: code})
	}
	clear(w.keys)
}

func (w *Windowed) onTouchDown(ev client.TouchDownEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.push(TouchDown{
		Device: windowedTouch,
		Time:   time.Now(),
		ID:     ev.Id,
		Output: windowedOutput,
		Pos:    w.normalize(ev.X, ev.Y),
	})
}

func (w *Windowed) onTouchMotion(ev client.TouchMotionEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.push(TouchMotion{
		Device: windowedTouch,
		Time:   time.Now(),
		ID:     ev.Id,
		Pos:    w.normalize(ev.X, ev.Y),
	})
}
