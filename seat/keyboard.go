package seat

import (
	"time"

	"deedles.dev/booth/internal/util"
	"deedles.dev/booth/internal/xkb"
	"deedles.dev/booth/scene"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Evdev codes of the function keys.
const (
	keyF1  = 59
	keyF10 = 68
	keyF11 = 87
	keyF12 = 88
)

// keyboardTarget decides which surface should have keyboard focus:
//
//  1. the topmost layer surface with exclusive interactivity, from
//     the highest layer down,
//  2. the surface that was last activated, if it can still take
//     focus,
//  3. the visible application of the first output that has one.
func (r *Router) keyboardTarget() scene.SurfaceID {
	outs := r.Scene.Outputs()

	for layer := scene.LayerOverlay; layer >= scene.LayerBackground; layer-- {
		for _, out := range outs {
			surfaces := r.Scene.Surfaces(out, scene.RoleLayer)
			for i := len(surfaces) - 1; i >= 0; i-- {
				ls := surfaces[i].Layer()
				if ls.Layer == layer && ls.Interactivity == scene.InteractivityExclusive {
					return surfaces[i].ID()
				}
			}
		}
	}

	if s := r.Scene.Get(r.preferred); s != nil && r.focusable(s) {
		return s.ID()
	}

	for _, out := range outs {
		if s := r.Scene.VisibleApplication(out); s != nil {
			return s.ID()
		}
	}
	return scene.SurfaceID{}
}

// focusable reports whether s may hold keyboard focus.
func (r *Router) focusable(s *scene.Surface) bool {
	if !s.Mapped() {
		return false
	}

	switch s.Role() {
	case scene.RoleApplication:
		return r.Scene.VisibleApplication(s.Output()) == s
	case scene.RoleLayer:
		return s.Layer().Interactivity != scene.InteractivityNone
	default:
		return false
	}
}

// root returns the surface at the top of a subsurface tree.
func (r *Router) root(id scene.SurfaceID) *scene.Surface {
	s := r.Scene.Get(id)
	for s != nil && s.Role() == scene.RoleSubsurface {
		parent := r.Scene.Get(s.Parent())
		if parent == nil {
			return nil
		}
		s = parent
	}
	return s
}

// Activate gives keyboard focus to a surface if it can take it and no
// exclusive layer surface is holding it. A surface that was activated
// keeps focus until another one is, or until it is unmapped.
func (r *Router) Activate(id scene.SurfaceID) {
	r.activate(id)
}

func (r *Router) activate(id scene.SurfaceID) {
	s := r.root(id)
	if s == nil || !r.focusable(s) {
		return
	}
	r.preferred = s.ID()
	if !r.suspended {
		r.setKeyboardFocus(r.keyboardTarget())
	}
}

func (r *Router) setKeyboardFocus(target scene.SurfaceID) {
	old := r.Seat.keyboard
	if old == target {
		return
	}

	r.Seat.keyboard = target
	serial := r.Seat.NextSerial()

	if rcv, ok := r.receiver(old); ok {
		rcv.KeyboardLeave(serial, old)
	}
	if rcv, ok := r.receiver(target); ok {
		rcv.Keymap(r.Seat.active)
		rcv.KeyboardEnter(serial, target, r.Seat.PressedKeys())
		rcv.Modifiers(r.Seat.NextSerial(), r.Seat.Modifiers())
	}

	logrus.WithFields(logrus.Fields{
		"old": old,
		"new": target,
	}).Debugln("keyboard focus changed")
}

// Key presses or releases a key, given as an evdev code. Compositor
// bindings are handled here and never reach a client.
func (r *Router) Key(t time.Time, code uint32, pressed bool) {
	if r.suspended {
		return
	}
	r.useKeymap(r.Seat.keymap)
	if !pressed && slices.Contains(r.bound, code) {
		r.bound = util.Remove(r.bound, code)
		return
	}
	if !r.Seat.setKey(code, pressed) {
		return
	}
	modsChanged := r.Seat.mods.Update(code, pressed)

	if pressed && r.binding(code) {
		r.Seat.setKey(code, false)
		r.bound = append(r.bound, code)
		return
	}

	rcv, ok := r.receiver(r.Seat.keyboard)
	if !ok {
		return
	}
	rcv.Key(r.Seat.NextSerial(), t, code, pressed)
	if modsChanged {
		rcv.Modifiers(r.Seat.NextSerial(), r.Seat.Modifiers())
	}
}

// VirtualKey presses or releases a key of a virtual keyboard with the
// keymap km. The focused client is switched to km first if needed.
// Virtual keys never trigger compositor bindings.
func (r *Router) VirtualKey(t time.Time, km *xkb.Keymap, code uint32, pressed bool) {
	if r.suspended {
		return
	}
	r.useKeymap(km)
	if !r.Seat.setKey(code, pressed) {
		return
	}

	if rcv, ok := r.receiver(r.Seat.keyboard); ok {
		rcv.Key(r.Seat.NextSerial(), t, code, pressed)
	}
}

// VirtualModifiers sets the modifier state of a virtual keyboard with
// the keymap km.
func (r *Router) VirtualModifiers(km *xkb.Keymap, mods xkb.Modifiers) {
	if r.suspended {
		return
	}
	changed := r.Seat.virtMods != mods
	r.Seat.virtMods = mods
	if r.useKeymap(km) || !changed {
		return
	}

	if rcv, ok := r.receiver(r.Seat.keyboard); ok {
		rcv.Modifiers(r.Seat.NextSerial(), mods)
	}
}

// ReleaseKeymap switches back to the physical keyboards' keymap if km
// is in use, such as when the virtual keyboard that supplied it goes
// away.
func (r *Router) ReleaseKeymap(km *xkb.Keymap) {
	if r.Seat.active != km || km == r.Seat.keymap {
		return
	}
	r.Seat.virtMods = xkb.Modifiers{}
	if r.suspended {
		r.Seat.active = r.Seat.keymap
		return
	}
	r.useKeymap(r.Seat.keymap)
}

// useKeymap makes km the keymap that keys are sent with. It reports
// whether that changed, in which case the focused client has been
// sent the keymap and the matching modifiers.
func (r *Router) useKeymap(km *xkb.Keymap) bool {
	if r.Seat.active == km {
		return false
	}
	r.Seat.active = km

	if rcv, ok := r.receiver(r.Seat.keyboard); ok {
		rcv.Keymap(km)
		rcv.Modifiers(r.Seat.NextSerial(), r.Seat.Modifiers())
	}
	return true
}

// binding runs the compositor binding for a key press, if there is
// one.
func (r *Router) binding(code uint32) bool {
	if r.SwitchVT == nil || !r.Seat.Modifiers().Has(xkb.ModControl|xkb.ModAlt) {
		return false
	}

	vt, ok := functionKey(code)
	if !ok {
		return false
	}

	logrus.WithField("vt", vt).Infoln("switching virtual terminal")
	r.SwitchVT(vt)
	return true
}

// functionKey returns n for the key Fn.
func functionKey(code uint32) (int, bool) {
	switch {
	case code >= keyF1 && code <= keyF10:
		return int(code-keyF1) + 1, true
	case code == keyF11:
		return 11, true
	case code == keyF12:
		return 12, true
	default:
		return 0, false
	}
}
