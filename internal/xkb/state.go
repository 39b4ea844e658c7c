package xkb

// Modifier masks as assigned by the "complete" compat and the pc
// symbols.
const (
	ModShift   uint32 = 1 << 0
	ModLock    uint32 = 1 << 1
	ModControl uint32 = 1 << 2
	ModAlt     uint32 = 1 << 3
	ModNum     uint32 = 1 << 4
	ModSuper   uint32 = 1 << 6
	ModLevel3  uint32 = 1 << 7
)

// Evdev codes of the keys that affect modifier state.
const (
	keyLeftCtrl   = 29
	keyLeftShift  = 42
	keyRightShift = 54
	keyLeftAlt    = 56
	keyCapsLock   = 58
	keyNumLock    = 69
	keyRightCtrl  = 97
	keyRightAlt   = 100
	keyLeftMeta   = 125
	keyRightMeta  = 126
)

// Modifiers is the serialized modifier state sent to clients.
type Modifiers struct {
	Depressed uint32
	Latched   uint32
	Locked    uint32
	Group     uint32
}

// Has reports whether all of mask is active, either held or locked.
func (m Modifiers) Has(mask uint32) bool {
	return (m.Depressed|m.Latched|m.Locked)&mask == mask
}

// State tracks modifier keys as they are pressed and released.
type State struct {
	held     map[uint32]uint32
	locked   uint32
	rightAlt uint32
}

// NewState returns the modifier state for the keymap. Layouts other
// than us treat the right alt key as AltGr.
func (km *Keymap) NewState() *State {
	s := State{
		held:     make(map[uint32]uint32),
		rightAlt: ModLevel3,
	}
	if km == nil || km.names.Layout == "us" {
		s.rightAlt = ModAlt
	}
	return &s
}

func (s *State) mask(code uint32) uint32 {
	switch code {
	case keyLeftShift, keyRightShift:
		return ModShift
	case keyLeftCtrl, keyRightCtrl:
		return ModControl
	case keyLeftAlt:
		return ModAlt
	case keyRightAlt:
		return s.rightAlt
	case keyLeftMeta, keyRightMeta:
		return ModSuper
	default:
		return 0
	}
}

// Update applies a key press or release given as an evdev code and
// reports whether the serialized modifiers changed.
func (s *State) Update(code uint32, pressed bool) bool {
	before := s.Modifiers()

	switch code {
	case keyCapsLock:
		if pressed {
			s.locked ^= ModLock
		}
	case keyNumLock:
		if pressed {
			s.locked ^= ModNum
		}
	default:
		mask := s.mask(code)
		if mask == 0 {
			return false
		}
		if pressed {
			s.held[code] = mask
		} else {
			delete(s.held, code)
		}
	}

	return s.Modifiers() != before
}

// Reset releases every held modifier, keeping locks.
func (s *State) Reset() {
	clear(s.held)
}

func (s *State) Modifiers() Modifiers {
	var depressed uint32
	for _, mask := range s.held {
		depressed |= mask
	}
	return Modifiers{
		Depressed: depressed,
		Locked:    s.locked,
	}
}
