// Package xkb builds XKB keymaps for clients and tracks modifier
// state without depending on libxkbcommon. Keymaps are sent to
// clients as include statements, which they compile against the
// system's XKB data.
package xkb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Names is a set of RMLVO names describing a keymap.
type Names struct {
	Rules   string
	Model   string
	Layout  string
	Variant string
	Options string
}

// NamesFromEnv returns the names configured by the standard
// XKB_DEFAULT_* environment variables.
func NamesFromEnv() Names {
	return Names{
		Rules:   os.Getenv("XKB_DEFAULT_RULES"),
		Model:   os.Getenv("XKB_DEFAULT_MODEL"),
		Layout:  os.Getenv("XKB_DEFAULT_LAYOUT"),
		Variant: os.Getenv("XKB_DEFAULT_VARIANT"),
		Options: os.Getenv("XKB_DEFAULT_OPTIONS"),
	}
}

func (n Names) withDefaults() Names {
	if n.Rules == "" {
		n.Rules = "evdev"
	}
	if n.Model == "" {
		n.Model = "pc105"
	}
	if n.Layout == "" {
		n.Layout = "us"
	}
	return n
}

// Keymap is a keymap ready to be sent to clients.
type Keymap struct {
	names Names
	text  string
	file  *os.File
}

// New generates a keymap for names. Empty names fall back to the
// evdev rules with a pc105 us layout.
func New(names Names) (*Keymap, error) {
	names = names.withDefaults()
	if names.Rules != "evdev" && names.Rules != "base" {
		return nil, fmt.Errorf("unsupported rules %q", names.Rules)
	}

	km := Keymap{
		names: names,
		text:  keymapText(names),
	}

	f, err := memfd("booth-keymap", km.text)
	if err != nil {
		return nil, err
	}
	km.file = f

	return &km, nil
}

// ErrInvalidKeymap is returned for keymaps supplied by clients that
// are not in the XKB text format.
var ErrInvalidKeymap = errors.New("invalid keymap")

// maxKeymapSize limits keymaps supplied by clients.
const maxKeymapSize = 1 << 20

// Read loads a keymap in the XKB text format from the first size
// bytes of f, as supplied by a client. The keymap gets its own copy
// of the text, so f can be closed afterwards.
func Read(f *os.File, size uint32) (*Keymap, error) {
	if size == 0 || size > maxKeymapSize {
		return nil, fmt.Errorf("keymap size %v: %w", size, ErrInvalidKeymap)
	}

	data := make([]byte, size)
	n, err := f.ReadAt(data, 0)
	if err != nil && (!errors.Is(err, io.EOF) || n < len(data)) {
		return nil, fmt.Errorf("read keymap: %w", err)
	}
	text, _, _ := strings.Cut(string(data), "\x00")
	if !strings.Contains(text, "xkb_keymap") {
		return nil, ErrInvalidKeymap
	}

	km := Keymap{text: text}
	km.file, err = memfd("booth-client-keymap", text)
	if err != nil {
		return nil, err
	}
	return &km, nil
}

// Names returns the names that the keymap was generated from with
// defaults filled in. Keymaps loaded with Read have no names.
func (km *Keymap) Names() Names {
	return km.names
}

// String returns the keymap in the XKB text format.
func (km *Keymap) String() string {
	return km.text
}

// File returns a sealed, read-only file holding the null terminated
// keymap text along with its size. The file remains owned by the
// Keymap.
func (km *Keymap) File() (*os.File, uint32) {
	return km.file, uint32(len(km.text) + 1)
}

func (km *Keymap) Close() error {
	return km.file.Close()
}

func keymapText(n Names) string {
	var sb strings.Builder
	sb.WriteString("xkb_keymap {\n")
	fmt.Fprintf(&sb, "\txkb_keycodes { include \"%v+aliases(qwerty)\" };\n", n.Rules)
	sb.WriteString("\txkb_types { include \"complete\" };\n")
	sb.WriteString("\txkb_compat { include \"complete\" };\n")
	fmt.Fprintf(&sb, "\txkb_symbols { include \"%v\" };\n", symbols(n))
	fmt.Fprintf(&sb, "\txkb_geometry { include \"pc(%v)\" };\n", n.Model)
	sb.WriteString("};\n")
	return sb.String()
}

func symbols(n Names) string {
	layouts := strings.Split(n.Layout, ",")
	variants := strings.Split(n.Variant, ",")

	parts := []string{"pc"}
	for i, layout := range layouts {
		layout = strings.TrimSpace(layout)
		if layout == "" {
			continue
		}
		if i < len(variants) && strings.TrimSpace(variants[i]) != "" {
			layout += "(" + strings.TrimSpace(variants[i]) + ")"
		}
		if i > 0 {
			layout += fmt.Sprintf(":%v", i+1)
		}
		parts = append(parts, layout)
	}
	parts = append(parts, "inet(evdev)")

	for _, opt := range strings.Split(n.Options, ",") {
		group, name, ok := strings.Cut(strings.TrimSpace(opt), ":")
		if !ok || group == "" || name == "" {
			continue
		}
		parts = append(parts, group+"("+name+")")
	}

	return strings.Join(parts, "+")
}

func memfd(name, text string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("create memfd: %w", err)
	}
	f := os.NewFile(uintptr(fd), name)

	data := append([]byte(text), 0)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("write keymap: %w", err)
	}

	_, err = unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_WRITE|unix.F_SEAL_SEAL)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seal keymap: %w", err)
	}

	return f, nil
}
