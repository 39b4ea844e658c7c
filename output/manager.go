package output

import (
	"errors"
	"fmt"

	"deedles.dev/booth/geom"
	"deedles.dev/booth/internal/util"
	"golang.org/x/exp/slices"
)

var (
	ErrNoModes       = errors.New("connector reports no modes")
	ErrUnknownOutput = errors.New("unknown output")
	ErrDuplicate     = errors.New("output already exists")
)

// Manager tracks the set of outputs and their arrangement in the
// layout. Outputs are arranged left to right in the order that they
// were added.
type Manager struct {
	Configs []Config

	outputs []*Output
	nextID  ID
}

func NewManager(configs []Config) *Manager {
	return &Manager{
		Configs: configs,
		nextID:  1,
	}
}

// Add creates an output for a newly connected display, selects its
// mode, and allocates its render target.
func (m *Manager) Add(info ConnectorInfo) (*Output, error) {
	if m.ByName(info.Name) != nil {
		return nil, fmt.Errorf("add %v: %w", info.Name, ErrDuplicate)
	}

	mode, ok := SelectMode(info.Modes)
	if !ok {
		return nil, fmt.Errorf("add %v: %w", info.Name, ErrNoModes)
	}

	out := Output{
		ID:           m.nextID,
		Name:         info.Name,
		Make:         info.Make,
		Model:        info.Model,
		PhysicalSize: info.PhysicalSize,
		Modes:        info.Modes,
		Mode:         mode,
		Primary:      len(m.outputs) == 0,
	}
	m.nextID++

	if config, ok := m.config(info.Name); ok {
		m.configure(&out, config)
	}

	out.allocTarget()
	m.outputs = append(m.outputs, &out)
	m.arrange()

	return &out, nil
}

func (m *Manager) config(name string) (Config, bool) {
	i := slices.IndexFunc(m.Configs, func(c Config) bool { return c.Name == name })
	if i < 0 {
		return Config{}, false
	}
	return m.Configs[i], true
}

func (m *Manager) configure(out *Output, config Config) {
	out.Transform = config.Transform
	if config.Size.IsZero() {
		return
	}

	for _, mode := range out.Modes {
		if mode.Size == config.Size {
			out.Mode = mode
			return
		}
	}
}

// Remove removes an output. If it was the primary output, the oldest
// remaining output becomes primary.
func (m *Manager) Remove(id ID) (*Output, error) {
	i := slices.IndexFunc(m.outputs, func(out *Output) bool { return out.ID == id })
	if i < 0 {
		return nil, fmt.Errorf("remove %v: %w", id, ErrUnknownOutput)
	}

	out := m.outputs[i]
	m.outputs = slices.Delete(m.outputs, i, i+1)
	if out.Primary && len(m.outputs) > 0 {
		m.outputs[0].Primary = true
	}
	out.Primary = false
	m.arrange()

	return out, nil
}

// SetMode changes the mode of an output, reallocating its render
// target if the size changed.
func (m *Manager) SetMode(id ID, mode Mode) error {
	out := m.Get(id)
	if out == nil {
		return fmt.Errorf("set mode of %v: %w", id, ErrUnknownOutput)
	}

	out.Mode = mode
	if !slices.Contains(out.Modes, mode) {
		out.Modes = []Mode{mode}
	}
	out.allocTarget()
	m.arrange()
	return nil
}

func (m *Manager) arrange() {
	var x int
	for _, out := range m.outputs {
		out.pos = geom.Pt(x, 0)
		x += out.Size().X
	}
}

// Outputs returns the current outputs in the order that they were
// added.
func (m *Manager) Outputs() []*Output {
	return slices.Clone(m.outputs)
}

func (m *Manager) Len() int {
	return len(m.outputs)
}

func (m *Manager) Get(id ID) *Output {
	out, _ := util.FindFunc(m.outputs, func(out *Output) bool { return out.ID == id })
	return out
}

func (m *Manager) ByName(name string) *Output {
	out, _ := util.FindFunc(m.outputs, func(out *Output) bool { return out.Name == name })
	return out
}

// Primary returns the primary output, or nil if there are no
// outputs.
func (m *Manager) Primary() *Output {
	out, _ := util.FindFunc(m.outputs, func(out *Output) bool { return out.Primary })
	return out
}

// At returns the output containing the layout point p.
func (m *Manager) At(p geom.Point[int]) *Output {
	for _, out := range m.outputs {
		if p.In(out.Bounds()) {
			return out
		}
	}
	return nil
}

// Bounds returns the smallest rectangle containing every output.
func (m *Manager) Bounds() geom.Rect[int] {
	var r geom.Rect[int]
	for _, out := range m.outputs {
		r = r.Union(out.Bounds())
	}
	return r
}
