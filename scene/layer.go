package scene

import (
	"deedles.dev/booth/geom"
	"deedles.dev/booth/output"
)

// Layer is the stacking layer of a layer surface. The values match
// the layer enum of the layer shell protocol.
type Layer int

const (
	LayerBackground Layer = iota
	LayerBottom
	LayerTop
	LayerOverlay

	numLayers
)

func (l Layer) Valid() bool {
	return l >= LayerBackground && l < numLayers
}

func (l Layer) String() string {
	switch l {
	case LayerBackground:
		return "background"
	case LayerBottom:
		return "bottom"
	case LayerTop:
		return "top"
	case LayerOverlay:
		return "overlay"
	default:
		return "invalid"
	}
}

// Interactivity is how a layer surface wants to receive keyboard
// focus.
type Interactivity int

const (
	InteractivityNone Interactivity = iota
	InteractivityExclusive
	InteractivityOnDemand
)

// Margins are the distances kept from anchored edges.
type Margins struct {
	Top, Right, Bottom, Left int
}

// LayerState is the double-buffered state of a layer surface.
type LayerState struct {
	Layer         Layer
	Anchor        geom.Edges
	ExclusiveZone int32
	Margin        Margins
	Size          geom.Point[int]
	Interactivity Interactivity
	Namespace     string

	// Output is the output that the client asked for. Zero means the
	// primary output.
	Output output.ID
}

// SetLayerRole makes s a layer surface with an initial state. The
// surface is placed on the requested output, or on the primary one.
func (sc *Scene) SetLayerRole(id SurfaceID, shell Shell, state LayerState) error {
	s, err := sc.setRole(id, RoleLayer, shell)
	if err != nil {
		return err
	}
	s.layer = state

	out := state.Output
	if _, ok := sc.outputs[out]; !ok {
		out = sc.primary()
	}
	if out != 0 {
		sc.assign(s, out)
	}
	return sc.flushBuffered(s)
}

// UsableArea returns the output-local area of an output that is not
// reserved by the exclusive zones of layer surfaces.
func (sc *Scene) UsableArea(out output.ID) geom.Rect[int] {
	state := sc.outputs[out]
	if state == nil {
		return geom.Rect[int]{}
	}
	return state.usable
}

// Arrange recomputes the placement of every layer surface on an
// output along with the area left over for applications, configuring
// any surface whose size changed.
func (sc *Scene) Arrange(out output.ID) error {
	state := sc.outputs[out]
	if state == nil {
		return ErrUnknownOutput
	}
	sc.arrange(state)
	return nil
}

func (sc *Scene) arrange(state *outputState) {
	full := state.out.LocalBounds()
	usable := full

	// Exclusive zones are claimed first, from the top layer down, so
	// that surfaces which do not reserve space avoid all of them.
	// Within a layer, earlier surfaces claim the space nearer to the
	// edge.
	for exclusive := range 2 {
		for layer := LayerOverlay; layer >= LayerBackground; layer-- {
			for _, id := range state.layers[layer] {
				s := sc.Get(id)
				if s == nil || !s.committed || (s.layer.ExclusiveZone > 0) != (exclusive == 0) {
					continue
				}
				sc.arrangeLayer(s, full, &usable)
			}
		}
	}

	if usable != state.usable {
		state.usable = usable
		state.damageAll()
		for _, id := range state.apps {
			if s := sc.Get(id); s != nil {
				sc.placeApp(state, s)
			}
		}
	}
}

func (sc *Scene) arrangeLayer(s *Surface, full geom.Rect[int], usable *geom.Rect[int]) {
	ls := s.layer

	bounds := *usable
	if ls.ExclusiveZone < 0 {
		bounds = full
	}

	var top, bottom, left, right int
	if ls.Anchor&geom.EdgeTop != 0 {
		top = ls.Margin.Top
	}
	if ls.Anchor&geom.EdgeBottom != 0 {
		bottom = ls.Margin.Bottom
	}
	if ls.Anchor&geom.EdgeLeft != 0 {
		left = ls.Margin.Left
	}
	if ls.Anchor&geom.EdgeRight != 0 {
		right = ls.Margin.Right
	}
	area := bounds.Pad(top, bottom, left, right)

	// Opposite anchors stretch only along an axis whose size was left
	// for the compositor to decide. Otherwise the surface is centered.
	anchor := ls.Anchor
	if ls.Size.X != 0 && anchor.Horizontal() {
		anchor &^= geom.EdgeLeft | geom.EdgeRight
	}
	if ls.Size.Y != 0 && anchor.Vertical() {
		anchor &^= geom.EdgeTop | geom.EdgeBottom
	}
	r := geom.Align(area, geom.Sized(geom.Point[int]{}, ls.Size), anchor)

	old := s.Bounds()
	s.pos = r.Min
	if s.mapped && old != s.Bounds() {
		if state := sc.outputs[s.output]; state != nil {
			state.damage.Add(old)
			state.damage.Add(s.Bounds())
		}
	}

	if !s.configured || s.confSize != r.Size() {
		s.configured = true
		s.confSize = r.Size()
		if s.shell != nil {
			s.shell.Configure(r.Size())
		}
	}

	if !s.mapped || ls.ExclusiveZone <= 0 {
		return
	}
	zone := int(ls.ExclusiveZone)
	switch ls.Anchor.Exclusive() {
	case geom.EdgeTop:
		usable.Min.Y = min(usable.Max.Y, usable.Min.Y+zone+ls.Margin.Top)
	case geom.EdgeBottom:
		usable.Max.Y = max(usable.Min.Y, usable.Max.Y-zone-ls.Margin.Bottom)
	case geom.EdgeLeft:
		usable.Min.X = min(usable.Max.X, usable.Min.X+zone+ls.Margin.Left)
	case geom.EdgeRight:
		usable.Max.X = max(usable.Min.X, usable.Max.X-zone-ls.Margin.Right)
	}
}
