package scene

import (
	"deedles.dev/booth/geom"
	"deedles.dev/booth/output"
)

// StackingOrder returns the mapped surfaces of an output from back to
// front: background and bottom layers, the visible application, then
// top and overlay layers. Within a layer, surfaces are in the order
// that they were added. Subsurfaces directly follow their parent.
// Cursors are not included.
func (sc *Scene) StackingOrder(out output.ID) []SurfaceID {
	state := sc.outputs[out]
	if state == nil {
		return nil
	}

	var order []SurfaceID
	for _, layer := range []Layer{LayerBackground, LayerBottom} {
		for _, id := range state.layers[layer] {
			order = sc.appendTree(order, sc.Get(id))
		}
	}
	order = sc.appendTree(order, sc.visibleApp(state))
	for _, layer := range []Layer{LayerTop, LayerOverlay} {
		for _, id := range state.layers[layer] {
			order = sc.appendTree(order, sc.Get(id))
		}
	}
	return order
}

func (sc *Scene) appendTree(order []SurfaceID, s *Surface) []SurfaceID {
	if s == nil || !s.mapped {
		return order
	}
	order = append(order, s.id)
	for _, child := range s.children {
		order = sc.appendTree(order, sc.Get(child))
	}
	return order
}

// SurfaceAt finds the topmost surface on an output whose input region
// contains the output-local point p. It returns the point relative to
// the surface.
func (sc *Scene) SurfaceAt(out output.ID, p geom.Point[float64]) (SurfaceID, geom.Point[float64], bool) {
	order := sc.StackingOrder(out)
	pt := geom.Floor(p)
	for i := len(order) - 1; i >= 0; i-- {
		s := sc.Get(order[i])
		if !pt.In(s.Bounds()) {
			continue
		}
		if !s.AcceptsInput(pt.Sub(s.pos)) {
			continue
		}
		return s.id, p.Sub(geom.PConv[float64](s.pos)), true
	}
	return SurfaceID{}, geom.Point[float64]{}, false
}

// Surfaces returns every mapped surface with the given role on an
// output, from back to front.
func (sc *Scene) Surfaces(out output.ID, role Role) []*Surface {
	var surfaces []*Surface
	for _, id := range sc.StackingOrder(out) {
		s := sc.Get(id)
		if s.role == role {
			surfaces = append(surfaces, s)
		}
	}
	return surfaces
}

// OwnedBy returns every live surface belonging to owner.
func (sc *Scene) OwnedBy(owner any) []SurfaceID {
	var ids []SurfaceID
	for _, slot := range sc.slots {
		if slot.surface != nil && slot.surface.Owner == owner {
			ids = append(ids, slot.surface.id)
		}
	}
	return ids
}
