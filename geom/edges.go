package geom

// Edges is a set of rectangle edges. The bit values match the anchor
// enum of the layer shell protocol so that they can be used directly.
type Edges uint32

const (
	EdgeTop Edges = 1 << iota
	EdgeBottom
	EdgeLeft
	EdgeRight

	EdgeNone Edges = 0
	EdgeAll        = EdgeTop | EdgeBottom | EdgeLeft | EdgeRight
)

// Has reports whether all of the edges in e2 are set in e.
func (e Edges) Has(e2 Edges) bool {
	return e&e2 == e2
}

// Horizontal reports whether both the left and right edges are set.
func (e Edges) Horizontal() bool {
	return e.Has(EdgeLeft | EdgeRight)
}

// Vertical reports whether both the top and bottom edges are set.
func (e Edges) Vertical() bool {
	return e.Has(EdgeTop | EdgeBottom)
}

// Exclusive returns the single edge that an anchored rectangle
// reserves space along, or EdgeNone if the anchors are ambiguous. A
// rectangle anchored to one edge, or to one edge and both of the
// perpendicular ones, reserves along that edge.
func (e Edges) Exclusive() Edges {
	switch e {
	case EdgeTop, EdgeTop | EdgeLeft | EdgeRight:
		return EdgeTop
	case EdgeBottom, EdgeBottom | EdgeLeft | EdgeRight:
		return EdgeBottom
	case EdgeLeft, EdgeLeft | EdgeTop | EdgeBottom:
		return EdgeLeft
	case EdgeRight, EdgeRight | EdgeTop | EdgeBottom:
		return EdgeRight
	default:
		return EdgeNone
	}
}

// Align shifts the specified edges of inner to align with the
// corresponding edges of outer, stretching the rectangle as
// necessary if opposite edges are specified. Unspecified axes are
// centered.
func Align[T Scalar](outer, inner Rect[T], edges Edges) Rect[T] {
	inner = inner.CenterAt(outer.Center())
	switch {
	case edges&EdgeTop != 0:
		inner.Min.Y, inner.Max.Y = outer.Min.Y, outer.Min.Y+inner.Dy()
		if edges&EdgeBottom != 0 {
			inner.Max.Y = outer.Max.Y
		}
	case edges&EdgeBottom != 0:
		inner.Min.Y, inner.Max.Y = outer.Max.Y-inner.Dy(), outer.Max.Y
	}
	switch {
	case edges&EdgeLeft != 0:
		inner.Min.X, inner.Max.X = outer.Min.X, outer.Min.X+inner.Dx()
		if edges&EdgeRight != 0 {
			inner.Max.X = outer.Max.X
		}
	case edges&EdgeRight != 0:
		inner.Min.X, inner.Max.X = outer.Max.X-inner.Dx(), outer.Max.X
	}

	return inner
}
