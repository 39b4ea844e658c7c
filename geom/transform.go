package geom

// Transform is an output or buffer transform. The values match the
// transform enum of the core protocol.
type Transform int32

const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

// Valid reports whether t is one of the known transforms.
func (t Transform) Valid() bool {
	return t >= TransformNormal && t <= TransformFlipped270
}

// Rotated reports whether t swaps the width and height of whatever
// it is applied to.
func (t Transform) Rotated() bool {
	return t&1 != 0
}

// Size returns the size of a w by h rectangle after applying t.
func (t Transform) Size(size Point[int]) Point[int] {
	if t.Rotated() {
		return Pt(size.Y, size.X)
	}
	return size
}

// Apply maps the point p of a rectangle with the given untransformed
// size to its location after applying t. Rotations are clockwise.
func (t Transform) Apply(p, size Point[int]) Point[int] {
	w, h := size.X, size.Y
	if t >= TransformFlipped {
		p.X = w - 1 - p.X
	}
	switch t &^ TransformFlipped {
	case Transform90:
		return Pt(h-1-p.Y, p.X)
	case Transform180:
		return Pt(w-1-p.X, h-1-p.Y)
	case Transform270:
		return Pt(p.Y, w-1-p.X)
	default:
		return p
	}
}
