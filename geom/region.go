package geom

import "golang.org/x/exp/slices"

// Region is a set of points represented as a list of non-overlapping
// rectangles. The zero Region is empty.
type Region struct {
	rects []Rect[int]
}

// RegionOf returns a region containing the union of rects.
func RegionOf(rects ...Rect[int]) Region {
	var r Region
	for _, rect := range rects {
		r.Add(rect)
	}
	return r
}

// Rects returns the rectangles that make up the region. The returned
// slice must not be modified.
func (r *Region) Rects() []Rect[int] {
	return r.rects
}

func (r *Region) Empty() bool {
	return len(r.rects) == 0
}

// Clear empties the region while keeping its storage.
func (r *Region) Clear() {
	r.rects = r.rects[:0]
}

// Clone returns a deep copy of r.
func (r *Region) Clone() Region {
	return Region{rects: slices.Clone(r.rects)}
}

// Add adds the points in rect to the region.
func (r *Region) Add(rect Rect[int]) {
	rect = rect.Canon()
	if rect.Empty() {
		return
	}

	pieces := []Rect[int]{rect}
	for _, existing := range r.rects {
		if len(pieces) == 0 {
			return
		}
		var next []Rect[int]
		for _, p := range pieces {
			next = appendSubtract(next, p, existing)
		}
		pieces = next
	}
	r.rects = append(r.rects, pieces...)
}

// Union adds every point of o to r.
func (r *Region) Union(o Region) {
	for _, rect := range o.rects {
		r.Add(rect)
	}
}

// Subtract removes the points in rect from the region.
func (r *Region) Subtract(rect Rect[int]) {
	rect = rect.Canon()
	if rect.Empty() || len(r.rects) == 0 {
		return
	}

	rects := make([]Rect[int], 0, len(r.rects))
	for _, existing := range r.rects {
		rects = appendSubtract(rects, existing, rect)
	}
	r.rects = rects
}

// Intersect clips the region to rect.
func (r *Region) Intersect(rect Rect[int]) {
	rects := r.rects[:0]
	for _, existing := range r.rects {
		i := existing.Intersect(rect)
		if !i.Empty() {
			rects = append(rects, i)
		}
	}
	r.rects = rects
}

// Translate moves every point of the region by p.
func (r *Region) Translate(p Point[int]) {
	for i := range r.rects {
		r.rects[i] = r.rects[i].Add(p)
	}
}

// Contains reports whether p is in the region.
func (r *Region) Contains(p Point[int]) bool {
	return slices.ContainsFunc(r.rects, func(rect Rect[int]) bool {
		return p.In(rect)
	})
}

// Bounds returns the smallest rectangle containing the whole region.
func (r *Region) Bounds() Rect[int] {
	var b Rect[int]
	for _, rect := range r.rects {
		b = b.Union(rect)
	}
	return b
}

// Area returns the number of points in the region.
func (r *Region) Area() int {
	var a int
	for _, rect := range r.rects {
		a += rect.Dx() * rect.Dy()
	}
	return a
}

// appendSubtract appends the parts of a not covered by b to dst. At
// most four rectangles are appended.
func appendSubtract(dst []Rect[int], a, b Rect[int]) []Rect[int] {
	if !a.Overlaps(b) {
		return append(dst, a)
	}

	if a.Min.Y < b.Min.Y {
		dst = append(dst, Rt(a.Min.X, a.Min.Y, a.Max.X, b.Min.Y))
		a.Min.Y = b.Min.Y
	}
	if a.Max.Y > b.Max.Y {
		dst = append(dst, Rt(a.Min.X, b.Max.Y, a.Max.X, a.Max.Y))
		a.Max.Y = b.Max.Y
	}
	if a.Min.X < b.Min.X {
		dst = append(dst, Rt(a.Min.X, a.Min.Y, b.Min.X, a.Max.Y))
	}
	if a.Max.X > b.Max.X {
		dst = append(dst, Rt(b.Max.X, a.Min.Y, a.Max.X, a.Max.Y))
	}
	return dst
}
