package geom

import (
	"image"
	"math"
)

type Point[T Scalar] struct {
	X, Y T
}

func Pt[T Scalar](X, Y T) Point[T] {
	return Point[T]{X, Y}
}

func FromImagePoint(p image.Point) Point[int] {
	return Pt(p.X, p.Y)
}

func PConv[Out Scalar, In Scalar](p Point[In]) Point[Out] {
	return Pt(Out(p.X), Out(p.Y))
}

// Floor converts p to integer coordinates, rounding towards negative
// infinity so that a point just left of an edge stays outside of it.
func Floor(p Point[float64]) Point[int] {
	return Pt(int(math.Floor(p.X)), int(math.Floor(p.Y)))
}

func (p Point[T]) Add(q Point[T]) Point[T] {
	return Point[T]{p.X + q.X, p.Y + q.Y}
}

func (p Point[T]) Sub(q Point[T]) Point[T] {
	return Point[T]{p.X - q.X, p.Y - q.Y}
}

func (p Point[T]) Mul(k T) Point[T] {
	return Point[T]{p.X * k, p.Y * k}
}

func (p Point[T]) Div(k T) Point[T] {
	return Point[T]{p.X / k, p.Y / k}
}

func (p Point[T]) In(r Rect[T]) bool {
	return r.Min.X <= p.X && p.X < r.Max.X &&
		r.Min.Y <= p.Y && p.Y < r.Max.Y
}

// Clamp returns the point inside of r closest to p. Because the Max
// edges of r are exclusive, a clamped point sits strictly before them.
func (p Point[T]) Clamp(r Rect[T]) Point[T] {
	if r.Empty() {
		return r.Min
	}
	p.X = max(r.Min.X, min(p.X, r.Max.X-1))
	p.Y = max(r.Min.Y, min(p.Y, r.Max.Y-1))
	return p
}

func (p Point[T]) IsZero() bool {
	return (p.X == 0) && (p.Y == 0)
}

func (p Point[T]) ImagePoint() image.Point {
	return image.Pt(int(p.X), int(p.Y))
}
