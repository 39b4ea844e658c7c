package geom_test

import (
	"testing"

	"deedles.dev/booth/geom"
	"github.com/stretchr/testify/assert"
)

func TestAlign(t *testing.T) {
	outer := geom.Rt(0, 0, 100, 50)
	inner := geom.Rt(0, 0, 20, 10)

	tests := []struct {
		name  string
		edges geom.Edges
		out   geom.Rect[int]
	}{
		{"None", geom.EdgeNone, geom.Rt(40, 20, 60, 30)},
		{"Top", geom.EdgeTop, geom.Rt(40, 0, 60, 10)},
		{"BottomRight", geom.EdgeBottom | geom.EdgeRight, geom.Rt(80, 40, 100, 50)},
		{"TopStretch", geom.EdgeTop | geom.EdgeLeft | geom.EdgeRight, geom.Rt(0, 0, 100, 10)},
		{"All", geom.EdgeAll, outer},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.out, geom.Align(outer, inner, test.edges))
		})
	}
}

func TestEdgesExclusive(t *testing.T) {
	assert.Equal(t, geom.EdgeBottom, (geom.EdgeBottom | geom.EdgeLeft | geom.EdgeRight).Exclusive())
	assert.Equal(t, geom.EdgeLeft, geom.EdgeLeft.Exclusive())
	assert.Equal(t, geom.EdgeNone, (geom.EdgeTop | geom.EdgeLeft).Exclusive())
	assert.Equal(t, geom.EdgeNone, geom.EdgeAll.Exclusive())
}

func TestTransform(t *testing.T) {
	size := geom.Pt(4, 2)
	assert.Equal(t, geom.Pt(2, 4), geom.Transform90.Size(size))
	assert.Equal(t, geom.Pt(1, 0), geom.Transform90.Apply(geom.Pt(0, 0), size))
	assert.Equal(t, geom.Pt(3, 1), geom.Transform180.Apply(geom.Pt(0, 0), size))
	assert.Equal(t, geom.Pt(3, 0), geom.TransformFlipped.Apply(geom.Pt(0, 0), size))
	assert.False(t, geom.Transform(9).Valid())
}
