package render

import (
	"image/color"
	"testing"

	"deedles.dev/booth/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrawArrow(t *testing.T) {
	img, err := drawArrow(geom.Pt(16, 24))
	require.NoError(t, err)
	assert.Equal(t, uint8(0xFF), img.RGBAAt(3, 8).A)
	assert.Zero(t, img.RGBAAt(15, 2).A)
}

func TestSquareCursor(t *testing.T) {
	img := squareCursor(geom.Pt(16, 24))
	assert.Equal(t, color.RGBA{A: 0xFF}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}, img.RGBAAt(3, 3))
	assert.Zero(t, img.RGBAAt(10, 10).A)
}
