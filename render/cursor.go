package render

import (
	"fmt"
	"image"
	"image/color"

	"deedles.dev/booth/geom"
	"github.com/gogpu/gg"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// arrow is the outline of the default pointer in a 16x24 box, with
// its tip at the origin.
var arrow = []geom.Point[float64]{
	{X: 1, Y: 1},
	{X: 1, Y: 19},
	{X: 5.5, Y: 15},
	{X: 8.5, Y: 22},
	{X: 11.5, Y: 20.5},
	{X: 8.5, Y: 14},
	{X: 14, Y: 14},
}

// defaultCursor draws the pointer shown over surfaces that did not
// set one of their own. If the arrow cannot be drawn, a plain square
// is used instead.
func defaultCursor(size geom.Point[int]) *image.RGBA {
	img, err := drawArrow(size)
	if err != nil {
		logrus.WithError(err).Warnln("draw default cursor")
		return squareCursor(size)
	}
	return img
}

func drawArrow(size geom.Point[int]) (*image.RGBA, error) {
	dc := gg.NewContext(size.X, size.Y)
	defer dc.Close()

	sx, sy := float64(size.X)/16, float64(size.Y)/24
	dc.MoveTo(arrow[0].X*sx, arrow[0].Y*sy)
	for _, p := range arrow[1:] {
		dc.LineTo(p.X*sx, p.Y*sy)
	}
	dc.ClosePath()

	dc.SetRGB(1, 1, 1)
	err := dc.FillPreserve()
	if err != nil {
		return nil, fmt.Errorf("fill: %w", err)
	}
	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(1.25)
	err = dc.Stroke()
	if err != nil {
		return nil, fmt.Errorf("stroke: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(img, img.Rect, dc.Image(), image.Point{}, draw.Src)
	return img, nil
}

// squareCursor is a white square with a black border in the top-left
// quarter of the cursor box.
func squareCursor(size geom.Point[int]) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	side := min(size.X, size.Y) / 2
	box := image.Rect(0, 0, side, side)
	draw.Draw(img, box, image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(img, box.Inset(1), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}
