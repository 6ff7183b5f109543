// Package overlay renders region outlines and occupancy masks on frames for
// previews. Nothing in here feeds back into classification.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"gocv.io/x/gocv"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Tutortoise/parking-occupancy-service/models"
	"github.com/Tutortoise/parking-occupancy-service/occupancy"
	"github.com/Tutortoise/parking-occupancy-service/regions"
)

const (
	// MaskAlpha is the weight of the filled copy over the frame.
	MaskAlpha = 0.3

	OutlineThickness = 2
	VehicleThickness = 1
)

var (
	Text     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	TextBack = color.RGBA{R: 0, G: 0, B: 0, A: 160}
)

// Style holds the overlay colours. Colours are plain RGB; gocv swaps them
// into the frame's BGR order.
type Style struct {
	Free     color.RGBA
	Occupied color.RGBA
	Vehicle  color.RGBA
	Alpha    float64
}

func DefaultStyle() Style {
	return Style{
		Free:     color.RGBA{R: 0, G: 255, B: 0, A: 255},
		Occupied: color.RGBA{R: 255, G: 0, B: 0, A: 255},
		Vehicle:  color.RGBA{R: 0, G: 255, B: 0, A: 255},
		Alpha:    MaskAlpha,
	}
}

// DrawOutlines returns a copy of img with every region outlined.
func DrawOutlines(img image.Image, set []regions.Region, col color.RGBA, thickness int) (*image.RGBA, error) {
	frame, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer frame.Close()

	if len(set) > 0 {
		pv := gocv.NewPointsVectorFromPoints(polygons(set))
		defer pv.Close()
		gocv.Polylines(&frame, pv, true, col, thickness)
	}
	return toRGBA(frame)
}

// DrawOccupancy returns a copy of img with vehicle boxes outlined, every
// region blended green (free) or red (occupied) and the status line written
// in the top-left corner.
func DrawOccupancy(img image.Image, set []regions.Region, res occupancy.Result, vehicles []models.Detection, style Style) (*image.RGBA, error) {
	frame, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer frame.Close()

	for _, v := range vehicles {
		// Rectangle excludes the bottom-right corner; the box is inclusive.
		box := image.Rect(v.Box.X1, v.Box.Y1, v.Box.X2+1, v.Box.Y2+1)
		gocv.Rectangle(&frame, box, style.Vehicle, VehicleThickness)
	}

	for idx, r := range set {
		fill := style.Free
		if res.IsOccupied(idx) {
			fill = style.Occupied
		}

		mask := frame.Clone()
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{polygon(r)})
		gocv.FillPoly(&mask, pv, fill)
		gocv.AddWeighted(mask, style.Alpha, frame, 1-style.Alpha, 0, &frame)
		pv.Close()
		mask.Close()
	}

	out, err := toRGBA(frame)
	if err != nil {
		return nil, err
	}
	DrawStatus(out, res.Summary())
	return out, nil
}

// DrawStatus writes text on a translucent band at the top-left of dst.
func DrawStatus(dst *image.RGBA, text string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	band := image.Rect(4, 4, 4+width+8, 4+face.Height+6).Intersect(dst.Bounds())
	draw.Draw(dst, band, image.NewUniform(TextBack), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(Text),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(8), Y: fixed.I(4 + face.Ascent + 3)},
	}
	d.DrawString(text)
}

func polygon(r regions.Region) []image.Point {
	pts := make([]image.Point, len(r.Points))
	for i, p := range r.Points {
		pts[i] = image.Pt(p.X, p.Y)
	}
	return pts
}

func polygons(set []regions.Region) [][]image.Point {
	out := make([][]image.Point, len(set))
	for i, r := range set {
		out[i] = polygon(r)
	}
	return out
}

func toRGBA(mat gocv.Mat) (*image.RGBA, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert mat: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}
