package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/parking-occupancy-service/geometry"
	"github.com/Tutortoise/parking-occupancy-service/models"
	"github.com/Tutortoise/parking-occupancy-service/occupancy"
	"github.com/Tutortoise/parking-occupancy-service/regions"
)

var black = color.RGBA{A: 255}

func blackFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)
	return img
}

func twoRegions(t *testing.T) []regions.Region {
	t.Helper()
	s := regions.NewStore()
	_, err := s.Propose(geometry.RectanglePolygon(50, 50, 100, 100))
	require.NoError(t, err)
	_, err = s.Propose(geometry.RectanglePolygon(120, 50, 170, 100))
	require.NoError(t, err)
	return s.List()
}

func TestDrawOutlines(t *testing.T) {
	src := blackFrame(200, 200)
	set := twoRegions(t)
	green := DefaultStyle().Free

	out, err := DrawOutlines(src, set, green, OutlineThickness)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 200, 200), out.Bounds())
	assert.Equal(t, green, out.RGBAAt(75, 50), "top edge")
	assert.Equal(t, green, out.RGBAAt(100, 75), "right edge")
	assert.Equal(t, green, out.RGBAAt(145, 100), "second region bottom edge")
	assert.Equal(t, black, out.RGBAAt(75, 75), "interior untouched")
	assert.Equal(t, black, src.RGBAAt(75, 50), "source not modified")
}

func TestDrawOutlines_NoRegions(t *testing.T) {
	out, err := DrawOutlines(blackFrame(20, 20), nil, DefaultStyle().Free, OutlineThickness)
	require.NoError(t, err)
	assert.Equal(t, black, out.RGBAAt(10, 10))
}

func TestDrawOccupancy_BlendsFreeAndOccupied(t *testing.T) {
	src := blackFrame(200, 200)
	set := twoRegions(t)
	vehicles := []models.Detection{{Box: geometry.Box{X1: 130, Y1: 60, X2: 160, Y2: 90}, Label: "car"}}
	res := occupancy.Classify(set, vehicles)
	require.Equal(t, []int{1}, res.Occupied)

	out, err := DrawOccupancy(src, set, res, vehicles, DefaultStyle())
	require.NoError(t, err)

	free := out.RGBAAt(75, 75)
	assert.InDelta(t, 77, int(free.G), 1)
	assert.Zero(t, free.R)
	assert.Zero(t, free.B)

	occ := out.RGBAAt(125, 75)
	assert.InDelta(t, 77, int(occ.R), 1)
	assert.Zero(t, occ.G)

	// The vehicle outline sits inside an occupied region, so it is blended too.
	edge := out.RGBAAt(145, 60)
	assert.Greater(t, edge.G, uint8(150))
	assert.Greater(t, edge.R, uint8(50))
	assert.Equal(t, edge, out.RGBAAt(145, 90), "bottom edge drawn on the inclusive corner")

	assert.Equal(t, black, out.RGBAAt(190, 190), "outside regions untouched")
}

func TestDrawOccupancy_CustomStyle(t *testing.T) {
	set := twoRegions(t)
	style := DefaultStyle()
	style.Free = color.RGBA{B: 255, A: 255}
	style.Alpha = 1

	out, err := DrawOccupancy(blackFrame(200, 200), set, occupancy.Classify(set, nil), nil, style)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{B: 255, A: 255}, out.RGBAAt(75, 75))
	assert.Equal(t, color.RGBA{B: 255, A: 255}, out.RGBAAt(145, 75))
}

func TestDrawStatus_WritesText(t *testing.T) {
	img := blackFrame(200, 40)
	DrawStatus(img, "Free/Total: 1/2")

	lit := 0
	for y := 0; y < 40; y++ {
		for x := 0; x < 200; x++ {
			if img.RGBAAt(x, y).R > 200 {
				lit++
			}
		}
	}
	assert.Greater(t, lit, 20)
}
