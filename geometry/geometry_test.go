package geometry

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitSquare() []Point {
	return []Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
}

func TestCentroid(t *testing.T) {
	assert.Equal(t, PointF{X: 3, Y: 3}, Centroid(Box{X1: 2, Y1: 2, X2: 4, Y2: 4}))
	assert.Equal(t, PointF{X: 2.5, Y: 0.5}, Centroid(Box{X1: 0, Y1: 0, X2: 5, Y2: 1}))
}

func TestPointInPolygon_UnitSquare(t *testing.T) {
	tests := []struct {
		name string
		p    PointF
		want bool
	}{
		{"strictly inside", PointF{0.5, 0.5}, true},
		{"strictly outside", PointF{1.5, 0.5}, false},
		{"outside above", PointF{0.5, -0.1}, false},
		{"on left edge", PointF{0, 0.5}, true},
		{"on bottom edge", PointF{0.5, 1}, true},
		{"on right edge", PointF{1, 0.25}, true},
		{"on vertex", PointF{1, 1}, true},
		{"collinear but past edge", PointF{2, 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PointInPolygon(tt.p, unitSquare())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPointInPolygon_NonConvex(t *testing.T) {
	// U shape opening upwards: the notch between x=4..6 above y=4 is outside.
	u := []Point{{0, 0}, {10, 0}, {10, 10}, {6, 10}, {6, 4}, {4, 4}, {4, 10}, {0, 10}}
	// Y grows downward, so the notch is the band y in (4,10], x in (4,6).

	in, err := PointInPolygon(PointF{2, 8}, u)
	require.NoError(t, err)
	assert.True(t, in)

	in, err = PointInPolygon(PointF{5, 8}, u)
	require.NoError(t, err)
	assert.False(t, in, "point inside the notch must be outside the polygon")

	in, err = PointInPolygon(PointF{5, 4}, u)
	require.NoError(t, err)
	assert.True(t, in, "notch floor is on the boundary")
}

func TestPointInPolygon_TooFewPoints(t *testing.T) {
	_, err := PointInPolygon(PointF{0, 0}, []Point{{0, 0}, {1, 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGeometry))

	var geomErr *InvalidGeometryError
	require.ErrorAs(t, err, &geomErr)
	assert.Contains(t, geomErr.Reason, "at least 3")
}

func TestBoundingRect(t *testing.T) {
	r, err := BoundingRect([]Point{{5, 7}, {1, 9}, {3, 2}, {8, 4}})
	require.NoError(t, err)
	assert.Equal(t, Rect{Left: 1, Top: 2, Right: 8, Bottom: 9}, r)

	_, err = BoundingRect(nil)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestRectanglesIntersect(t *testing.T) {
	base := Rect{Left: 0, Top: 0, Right: 10, Bottom: 10}

	assert.True(t, RectanglesIntersect(base, Rect{5, 5, 15, 15}))
	assert.True(t, RectanglesIntersect(base, Rect{2, 2, 4, 4}), "contained rectangle overlaps")
	assert.False(t, RectanglesIntersect(base, Rect{20, 0, 30, 10}))
	assert.False(t, RectanglesIntersect(base, Rect{10, 0, 20, 10}), "shared edge is not an overlap")
	assert.False(t, RectanglesIntersect(base, Rect{0, 10, 10, 20}))
}

func TestRectanglePolygon_NormalizesCorners(t *testing.T) {
	got := RectanglePolygon(10, 20, 0, 5)
	assert.Equal(t, []Point{{0, 5}, {10, 5}, {10, 20}, {0, 20}}, got)
}

func TestPointJSON(t *testing.T) {
	data, err := json.Marshal([]Point{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.JSONEq(t, `[[1,2],[3,4]]`, string(data))

	var p Point
	require.NoError(t, json.Unmarshal([]byte(`[7, 9]`), &p))
	assert.Equal(t, Point{7, 9}, p)

	assert.Error(t, json.Unmarshal([]byte(`[1.5, 2]`), &p))
	assert.Error(t, json.Unmarshal([]byte(`[1, 2, 3]`), &p))
	assert.Error(t, json.Unmarshal([]byte(`["1", 2]`), &p))
	assert.Error(t, json.Unmarshal([]byte(`[1e300, 0]`), &p))
	assert.Error(t, json.Unmarshal([]byte(`[0, -3000000000]`), &p))
}

func TestIntCoordinate(t *testing.T) {
	v, ok := IntCoordinate(2147483647)
	assert.True(t, ok)
	assert.Equal(t, MaxCoordinate, v)

	_, ok = IntCoordinate(2147483648)
	assert.False(t, ok)
	_, ok = IntCoordinate(-2147483649)
	assert.False(t, ok)
	_, ok = IntCoordinate(math.NaN())
	assert.False(t, ok)
	_, ok = IntCoordinate(math.Inf(1))
	assert.False(t, ok)
}
