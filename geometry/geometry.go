// Package geometry holds the pixel-space primitives used to map detections
// onto parking regions: centroids, point-in-polygon and axis-aligned
// rectangle overlap. Everything here is pure and safe for concurrent use.
package geometry

import (
	"errors"
	"fmt"
)

// ErrInvalidGeometry is matched by every InvalidGeometryError.
var ErrInvalidGeometry = errors.New("invalid geometry")

// InvalidGeometryError describes why a polygon or box was rejected.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("invalid geometry: %s", e.Reason)
}

func (e *InvalidGeometryError) Is(target error) bool {
	return target == ErrInvalidGeometry
}

// Point is an integer pixel coordinate. It marshals as a [x, y] pair.
type Point struct {
	X int
	Y int
}

// PointF is a sub-pixel coordinate, used for box centroids.
type PointF struct {
	X float64
	Y float64
}

// Box is a detection bounding box with (X1, Y1) top-left and (X2, Y2) bottom-right.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Right <= r.Left || r.Bottom <= r.Top
}

// Centroid returns the centre of a box.
func Centroid(b Box) PointF {
	return PointF{
		X: float64(b.X1+b.X2) / 2,
		Y: float64(b.Y1+b.Y2) / 2,
	}
}

// BoundingRect returns the minimal axis-aligned rectangle enclosing poly.
func BoundingRect(poly []Point) (Rect, error) {
	if len(poly) == 0 {
		return Rect{}, &InvalidGeometryError{Reason: "empty polygon"}
	}

	r := Rect{Left: poly[0].X, Top: poly[0].Y, Right: poly[0].X, Bottom: poly[0].Y}
	for _, p := range poly[1:] {
		r.Left = min(r.Left, p.X)
		r.Top = min(r.Top, p.Y)
		r.Right = max(r.Right, p.X)
		r.Bottom = max(r.Bottom, p.Y)
	}
	return r, nil
}

// RectanglesIntersect reports whether a and b share interior area.
// Rectangles that only touch along an edge do not intersect.
func RectanglesIntersect(a, b Rect) bool {
	return a.Left < b.Right && a.Right > b.Left && a.Top < b.Bottom && a.Bottom > b.Top
}

// PointInPolygon reports whether p lies inside poly or exactly on its boundary.
// The polygon may be non-convex; it is closed implicitly from the last point
// back to the first.
func PointInPolygon(p PointF, poly []Point) (bool, error) {
	if len(poly) < 3 {
		return false, &InvalidGeometryError{Reason: fmt.Sprintf("polygon needs at least 3 points, got %d", len(poly))}
	}

	inside := false
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a := toF(poly[j])
		b := toF(poly[i])

		if onSegment(p, a, b) {
			return true, nil
		}

		// Half-open rule on y keeps shared vertices from being counted twice.
		if (b.Y > p.Y) != (a.Y > p.Y) {
			xCross := a.X + (p.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
			if p.X < xCross {
				inside = !inside
			}
		}
	}
	return inside, nil
}

// RectanglePolygon builds the 4-point polygon (TL, TR, BR, BL) for the
// rectangle spanned by two opposite corners given in any order.
func RectanglePolygon(x1, y1, x2, y2 int) []Point {
	left, right := min(x1, x2), max(x1, x2)
	top, bottom := min(y1, y2), max(y1, y2)
	return []Point{
		{X: left, Y: top},
		{X: right, Y: top},
		{X: right, Y: bottom},
		{X: left, Y: bottom},
	}
}

func toF(p Point) PointF {
	return PointF{X: float64(p.X), Y: float64(p.Y)}
}

func onSegment(p, a, b PointF) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if cross != 0 {
		return false
	}
	return p.X >= min(a.X, b.X) && p.X <= max(a.X, b.X) &&
		p.Y >= min(a.Y, b.Y) && p.Y <= max(a.Y, b.Y)
}
