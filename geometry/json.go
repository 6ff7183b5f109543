package geometry

import (
	"encoding/json"
	"fmt"
	"math"
)

// Coordinates are limited to the int32 range so centroid and bounding-box
// arithmetic cannot overflow.
const (
	MinCoordinate = math.MinInt32
	MaxCoordinate = math.MaxInt32
)

// IntCoordinate converts v when it is integral and within the coordinate
// range.
func IntCoordinate(v float64) (int, bool) {
	if v != math.Trunc(v) || v < MinCoordinate || v > MaxCoordinate {
		return 0, false
	}
	return int(v), true
}

// MarshalJSON encodes the point as a [x, y] pair.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.X, p.Y})
}

// UnmarshalJSON accepts a [x, y] pair of integral numbers.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("point must be a numeric [x, y] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("point must have 2 coordinates, got %d", len(pair))
	}
	x, ok := IntCoordinate(pair[0])
	if !ok {
		return fmt.Errorf("point coordinate %v is not an integer in range", pair[0])
	}
	y, ok := IntCoordinate(pair[1])
	if !ok {
		return fmt.Errorf("point coordinate %v is not an integer in range", pair[1])
	}
	p.X, p.Y = x, y
	return nil
}
