// Package regions keeps the set of user-defined parking regions and converts
// it to and from the persisted bounding_boxes.json form.
package regions

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Tutortoise/parking-occupancy-service/geometry"
)

// PointsPerRegion is the number of corners every region carries.
const PointsPerRegion = 4

// ErrIntersection is matched by every IntersectionError.
var ErrIntersection = errors.New("region intersects an existing region")

// IntersectionError is returned when a proposed region's bounding rectangle
// overlaps the bounding rectangle of an existing region.
type IntersectionError struct {
	ExistingID int
}

func (e *IntersectionError) Error() string {
	return fmt.Sprintf("region intersects existing region %d", e.ExistingID)
}

func (e *IntersectionError) Is(target error) bool {
	return target == ErrIntersection
}

// Region is one parking space. Points are ordered top-left, top-right,
// bottom-right, bottom-left for regions drawn as rectangles.
type Region struct {
	ID     int                             `json:"id"`
	Points [PointsPerRegion]geometry.Point `json:"points"`
}

// Polygon returns the region's corners as a slice.
func (r Region) Polygon() []geometry.Point {
	return r.Points[:]
}

// Bounds returns the minimal bounding rectangle of the region.
func (r Region) Bounds() geometry.Rect {
	// Four points never yield an empty-polygon error.
	b, _ := geometry.BoundingRect(r.Points[:])
	return b
}

// Store is the insertion-ordered region set of one engine session.
// Mutations are serialized; readers get copies.
type Store struct {
	mu      sync.RWMutex
	regions []Region
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Propose validates points and appends them as a new region with the next
// sequential id. On any error the store is left untouched.
func (s *Store) Propose(points []geometry.Point) (Region, error) {
	if len(points) != PointsPerRegion {
		return Region{}, &geometry.InvalidGeometryError{
			Reason: fmt.Sprintf("region needs exactly %d points, got %d", PointsPerRegion, len(points)),
		}
	}

	proposed, err := geometry.BoundingRect(points)
	if err != nil {
		return Region{}, err
	}
	if proposed.Empty() {
		return Region{}, &geometry.InvalidGeometryError{Reason: "region has zero area"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.regions {
		if geometry.RectanglesIntersect(proposed, existing.Bounds()) {
			return Region{}, &IntersectionError{ExistingID: existing.ID}
		}
	}

	region := Region{ID: len(s.regions)}
	copy(region.Points[:], points)
	s.regions = append(s.regions, region)
	return region, nil
}

// Clear removes every region.
func (s *Store) Clear() {
	s.mu.Lock()
	s.regions = nil
	s.mu.Unlock()
}

// List returns a snapshot of the regions in insertion order.
func (s *Store) List() []Region {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Region, len(s.regions))
	copy(out, s.regions)
	return out
}

// Len returns the number of regions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions)
}

// Replace swaps the whole set, re-assigning ids by position.
func (s *Store) Replace(regions []Region) {
	next := make([]Region, len(regions))
	for i, r := range regions {
		r.ID = i
		next[i] = r
	}

	s.mu.Lock()
	s.regions = next
	s.mu.Unlock()
}
