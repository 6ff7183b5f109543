// Package occupancy classifies parking regions as free or occupied from the
// vehicle detections of a single frame, and owns the engine session that
// ties the region store, detector and persistence together.
package occupancy

import (
	"fmt"
	"sort"

	"github.com/Tutortoise/parking-occupancy-service/geometry"
	"github.com/Tutortoise/parking-occupancy-service/models"
	"github.com/Tutortoise/parking-occupancy-service/regions"
)

// Result is the occupancy of one frame. It carries no state between frames.
type Result struct {
	// Occupied holds the occupied region indices in ascending order.
	Occupied      []int `json:"occupied_regions"`
	Total         int   `json:"total"`
	OccupiedCount int   `json:"occupied"`
	Free          int   `json:"free"`
}

// RegionState is the per-region classification used for overlays.
type RegionState struct {
	ID       int  `json:"id"`
	Occupied bool `json:"occupied"`
}

// Classify marks a region occupied when the centroid of any detection falls
// inside it or on its boundary. Every detection is tested against every
// region; matches are unioned, so a region is counted once no matter how many
// detections land in it.
func Classify(set []regions.Region, dets []models.Detection) Result {
	occupied := make(map[int]struct{})

	for _, d := range dets {
		c := geometry.Centroid(d.Box)
		for idx, r := range set {
			// Regions always carry 4 points, so the polygon is never rejected.
			inside, err := geometry.PointInPolygon(c, r.Polygon())
			if err == nil && inside {
				occupied[idx] = struct{}{}
			}
		}
	}

	indices := make([]int, 0, len(occupied))
	for idx := range occupied {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	return Result{
		Occupied:      indices,
		Total:         len(set),
		OccupiedCount: len(indices),
		Free:          len(set) - len(indices),
	}
}

// IsOccupied reports whether region index idx is occupied.
func (r Result) IsOccupied(idx int) bool {
	i := sort.SearchInts(r.Occupied, idx)
	return i < len(r.Occupied) && r.Occupied[i] == idx
}

// States expands the result into one entry per region of set.
func (r Result) States(set []regions.Region) []RegionState {
	states := make([]RegionState, len(set))
	for i, reg := range set {
		states[i] = RegionState{ID: reg.ID, Occupied: r.IsOccupied(i)}
	}
	return states
}

// Summary renders the free/total status line.
func (r Result) Summary() string {
	return fmt.Sprintf("Free/Total: %d/%d", r.Free, r.Total)
}
