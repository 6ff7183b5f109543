package detections

import (
	"math"
	"sort"

	"github.com/Tutortoise/parking-occupancy-service/geometry"
	"github.com/Tutortoise/parking-occupancy-service/models"
)

func calculateIOU(box1, box2 geometry.Box) float64 {
	x1 := math.Max(float64(box1.X1), float64(box2.X1))
	y1 := math.Max(float64(box1.Y1), float64(box2.Y1))
	x2 := math.Min(float64(box1.X2), float64(box2.X2))
	y2 := math.Min(float64(box1.Y2), float64(box2.Y2))

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := float64((box1.X2 - box1.X1) * (box1.Y2 - box1.Y1))
	area2 := float64((box2.X2 - box2.X1) * (box2.Y2 - box2.Y1))
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

// nonMaxSuppression keeps, per class, the highest-confidence box of every
// group whose IoU exceeds threshold. The result is ordered by confidence.
func nonMaxSuppression(dets []models.RawDetection, threshold float64) []models.RawDetection {
	if len(dets) == 0 {
		return nil
	}

	sorted := make([]models.RawDetection, len(dets))
	copy(sorted, dets)
	sortDetectionsByConfidence(sorted)

	kept := make([]models.RawDetection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassIndex != sorted[i].ClassIndex {
				continue
			}
			if calculateIOU(sorted[i].Box, sorted[j].Box) > threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func sortDetectionsByConfidence(dets []models.RawDetection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
}
