package detections

import (
	"github.com/Tutortoise/parking-occupancy-service/models"
)

// VehicleFilter keeps only detections whose label is on the allow-list.
// Labels are resolved through the detector's class-index table.
type VehicleFilter struct {
	classNames []string
	allowed    map[string]struct{}
}

// NewVehicleFilter builds a filter for the given class table. An empty
// allow-list falls back to DefaultVehicleLabels.
func NewVehicleFilter(classNames []string, labels []string) *VehicleFilter {
	if len(labels) == 0 {
		labels = DefaultVehicleLabels
	}
	allowed := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		allowed[l] = struct{}{}
	}
	return &VehicleFilter{classNames: classNames, allowed: allowed}
}

// Labels returns the allow-listed labels.
func (f *VehicleFilter) Labels() []string {
	out := make([]string, 0, len(f.allowed))
	for l := range f.allowed {
		out = append(out, l)
	}
	return out
}

// Filter maps raw detections to labelled ones, dropping unknown class
// indices and labels that are not allow-listed. Input order is kept.
func (f *VehicleFilter) Filter(raw []models.RawDetection) []models.Detection {
	out := make([]models.Detection, 0, len(raw))
	for _, d := range raw {
		if d.ClassIndex < 0 || d.ClassIndex >= len(f.classNames) {
			continue
		}
		label := f.classNames[d.ClassIndex]
		if _, ok := f.allowed[label]; !ok {
			continue
		}
		out = append(out, models.Detection{
			Box:        d.Box,
			Label:      label,
			Confidence: d.Confidence,
		})
	}
	return out
}
