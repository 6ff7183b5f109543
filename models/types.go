package models

import (
	"time"

	"github.com/Tutortoise/parking-occupancy-service/geometry"
)

// RawDetection is one detector output before label filtering.
type RawDetection struct {
	Box        geometry.Box
	ClassIndex int
	Confidence float32
}

// Detection is a frame-local observation with its resolved class label.
type Detection struct {
	Box        geometry.Box `json:"box"`
	Label      string       `json:"label"`
	Confidence float32      `json:"confidence"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Classify    time.Duration
	Total       time.Duration
}
