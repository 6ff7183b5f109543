package detections

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/Tutortoise/parking-occupancy-service/models"
)

// ErrDetectorUnavailable means the detector could not be brought up at all
// (runtime library or model failed to load). It is fatal for the session.
var ErrDetectorUnavailable = errors.New("detector unavailable")

// ErrEmptyFrame is returned for frames with no pixels. It is an input error
// and never retried.
var ErrEmptyFrame = errors.New("empty frame")

// Detector is the object-detection capability consumed by the engine.
type Detector interface {
	// Detect returns boxes in frame pixel coordinates with class indices.
	Detect(ctx context.Context, frame image.Image) ([]models.RawDetection, error)
	// ClassNames maps class indices to labels.
	ClassNames() []string
}

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDetectorUnavailable, fmt.Sprintf(format, args...))
}
