// Package source adapts camera and video inputs to occupancy.FrameSource.
package source

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/Tutortoise/parking-occupancy-service/occupancy"
)

// DefaultFPS is used when the capture does not report a frame rate.
const DefaultFPS = 25.0

// VideoSource reads frames from a video file, stream URL or camera device.
type VideoSource struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	name    string
	fps     float64
	closed  bool
}

// OpenVideo opens name as a device id when it parses as an integer and as a
// file or stream URL otherwise.
func OpenVideo(name string) (*VideoSource, error) {
	var (
		capture *gocv.VideoCapture
		err     error
	)
	if id, convErr := strconv.Atoi(name); convErr == nil {
		capture, err = gocv.OpenVideoCapture(id)
	} else {
		capture, err = gocv.VideoCaptureFile(name)
	}
	if err != nil {
		return nil, fmt.Errorf("open video %q: %w", name, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("open video %q: capture not opened", name)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = DefaultFPS
	}

	log.Info().Str("source", name).Float64("fps", fps).Msg("video source opened")

	return &VideoSource{
		capture: capture,
		mat:     gocv.NewMat(),
		name:    name,
		fps:     fps,
	}, nil
}

// FPS is the frame rate reported by the capture.
func (v *VideoSource) FPS() float64 {
	return v.fps
}

// Next reads one frame. A failed or empty read ends the stream.
func (v *VideoSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, occupancy.ErrEndOfStream
	}
	if ok := v.capture.Read(&v.mat); !ok || v.mat.Empty() {
		log.Debug().Str("source", v.name).Msg("video read returned no frame")
		return nil, occupancy.ErrEndOfStream
	}

	img, err := v.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

func (v *VideoSource) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	v.mat.Close()
	return v.capture.Close()
}
