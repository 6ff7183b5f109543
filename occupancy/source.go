package occupancy

import (
	"context"
	"errors"
	"image"
	"sync"
)

// ErrEndOfStream signals that a frame source has no more frames. It is a
// normal termination, not a failure.
var ErrEndOfStream = errors.New("end of stream")

// FrameSource produces frames on demand.
type FrameSource interface {
	// Next returns the next frame or ErrEndOfStream.
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// SliceSource replays a fixed list of frames.
type SliceSource struct {
	mu     sync.Mutex
	frames []image.Image
	next   int
}

func NewSliceSource(frames ...image.Image) *SliceSource {
	return &SliceSource{frames: frames}
}

func (s *SliceSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.frames) {
		return nil, ErrEndOfStream
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *SliceSource) Close() error {
	return nil
}
