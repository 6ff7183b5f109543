package occupancy

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Tutortoise/parking-occupancy-service/detections"
	"github.com/Tutortoise/parking-occupancy-service/geometry"
	"github.com/Tutortoise/parking-occupancy-service/models"
	"github.com/Tutortoise/parking-occupancy-service/regions"
)

// ErrNoRegions is returned when saving an empty region set.
var ErrNoRegions = errors.New("no regions to save")

// Recorder receives engine events, typically for metrics.
type Recorder interface {
	ObserveFrame(res Result, vehicles []models.Detection, elapsed time.Duration)
	ObserveProposal(err error)
	ObserveRegions(total int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFrame(Result, []models.Detection, time.Duration) {}
func (nopRecorder) ObserveProposal(error)                                  {}
func (nopRecorder) ObserveRegions(int)                                     {}

// Options configures a Session.
type Options struct {
	// Detector may be nil; regions can still be defined and persisted but
	// frames cannot be processed.
	Detector      detections.Detector
	VehicleLabels []string
	RegionsPath   string
	Recorder      Recorder
}

// FrameResult is everything produced for one frame.
type FrameResult struct {
	Result
	Sequence  uint64             `json:"frame"`
	Timestamp time.Time          `json:"timestamp"`
	Vehicles  []models.Detection `json:"detections"`
	// Regions is the snapshot the frame was classified against.
	Regions []regions.Region `json:"-"`
}

// Session is one engine session: it owns the region store and the detector
// and carries no global state.
type Session struct {
	store    *regions.Store
	detector detections.Detector
	filter   *detections.VehicleFilter
	path     string
	recorder Recorder

	sequence atomic.Uint64
	latest   atomic.Pointer[FrameResult]
}

func NewSession(opts Options) *Session {
	s := &Session{
		store:    regions.NewStore(),
		detector: opts.Detector,
		path:     opts.RegionsPath,
		recorder: opts.Recorder,
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	var classNames []string
	if opts.Detector != nil {
		classNames = opts.Detector.ClassNames()
	}
	s.filter = detections.NewVehicleFilter(classNames, opts.VehicleLabels)
	return s
}

// Store exposes the region store.
func (s *Session) Store() *regions.Store {
	return s.store
}

// HasDetector reports whether frames can be processed.
func (s *Session) HasDetector() bool {
	return s.detector != nil
}

// RegionsPath is the persisted region file of this session.
func (s *Session) RegionsPath() string {
	return s.path
}

// Regions returns a snapshot of the current region set.
func (s *Session) Regions() []regions.Region {
	return s.store.List()
}

// Propose adds a region if it passes validation and the intersection rule.
func (s *Session) Propose(points []geometry.Point) (regions.Region, error) {
	r, err := s.store.Propose(points)
	s.recorder.ObserveProposal(err)
	if err != nil {
		log.Debug().Err(err).Msg("region proposal rejected")
		return regions.Region{}, err
	}
	s.recorder.ObserveRegions(s.store.Len())
	log.Info().Int("id", r.ID).Interface("points", r.Points).Msg("region added")
	return r, nil
}

// Clear empties the region set and, if removeFile is set, deletes the
// persisted file as well.
func (s *Session) Clear(removeFile bool) error {
	s.store.Clear()
	s.recorder.ObserveRegions(0)
	log.Info().Bool("remove_file", removeFile).Msg("regions cleared")
	if removeFile && s.path != "" {
		return regions.RemoveFile(s.path)
	}
	return nil
}

// Save persists the current region set.
func (s *Session) Save() error {
	snapshot := s.store.List()
	if len(snapshot) == 0 {
		return ErrNoRegions
	}
	if err := regions.SaveFile(s.path, snapshot); err != nil {
		return err
	}
	log.Info().Int("regions", len(snapshot)).Str("path", s.path).Msg("regions saved")
	return nil
}

// Load replaces the region set with the persisted one. On error the current
// set is kept.
func (s *Session) Load() error {
	loaded, err := regions.LoadFile(s.path)
	if err != nil {
		return err
	}
	s.store.Replace(loaded)
	s.recorder.ObserveRegions(len(loaded))
	log.Info().Int("regions", len(loaded)).Str("path", s.path).Msg("regions loaded")
	return nil
}

// ProcessFrame detects vehicles in frame and classifies them against a
// region snapshot taken before detection starts, so concurrent edits never
// leak into a frame half way through.
func (s *Session) ProcessFrame(ctx context.Context, frame image.Image) (FrameResult, error) {
	if s.detector == nil {
		return FrameResult{}, fmt.Errorf("%w: no detector configured", detections.ErrDetectorUnavailable)
	}

	start := time.Now()
	snapshot := s.store.List()

	raw, err := s.detector.Detect(ctx, frame)
	if err != nil {
		return FrameResult{}, fmt.Errorf("detect: %w", err)
	}
	vehicles := s.filter.Filter(raw)
	res := Classify(snapshot, vehicles)

	fr := FrameResult{
		Result:    res,
		Sequence:  s.sequence.Add(1),
		Timestamp: start,
		Vehicles:  vehicles,
		Regions:   snapshot,
	}
	s.latest.Store(&fr)
	s.recorder.ObserveFrame(res, vehicles, time.Since(start))

	log.Debug().
		Uint64("frame", fr.Sequence).
		Int("raw", len(raw)).
		Int("vehicles", len(vehicles)).
		Int("occupied", res.OccupiedCount).
		Int("free", res.Free).
		Dur("elapsed", time.Since(start)).
		Msg("frame classified")

	return fr, nil
}

// Latest returns the most recent frame result, if any.
func (s *Session) Latest() (FrameResult, bool) {
	fr := s.latest.Load()
	if fr == nil {
		return FrameResult{}, false
	}
	return *fr, true
}

// Run pulls frames from src until it reports ErrEndOfStream or ctx is done.
// interval paces frame requests; zero runs as fast as frames arrive. Each
// frame is fully classified before the next is requested.
func (s *Session) Run(ctx context.Context, src FrameSource, interval time.Duration, sink func(FrameResult)) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, ErrEndOfStream) {
			log.Info().Uint64("frames", s.sequence.Load()).Msg("frame source exhausted")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		fr, err := s.ProcessFrame(ctx, frame)
		if err != nil {
			return err
		}
		if sink != nil {
			sink(fr)
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}
}
