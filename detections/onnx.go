package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	"github.com/Tutortoise/parking-occupancy-service/models"
)

// OnnxConfig configures the YOLO ONNX detector.
type OnnxConfig struct {
	ModelPath     string
	InputName     string
	OutputName    string
	InputSize     int
	ClassNames    []string
	ConfThreshold float32
	IouThreshold  float32
	PoolSize      int
}

func (c *OnnxConfig) applyDefaults() {
	if c.InputName == "" {
		c.InputName = "images"
	}
	if c.OutputName == "" {
		c.OutputName = "output0"
	}
	if c.InputSize <= 0 {
		c.InputSize = DefaultInputSize
	}
	if len(c.ClassNames) == 0 {
		c.ClassNames = COCOClassNames
	}
	if c.ConfThreshold <= 0 {
		c.ConfThreshold = DefaultConfThreshold
	}
	if c.IouThreshold <= 0 {
		c.IouThreshold = DefaultIouThreshold
	}
}

// OnnxDetector runs a YOLOv8-style model through a pool of ONNX Runtime
// sessions. It is safe for concurrent use.
type OnnxDetector struct {
	cfg          OnnxConfig
	pool         *ModelSessionPool
	preprocessor *Preprocessor
}

// NewOnnxDetector creates the session pool. The runtime must already be
// initialized with InitRuntime.
func NewOnnxDetector(cfg OnnxConfig) (*OnnxDetector, error) {
	cfg.applyDefaults()

	spec := SessionSpec{
		ModelPath:  cfg.ModelPath,
		InputName:  cfg.InputName,
		OutputName: cfg.OutputName,
		InputSize:  cfg.InputSize,
		NumClasses: len(cfg.ClassNames),
	}
	pool, err := NewModelSessionPool(func() (*ModelSession, error) {
		return NewModelSession(spec)
	}, cfg.PoolSize)
	if err != nil {
		if errors.Is(err, ErrDetectorUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}

	return &OnnxDetector{
		cfg:          cfg,
		pool:         pool,
		preprocessor: NewPreprocessor(cfg.InputSize),
	}, nil
}

func (d *OnnxDetector) ClassNames() []string {
	return d.cfg.ClassNames
}

func (d *OnnxDetector) Pool() *ModelSessionPool {
	return d.pool
}

func (d *OnnxDetector) Close() {
	d.pool.Destroy()
}

// Detect implements Detector.
func (d *OnnxDetector) Detect(ctx context.Context, frame image.Image) ([]models.RawDetection, error) {
	start := time.Now()
	timings := &models.ProcessingTimings{RequestID: fmt.Sprintf("%d", start.UnixNano())}
	boxes, err := d.ProcessImage(ctx, frame, timings)
	timings.Total = time.Since(start)
	logTimings(timings)
	return boxes, err
}

func logTimings(t *models.ProcessingTimings) {
	log.Debug().
		Str("request_id", t.RequestID).
		Dur("resize", t.Resize).
		Dur("preprocess", t.Preprocess).
		Dur("inference", t.Inference).
		Dur("postprocess", t.Postprocess).
		Dur("total", t.Total).
		Msg("detection timings")
}

// errSessionBroken marks failures that leave a session unusable. Only these
// discard the session and only these are retried.
var errSessionBroken = errors.New("model session failed")

// ProcessImage runs detection and records stage timings. Inference failures
// are retried on a fresh session with linear back-off; input and decode
// errors are returned at once.
func (d *OnnxDetector) ProcessImage(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.RawDetection, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &ProcessingError{Message: "invalid frame", Cause: ErrEmptyFrame}
	}

	var lastErr error

	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		boxes, err := d.processOnce(ctx, img, timings)
		if err == nil {
			return boxes, nil
		}
		if !errors.Is(err, errSessionBroken) {
			return nil, err
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("detection attempt failed")

		if attempt < RetryAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * RetryDelayMs * time.Millisecond):
			}
		}
	}

	return nil, lastErr
}

// processOnce runs one attempt on a pooled session. A session is discarded
// only when inference itself failed on it.
func (d *OnnxDetector) processOnce(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.RawDetection, error) {
	session, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	boxes, err := d.processImageInternal(img, session, timings)
	if errors.Is(err, errSessionBroken) {
		d.pool.Discard(session)
		return nil, err
	}
	d.pool.Release(session)
	return boxes, err
}

func (d *OnnxDetector) processImageInternal(img image.Image, model *ModelSession, timings *models.ProcessingTimings) ([]models.RawDetection, error) {
	bounds := img.Bounds()
	if !model.ready() {
		return nil, &ProcessingError{Message: "model inference", Cause: errSessionBroken}
	}

	resizeStart := time.Now()
	resized := imaging.Resize(img, d.cfg.InputSize, d.cfg.InputSize, imaging.Linear)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	d.preprocessor.Process(resized, model.Input.GetData())
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := model.Session.Run(); err != nil {
		return nil, &ProcessingError{Message: "model inference", Cause: fmt.Errorf("%w: %v", errSessionBroken, err)}
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	raw, err := processPredictions(model.Output.GetData(), decodeParams{
		inputSize:      d.cfg.InputSize,
		numClasses:     len(d.cfg.ClassNames),
		numAnchors:     anchorCount(d.cfg.InputSize),
		confThreshold:  d.cfg.ConfThreshold,
		originalWidth:  bounds.Dx(),
		originalHeight: bounds.Dy(),
	})
	if err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}
	boxes := nonMaxSuppression(raw, float64(d.cfg.IouThreshold))
	timings.Postprocess = time.Since(postStart)

	return boxes, nil
}
