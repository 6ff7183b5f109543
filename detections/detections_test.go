package detections

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/parking-occupancy-service/geometry"
	"github.com/Tutortoise/parking-occupancy-service/models"
)

func classIndex(t *testing.T, label string) int {
	t.Helper()
	for i, name := range COCOClassNames {
		if name == label {
			return i
		}
	}
	t.Fatalf("label %q not in COCO table", label)
	return -1
}

func TestVehicleFilter_DropsNonVehicles(t *testing.T) {
	f := NewVehicleFilter(COCOClassNames, nil)

	raw := []models.RawDetection{
		{Box: geometry.Box{X1: 2, Y1: 2, X2: 4, Y2: 4}, ClassIndex: classIndex(t, "person"), Confidence: 0.9},
		{Box: geometry.Box{X1: 0, Y1: 0, X2: 5, Y2: 5}, ClassIndex: classIndex(t, "truck"), Confidence: 0.6},
		{Box: geometry.Box{X1: 1, Y1: 1, X2: 3, Y2: 3}, ClassIndex: classIndex(t, "car"), Confidence: 0.8},
		{Box: geometry.Box{X1: 1, Y1: 1, X2: 3, Y2: 3}, ClassIndex: classIndex(t, "bus"), Confidence: 0.5},
		{Box: geometry.Box{X1: 1, Y1: 1, X2: 3, Y2: 3}, ClassIndex: 500, Confidence: 0.99},
		{Box: geometry.Box{X1: 1, Y1: 1, X2: 3, Y2: 3}, ClassIndex: -1, Confidence: 0.99},
	}

	got := f.Filter(raw)
	require.Len(t, got, 3)
	assert.Equal(t, "truck", got[0].Label)
	assert.Equal(t, "car", got[1].Label)
	assert.Equal(t, "bus", got[2].Label)
	for _, d := range got {
		assert.NotEqual(t, "person", d.Label)
	}
}

func TestVehicleFilter_CustomLabels(t *testing.T) {
	f := NewVehicleFilter([]string{"empty", "occupied-car"}, []string{"occupied-car"})
	got := f.Filter([]models.RawDetection{{ClassIndex: 0}, {ClassIndex: 1}})
	require.Len(t, got, 1)
	assert.Equal(t, "occupied-car", got[0].Label)
	assert.ElementsMatch(t, []string{"occupied-car"}, f.Labels())
}

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 8400, anchorCount(640))
	assert.Equal(t, 2100, anchorCount(320))
}

func TestCalculateIOU(t *testing.T) {
	a := geometry.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.InDelta(t, 1.0, calculateIOU(a, a), 1e-9)
	assert.InDelta(t, 25.0/175.0, calculateIOU(a, geometry.Box{X1: 5, Y1: 5, X2: 15, Y2: 15}), 1e-9)
	assert.Zero(t, calculateIOU(a, geometry.Box{X1: 20, Y1: 20, X2: 30, Y2: 30}))
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []models.RawDetection{
		{Box: geometry.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, ClassIndex: 2, Confidence: 0.6},
		{Box: geometry.Box{X1: 1, Y1: 1, X2: 11, Y2: 11}, ClassIndex: 2, Confidence: 0.9},
		{Box: geometry.Box{X1: 1, Y1: 1, X2: 11, Y2: 11}, ClassIndex: 7, Confidence: 0.5},
		{Box: geometry.Box{X1: 50, Y1: 50, X2: 60, Y2: 60}, ClassIndex: 2, Confidence: 0.7},
	}

	got := nonMaxSuppression(dets, DefaultIouThreshold)
	require.Len(t, got, 3)
	assert.Equal(t, float32(0.9), got[0].Confidence)
	assert.Equal(t, float32(0.7), got[1].Confidence)
	assert.Equal(t, 7, got[2].ClassIndex, "other classes are not suppressed")

	assert.Nil(t, nonMaxSuppression(nil, DefaultIouThreshold))
}

func TestProcessPredictions(t *testing.T) {
	const anchors = 3
	const classes = 3
	preds := make([]float32, (4+classes)*anchors)
	set := func(row, anchor int, v float32) { preds[row*anchors+anchor] = v }

	// Anchor 0: car-ish box centred at (32, 32), 16x16 in a 64px input.
	set(0, 0, 32)
	set(1, 0, 32)
	set(2, 0, 16)
	set(3, 0, 16)
	set(4+1, 0, 0.9)
	set(4+2, 0, 0.3)

	// Anchor 1: below threshold.
	set(4+0, 1, 0.1)

	// Anchor 2: box hanging off the top-left edge, class 0.
	set(0, 2, 2)
	set(1, 2, 2)
	set(2, 2, 8)
	set(3, 2, 8)
	set(4+0, 2, 0.5)

	got, err := processPredictions(preds, decodeParams{
		inputSize:      64,
		numClasses:     classes,
		numAnchors:     anchors,
		confThreshold:  0.25,
		originalWidth:  128,
		originalHeight: 64,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 1, got[0].ClassIndex)
	assert.Equal(t, float32(0.9), got[0].Confidence)
	assert.Equal(t, geometry.Box{X1: 48, Y1: 24, X2: 80, Y2: 40}, got[0].Box)

	assert.Equal(t, 0, got[1].ClassIndex)
	assert.Equal(t, geometry.Box{X1: 0, Y1: 0, X2: 12, Y2: 6}, got[1].Box)
}

func TestProcessPredictions_BadLength(t *testing.T) {
	_, err := processPredictions(make([]float32, 10), decodeParams{numClasses: 80, numAnchors: 8400})
	assert.Error(t, err)
}

func TestPreprocessor_CHWLayout(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}
	img.Set(3, 2, color.NRGBA{R: 0, G: 255, B: 0, A: 255})

	p := NewPreprocessor(4)
	dst := make([]float32, 4*4*3)
	p.Process(img, dst)

	assert.InDelta(t, 1.0, dst[0], 1e-6)
	assert.InDelta(t, 0.0, dst[16], 1e-6)
	assert.InDelta(t, 0.2, dst[32], 1e-6)

	i := 2*4 + 3
	assert.InDelta(t, 0.0, dst[i], 1e-6)
	assert.InDelta(t, 1.0, dst[16+i], 1e-6)

	// Generic path gives the same answer.
	rgba := image.NewRGBA(img.Bounds())
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	dst2 := make([]float32, len(dst))
	p.Process(rgba, dst2)
	assert.InDeltaSlice(t, dst, dst2, 1e-6)
}

func fakeFactory(created *int) SessionFactory {
	return func() (*ModelSession, error) {
		*created++
		return &ModelSession{}, nil
	}
}

func TestModelSessionPool_AcquireRelease(t *testing.T) {
	created := 0
	pool, err := NewModelSessionPool(fakeFactory(&created), 2)
	require.NoError(t, err)
	defer pool.Destroy()

	assert.Equal(t, 2, created)

	ctx := context.Background()
	s1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	s2, err := pool.Acquire(ctx)
	require.NoError(t, err)

	m := pool.GetMetrics()
	assert.Equal(t, 2, m.InUse)
	assert.Equal(t, int64(2), m.TotalAcquired)

	pool.Release(s1)
	pool.Release(s2)

	m = pool.GetMetrics()
	assert.Equal(t, 0, m.InUse)
	assert.Equal(t, int64(2), m.TotalReleased)
}

func TestModelSessionPool_AcquireHonoursContextAndTimeout(t *testing.T) {
	created := 0
	pool, err := NewModelSessionPool(fakeFactory(&created), 1)
	require.NoError(t, err)
	defer pool.Destroy()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	pool.timeout = 20 * time.Millisecond
	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Equal(t, int64(1), pool.GetMetrics().AcquireFailures)
}

func TestModelSessionPool_FactoryFailure(t *testing.T) {
	calls := 0
	_, err := NewModelSessionPool(func() (*ModelSession, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("boom")
		}
		return &ModelSession{}, nil
	}, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize session 1")
}

func TestModelSessionPool_DiscardAndReplenish(t *testing.T) {
	created := 0
	pool, err := NewModelSessionPool(fakeFactory(&created), 2)
	require.NoError(t, err)
	defer pool.Destroy()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Discard(s)

	pool.replenish()
	assert.Equal(t, 3, created)
	assert.Len(t, pool.sessions, 2)
}

func TestModelSessionPool_ClosedPool(t *testing.T) {
	created := 0
	pool, err := NewModelSessionPool(fakeFactory(&created), 1)
	require.NoError(t, err)
	pool.Destroy()
	pool.Destroy()

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestProcessingError(t *testing.T) {
	cause := errors.New("run failed")
	err := &ProcessingError{Message: "model inference", Cause: cause}
	assert.Equal(t, "model inference: run failed", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "empty frame", (&ProcessingError{Message: "empty frame"}).Error())
}

func newTestDetector(t *testing.T, sessions int) (*OnnxDetector, *ModelSessionPool) {
	t.Helper()
	created := 0
	pool, err := NewModelSessionPool(fakeFactory(&created), sessions)
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)

	cfg := OnnxConfig{InputSize: 32}
	cfg.applyDefaults()
	return &OnnxDetector{cfg: cfg, pool: pool, preprocessor: NewPreprocessor(cfg.InputSize)}, pool
}

func TestOnnxDetector_EmptyFrameKeepsSessions(t *testing.T) {
	d, pool := newTestDetector(t, 2)

	for i := 0; i < 5; i++ {
		_, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 0, 0)))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmptyFrame)

		var pe *ProcessingError
		assert.ErrorAs(t, err, &pe)
	}

	assert.Len(t, pool.sessions, 2)
	m := pool.GetMetrics()
	assert.Zero(t, m.TotalAcquired)
	assert.Zero(t, m.AcquireFailures)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(s)
}

func TestOnnxDetector_ClosedPoolReturnsImmediately(t *testing.T) {
	d, pool := newTestDetector(t, 1)
	pool.Destroy()

	start := time.Now()
	_, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Less(t, time.Since(start), RetryDelayMs*time.Millisecond)
}

func TestOnnxDetector_CancelledContext(t *testing.T) {
	d, pool := newTestDetector(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, pool.sessions, 2)
	assert.Zero(t, pool.GetMetrics().TotalAcquired)
}

func TestOnnxDetector_BrokenSessionsAreDiscardedAndRetried(t *testing.T) {
	// Fake sessions carry no runtime session, so every attempt fails on them.
	d, pool := newTestDetector(t, RetryAttempts)

	_, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.Error(t, err)
	assert.ErrorIs(t, err, errSessionBroken)

	m := pool.GetMetrics()
	assert.Equal(t, int64(RetryAttempts), m.TotalAcquired)
	assert.Zero(t, m.InUse)
	assert.Empty(t, pool.sessions, "failed sessions are not returned to the pool")

	pool.replenish()
	assert.Len(t, pool.sessions, RetryAttempts)
}
