package detections

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/Tutortoise/parking-occupancy-service/geometry"
	"github.com/Tutortoise/parking-occupancy-service/models"
)

// anchorCount is the number of prediction columns a YOLOv8 head emits for a
// square input: one per cell of the stride 8, 16 and 32 grids.
func anchorCount(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		g := inputSize / stride
		n += g * g
	}
	return n
}

type decodeParams struct {
	inputSize      int
	numClasses     int
	numAnchors     int
	confThreshold  float32
	originalWidth  int
	originalHeight int
}

// processPredictions decodes a YOLOv8 output tensor laid out as
// [4+numClasses][numAnchors]: cx, cy, w, h in input pixels followed by one
// score per class. Each anchor contributes its best class if that score
// reaches the threshold.
func processPredictions(predictions []float32, p decodeParams) ([]models.RawDetection, error) {
	rows := 4 + p.numClasses
	expectedSize := rows * p.numAnchors
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	const chunkSize = 512
	numWorkers := runtime.NumCPU()
	jobs := make(chan int, numWorkers)
	results := make(chan []models.RawDetection, numWorkers)

	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]models.RawDetection, 0, 32)

			for start := range jobs {
				end := min(start+chunkSize, p.numAnchors)
				for i := start; i < end; i++ {
					bestClass, bestScore := -1, float32(0)
					for c := 0; c < p.numClasses; c++ {
						score := predictions[(4+c)*p.numAnchors+i]
						if score > bestScore {
							bestClass, bestScore = c, score
						}
					}
					if bestClass < 0 || bestScore < p.confThreshold {
						continue
					}

					box := calculateBBox(
						[4]float32{
							predictions[i],
							predictions[p.numAnchors+i],
							predictions[2*p.numAnchors+i],
							predictions[3*p.numAnchors+i],
						},
						p,
					)
					local = append(local, models.RawDetection{
						Box:        box,
						ClassIndex: bestClass,
						Confidence: bestScore,
					})
				}
			}

			if len(local) > 0 {
				results <- local
			}
		}()
	}

	go func() {
		for i := 0; i < p.numAnchors; i += chunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	detections := make([]models.RawDetection, 0, 64)
	for chunk := range results {
		detections = append(detections, chunk...)
	}

	if len(detections) > 0 {
		sortDetectionsByConfidence(detections)
	}
	return detections, nil
}

// calculateBBox converts a centre-size box in model input pixels to corner
// form in original frame pixels, clamped to the frame.
func calculateBBox(coords [4]float32, p decodeParams) geometry.Box {
	scaleX := float32(p.originalWidth) / float32(p.inputSize)
	scaleY := float32(p.originalHeight) / float32(p.inputSize)

	centerX, centerY := coords[0], coords[1]
	width, height := coords[2], coords[3]

	x1 := (centerX - width/2) * scaleX
	y1 := (centerY - height/2) * scaleY
	x2 := (centerX + width/2) * scaleX
	y2 := (centerY + height/2) * scaleY

	return geometry.Box{
		X1: int(max(0, x1)),
		Y1: int(max(0, y1)),
		X2: int(min(float32(p.originalWidth), x2)),
		Y2: int(min(float32(p.originalHeight), y2)),
	}
}
