package detections

import (
	"image"
	"runtime"
	"sync"
)

// Preprocessor converts a model-sized RGB image into a CHW float32 buffer
// scaled to [0, 1].
type Preprocessor struct {
	size       int
	numWorkers int
	bufferPool *sync.Pool
}

func NewPreprocessor(size int) *Preprocessor {
	return &Preprocessor{
		size:       size,
		numWorkers: runtime.GOMAXPROCS(0),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]float32, size*size*3)
				return &buf
			},
		},
	}
}

// Process fills dst (len size*size*3) from img, which must already be
// size x size.
func (p *Preprocessor) Process(img image.Image, dst []float32) {
	bufPtr := p.bufferPool.Get().(*[]float32)
	defer p.bufferPool.Put(bufPtr)
	buffer := *bufPtr

	if nrgba, ok := img.(*image.NRGBA); ok {
		p.processParallel(buffer, func(start, end int) { p.rowsNRGBA(nrgba, buffer, start, end) })
	} else {
		p.processParallel(buffer, func(start, end int) { p.rowsGeneric(img, buffer, start, end) })
	}

	copy(dst, buffer)
}

func (p *Preprocessor) processParallel(buffer []float32, rows func(start, end int)) {
	workers := p.numWorkers
	if workers < 1 || workers > p.size {
		workers = 1
	}
	rowsPerWorker := p.size / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = p.size
		}

		go func(start, end int) {
			defer wg.Done()
			rows(start, end)
		}(startRow, endRow)
	}

	wg.Wait()
}

func (p *Preprocessor) rowsNRGBA(img *image.NRGBA, buffer []float32, start, end int) {
	channelSize := p.size * p.size
	for y := start; y < end; y++ {
		row := img.Pix[y*img.Stride:]
		offset := y * p.size
		for x := 0; x < p.size; x++ {
			i := offset + x
			px := row[x*4:]
			buffer[i] = float32(px[0]) / 255.0
			buffer[channelSize+i] = float32(px[1]) / 255.0
			buffer[channelSize*2+i] = float32(px[2]) / 255.0
		}
	}
}

func (p *Preprocessor) rowsGeneric(img image.Image, buffer []float32, start, end int) {
	channelSize := p.size * p.size
	b := img.Bounds()
	for y := start; y < end; y++ {
		offset := y * p.size
		for x := 0; x < p.size; x++ {
			i := offset + x
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			buffer[i] = float32(r>>8) / 255.0
			buffer[channelSize+i] = float32(g>>8) / 255.0
			buffer[channelSize*2+i] = float32(bl>>8) / 255.0
		}
	}
}
