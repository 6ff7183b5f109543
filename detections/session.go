package detections

import (
	"fmt"
	"os"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// ModelSession is one ONNX Runtime session with its bound input and output
// tensors. A session is not safe for concurrent Run calls; use the pool.
type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func (m *ModelSession) ready() bool {
	return m.Session != nil && m.Input != nil && m.Output != nil
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// SessionSpec describes the model a session is created for.
type SessionSpec struct {
	ModelPath  string
	InputName  string
	OutputName string
	InputSize  int
	NumClasses int
}

// InitRuntime points onnxruntime_go at the shared library and initializes
// the environment. Failures are reported as ErrDetectorUnavailable.
func InitRuntime(libPath string) error {
	if libPath != "" {
		if _, err := os.Stat(libPath); err != nil {
			return unavailable("onnxruntime library %s: %v", libPath, err)
		}
		ort.SetSharedLibraryPath(libPath)
	}
	if ort.IsInitialized() {
		return nil
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return unavailable("initialize onnxruntime: %v", err)
	}
	return nil
}

// DestroyRuntime releases the ONNX Runtime environment.
func DestroyRuntime() error {
	return ort.DestroyEnvironment()
}

// NewModelSession creates a session for spec with tensors shaped
// [1,3,S,S] in and [1,4+C,anchors] out.
func NewModelSession(spec SessionSpec) (*ModelSession, error) {
	if _, err := os.Stat(spec.ModelPath); err != nil {
		return nil, unavailable("model file %s: %v", spec.ModelPath, err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	size := int64(spec.InputSize)
	inputShape := ort.NewShape(1, 3, size, size)
	outputShape := ort.NewShape(1, int64(4+spec.NumClasses), int64(anchorCount(spec.InputSize)))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		spec.ModelPath,
		[]string{spec.InputName},
		[]string{spec.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}
