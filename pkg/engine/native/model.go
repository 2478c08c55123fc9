package native

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Tensor names of a wav2vec2-style CTC export.
const (
	modelInput  = "input_values"
	modelOutput = "logits"
)

// AcousticModel produces per-frame class logits for 16 kHz mono samples.
type AcousticModel interface {
	Logits(samples []float32) (Matrix, error)
	Close() error
}

// ortEnv tracks the process-wide onnxruntime environment.
var ortEnv struct {
	mu    sync.Mutex
	users int
}

// ONNXModel runs an acoustic model through onnxruntime.
type ONNXModel struct {
	session *ort.DynamicAdvancedSession
}

var _ AcousticModel = (*ONNXModel)(nil)

// LoadONNXModel opens the model at path. runtimeLib, when set, locates the
// onnxruntime shared library.
func LoadONNXModel(path, runtimeLib string) (*ONNXModel, error) {
	if path == "" {
		return nil, errors.New("native: model path must not be empty")
	}

	ortEnv.mu.Lock()
	defer ortEnv.mu.Unlock()
	if !ort.IsInitialized() {
		if runtimeLib != "" {
			ort.SetSharedLibraryPath(runtimeLib)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("native: initialize onnxruntime: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{modelInput}, []string{modelOutput}, nil)
	if err != nil {
		if ortEnv.users == 0 {
			_ = ort.DestroyEnvironment()
		}
		return nil, fmt.Errorf("native: load model %q: %w", path, err)
	}
	ortEnv.users++
	return &ONNXModel{session: session}, nil
}

// Logits runs one forward pass over samples.
func (m *ONNXModel) Logits(samples []float32) (Matrix, error) {
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return Matrix{}, fmt.Errorf("native: create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{input}, outputs); err != nil {
		return Matrix{}, fmt.Errorf("native: run model: %w", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return Matrix{}, fmt.Errorf("native: unexpected output type %T", outputs[0])
	}
	shape := logits.GetShape()
	if len(shape) != 3 || shape[0] != 1 {
		return Matrix{}, fmt.Errorf("native: unexpected output shape %v", shape)
	}
	data := logits.GetData()
	out := Matrix{Frames: int(shape[1]), Vocab: int(shape[2]), Data: make([]float32, len(data))}
	copy(out.Data, data)
	return out, nil
}

// Close destroys the session, and the runtime environment once no model
// uses it.
func (m *ONNXModel) Close() error {
	ortEnv.mu.Lock()
	defer ortEnv.mu.Unlock()
	err := m.session.Destroy()
	ortEnv.users--
	if ortEnv.users == 0 {
		err = errors.Join(err, ort.DestroyEnvironment())
	}
	return err
}
