package onnxembed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/example/idgate/internal/extract"
)

// InputShape is the face tensor layout the embedding model expects.
var InputShape = []int64{1, 3, extract.FaceSize, extract.FaceSize}

// Config selects the model and the runtime library.
type Config struct {
	ModelPath   string
	LibraryPath string
	NumThreads  int
}

// Embedder runs a FaceNet-style embedding model through ONNX Runtime.
// Run calls share one session and are serialized.
type Embedder struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	logger  *zap.Logger
	closed  bool
}

var initOnce sync.Once
var initErr error

func setupEnvironment(libraryPath string) error {
	initOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if !ort.IsInitialized() {
			initErr = ort.InitializeEnvironment()
		}
	})
	if initErr != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", initErr)
	}
	return nil
}

// New loads the model and prepares a session.
func New(cfg Config, logger *zap.Logger) (*Embedder, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", cfg.ModelPath, err)
	}
	if err := setupEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("expected 1 input and 1 output, got %d and %d", len(inputs), len(outputs))
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	logger = logger.Named("onnxembed")
	logger.Info("embedding model loaded",
		zap.String("model", cfg.ModelPath),
		zap.String("input", inputs[0].Name),
		zap.String("output", outputs[0].Name),
	)
	return &Embedder{session: session, logger: logger}, nil
}

// Embed runs the model on a [1,3,160,160] tensor and returns the embedding.
func (e *Embedder) Embed(ctx context.Context, tensor []float32) ([]float32, error) {
	if err := CheckTensor(tensor); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(ort.NewShape(InputShape...), tensor)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("embedder is closed")
	}

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			e.logger.Warn("failed to destroy output tensor", zap.Error(err))
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("expected float32 tensor, got %T", outputs[0])
	}
	data := out.GetData()
	vec := make([]float32, len(data))
	copy(vec, data)
	return vec, nil
}

// Close releases the session.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.session.Destroy()
}

// CheckTensor validates the length of a face tensor.
func CheckTensor(tensor []float32) error {
	want := 1
	for _, d := range InputShape {
		want *= int(d)
	}
	if len(tensor) != want {
		return fmt.Errorf("face tensor has %d values, want %d", len(tensor), want)
	}
	return nil
}
