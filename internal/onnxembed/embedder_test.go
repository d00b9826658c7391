package onnxembed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/idgate/internal/extract"
)

func TestCheckTensor(t *testing.T) {
	assert.NoError(t, CheckTensor(make([]float32, 3*extract.FaceSize*extract.FaceSize)))
	assert.Error(t, CheckTensor(make([]float32, 10)))
	assert.Error(t, CheckTensor(nil))
}

func TestNewRejectsMissingModel(t *testing.T) {
	_, err := New(Config{ModelPath: filepath.Join(t.TempDir(), "missing.onnx")}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file not found")
}

// TestEmbedWithModel runs only when a model and runtime library are provided.
func TestEmbedWithModel(t *testing.T) {
	model := os.Getenv("IDGATE_TEST_EMBEDDER_MODEL")
	lib := os.Getenv("IDGATE_TEST_ONNX_LIBRARY")
	if model == "" || lib == "" {
		t.Skip("IDGATE_TEST_EMBEDDER_MODEL and IDGATE_TEST_ONNX_LIBRARY not set")
	}

	emb, err := New(Config{ModelPath: model, LibraryPath: lib}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = emb.Close() })

	tensor := make([]float32, 3*extract.FaceSize*extract.FaceSize)
	for i := range tensor {
		tensor[i] = float32(i%255)/127.5 - 1
	}
	a, err := emb.Embed(context.Background(), tensor)
	require.NoError(t, err)
	require.NotEmpty(t, a)

	b, err := emb.Embed(context.Background(), tensor)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = emb.Embed(context.Background(), make([]float32, 5))
	assert.Error(t, err)
}
