package imageprocessor

import (
	"context"
	"image"

	"github.com/example/idgate/internal/detection"
)

// Detector finds ID-card regions in a full frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]detection.Detection, error)
}

// FaceDetector returns face boxes in the pixel coordinates of img.
type FaceDetector interface {
	DetectFaces(ctx context.Context, img image.Image) ([]detection.Box, error)
}

// TextRecognizer reads the text printed in a cropped region.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Embedder maps a normalized channel-first face tensor to an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, tensor []float32) ([]float32, error)
}

// Collaborators bundles the inference capabilities a verification needs.
type Collaborators struct {
	Detector   Detector
	Faces      FaceDetector
	Recognizer TextRecognizer
	Embedder   Embedder
}
