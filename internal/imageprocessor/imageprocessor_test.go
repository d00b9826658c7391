package imageprocessor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not an image")); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if _, err := Decode(nil); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage for empty payload, got %v", err)
	}
}

func TestDecodePNG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 3))
	src.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode: %v", err)
	}

	img, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
}

func TestInferenceErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("model crashed")
	err := NewInferenceError("embed", cause)

	if !errors.Is(err, ErrInference) {
		t.Fatal("expected errors.Is(err, ErrInference)")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be unwrappable")
	}
	if NewInferenceError("embed", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
	if again := NewInferenceError("detect", err); again != err {
		t.Fatal("expected existing InferenceError to be returned unchanged")
	}
}
