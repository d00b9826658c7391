package extract

import (
	"context"
	"image"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/example/idgate/internal/detection"
	"github.com/example/idgate/internal/imageprocessor"
)

var disallowed = regexp.MustCompile(`[^A-Za-z0-9\s]`)

// Normalize strips everything outside [A-Za-z0-9\s] and trims the result.
func Normalize(raw string) string {
	return strings.TrimSpace(disallowed.ReplaceAllString(raw, ""))
}

// Text crops box out of img, converts it to grayscale and returns the
// normalized recognizer output. An empty crop yields "" without calling the
// recognizer.
func Text(ctx context.Context, rec imageprocessor.TextRecognizer, img image.Image, box detection.Box) (string, error) {
	region, ok := crop(img, box)
	if !ok {
		return "", nil
	}
	raw, err := rec.Recognize(ctx, imaging.Grayscale(region))
	if err != nil {
		return "", imageprocessor.NewInferenceError("recognize", err)
	}
	return Normalize(raw), nil
}

func crop(img image.Image, box detection.Box) (*image.NRGBA, bool) {
	rect := box.Rect().Intersect(img.Bounds())
	if rect.Empty() {
		return nil, false
	}
	return imaging.Crop(img, rect), true
}
