package facematch

import (
	"context"
	"image"

	"github.com/disintegration/imaging"

	"github.com/example/idgate/internal/detection"
	"github.com/example/idgate/internal/imageprocessor"
)

// Locate finds the live subject's face and the face printed on the card.
//
// The card face is searched inside the card crop only and translated back to
// frame coordinates. The live face is the first full-frame detection that
// does not overlap the card, which keeps the card photo from standing in for
// the subject.
func Locate(ctx context.Context, faces imageprocessor.FaceDetector, img image.Image, card *detection.Box) (live, cardFace *detection.Box, err error) {
	if card != nil {
		cardFace, err = locateOnCard(ctx, faces, img, *card)
		if err != nil {
			return nil, nil, err
		}
	}

	boxes, err := faces.DetectFaces(ctx, img)
	if err != nil {
		return nil, nil, imageprocessor.NewInferenceError("detect_faces", err)
	}
	for _, b := range boxes {
		if card == nil || !b.Overlaps(*card) {
			found := b
			live = &found
			break
		}
	}
	return live, cardFace, nil
}

func locateOnCard(ctx context.Context, faces imageprocessor.FaceDetector, img image.Image, card detection.Box) (*detection.Box, error) {
	rect := card.Rect().Intersect(img.Bounds())
	if rect.Empty() {
		return nil, nil
	}
	region := imaging.Crop(img, rect)

	boxes, err := faces.DetectFaces(ctx, region)
	if err != nil {
		return nil, imageprocessor.NewInferenceError("detect_faces", err)
	}
	if len(boxes) == 0 || boxes[0].Empty() {
		return nil, nil
	}
	translated := boxes[0].Translate(rect.Min.X, rect.Min.Y)
	return &translated, nil
}
