package extract

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/example/idgate/internal/detection"
)

const (
	// FaceSize is the side of the square tensor handed to the embedder.
	FaceSize = 160
	// MinFaceSide is the smallest crop side accepted as a usable face.
	MinFaceSide = 10
)

// Provenance tags where a face crop came from.
type Provenance string

const (
	ProvenanceLive Provenance = "live"
	ProvenanceCard Provenance = "card"
)

// FaceCrop is a face region ready for embedding.
type FaceCrop struct {
	Provenance Provenance
	Box        detection.Box
	// Image is the raw crop before resizing.
	Image image.Image
	// Tensor is the 3x160x160 channel-first RGB tensor scaled to [-1, 1].
	Tensor []float32
}

// Face crops box from img and normalizes it for the embedder. It returns nil
// when the crop is smaller than MinFaceSide on either side or cannot be
// resized; callers treat that as an absent face.
func Face(img image.Image, box detection.Box, provenance Provenance) *FaceCrop {
	region, ok := crop(img, box)
	if !ok {
		return nil
	}
	b := region.Bounds()
	if b.Dx() < MinFaceSide || b.Dy() < MinFaceSide {
		return nil
	}

	resized := imaging.Resize(region, FaceSize, FaceSize, imaging.Linear)
	if resized.Bounds().Dx() != FaceSize || resized.Bounds().Dy() != FaceSize {
		return nil
	}

	return &FaceCrop{
		Provenance: provenance,
		Box:        box,
		Image:      region,
		Tensor:     toTensor(resized),
	}
}

func toTensor(img *image.NRGBA) []float32 {
	plane := FaceSize * FaceSize
	out := make([]float32, 3*plane)
	for y := 0; y < FaceSize; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < FaceSize; x++ {
			px := row[x*4 : x*4+3]
			idx := y*FaceSize + x
			for c := 0; c < 3; c++ {
				out[c*plane+idx] = (float32(px[c])/255 - 0.5) / 0.5
			}
		}
	}
	return out
}
