// Package annotate renders the debug overlay stored with each attempt.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/example/idgate/internal/decision"
	"github.com/example/idgate/internal/detection"
	"github.com/example/idgate/internal/facematch"
)

const (
	// Thickness is the rectangle stroke width in pixels.
	Thickness = 2
	// JPEGQuality is used by EncodeJPEG.
	JPEGQuality = 90

	labelOffset = 10
)

var (
	Green  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Red    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	Orange = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

var classColors = map[detection.Class]color.RGBA{
	detection.ClassCard:          {R: 0, G: 255, B: 255, A: 255},
	detection.ClassOtherDocument: Red,
	detection.ClassIDNumber:      {R: 255, G: 0, B: 255, A: 255},
	detection.ClassFirstName:     Yellow,
	detection.ClassLastName:      {R: 0, G: 165, B: 255, A: 255},
	detection.ClassPattern:       Green,
	detection.ClassLogo:          {R: 0, G: 0, B: 255, A: 255},
}

// ClassColor returns the overlay color of c.
func ClassColor(c detection.Class) color.RGBA {
	if col, ok := classColors[c]; ok {
		return col
	}
	return White
}

// Annotations is what gets drawn on top of the frame.
type Annotations struct {
	Detections []detection.Detection
	Fields     decision.Fields

	LiveFace *detection.Box
	CardFace *detection.Box
	Match    facematch.Result

	Logo         bool
	PatternCount int

	// WrongDocument limits the overlay to the offending regions.
	WrongDocument  bool
	OtherDocuments []detection.Box
}

// FromVerdict fills the summary fields of a from v.
func FromVerdict(dets []detection.Detection, live, card *detection.Box, v decision.Verdict) Annotations {
	return Annotations{
		Detections:     dets,
		Fields:         v.Fields,
		LiveFace:       live,
		CardFace:       card,
		Match:          v.Match,
		Logo:           v.LogoFound,
		PatternCount:   v.PatternCount,
		WrongDocument:  v.WrongDocument,
		OtherDocuments: v.OtherDocuments,
	}
}

// Render copies img and draws a on the copy.
func Render(img image.Image, a Annotations) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	if a.WrongDocument {
		for _, box := range a.OtherDocuments {
			labeledBox(dst, box, "Please show valid ID", ClassColor(detection.ClassOtherDocument))
		}
		return dst
	}

	for _, d := range a.Detections {
		label := detectionLabel(d.Class, a.Fields)
		if label == "" {
			continue
		}
		labeledBox(dst, d.Box, label, ClassColor(d.Class))
	}

	switch {
	case a.Match.Completed():
		text, col := "no match", Red
		if a.Match.Verdict == facematch.VerdictMatch {
			text, col = "match", Green
		}
		if a.LiveFace != nil {
			labeledBox(dst, *a.LiveFace, text, col)
		}
		if a.CardFace != nil {
			labeledBox(dst, *a.CardFace, text, col)
		}
	case a.LiveFace != nil && a.CardFace == nil:
		labeledBox(dst, *a.LiveFace, "Need ID face", Orange)
	case a.CardFace != nil && a.LiveFace == nil:
		labeledBox(dst, *a.CardFace, "Need real face", Orange)
	}

	drawText(dst, image.Pt(10, 30), Summary(a.Logo, a.PatternCount), SummaryColor(a.PatternCount))
	return dst
}

func detectionLabel(c detection.Class, f decision.Fields) string {
	switch c {
	case detection.ClassIDNumber:
		return "ID Number: " + f.IDNumber
	case detection.ClassFirstName:
		return "First Name: " + f.FirstName
	case detection.ClassLastName:
		return "Last Name: " + f.LastName
	case detection.ClassCard, detection.ClassPattern, detection.ClassLogo:
		return c.String()
	default:
		return ""
	}
}

// Summary is the status line drawn in the top-left corner.
func Summary(logo bool, patterns int) string {
	yes := "No"
	if logo {
		yes = "Yes"
	}
	return fmt.Sprintf("Logo: %s, Pattern: %d Found", yes, patterns)
}

// SummaryColor grades the pattern count.
func SummaryColor(patterns int) color.RGBA {
	switch {
	case patterns >= decision.RequiredPatterns:
		return Green
	case patterns == 1:
		return Yellow
	default:
		return Red
	}
}

func labeledBox(dst *image.RGBA, box detection.Box, label string, col color.Color) {
	DrawRect(dst, box.Rect(), col, Thickness)
	drawText(dst, image.Pt(box.X, box.Y-labelOffset), label, col)
}

// DrawRect draws the outline of rect clipped to dst.
func DrawRect(dst *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	for t := range thickness {
		yTop := rect.Min.Y + t
		yBot := rect.Max.Y - 1 - t
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, yTop, col)
			dst.Set(x, yBot, col)
		}
	}
	for t := range thickness {
		xLeft := rect.Min.X + t
		xRight := rect.Max.X - 1 - t
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.Set(xLeft, y, col)
			dst.Set(xRight, y, col)
		}
	}
}

// drawText writes s with its baseline at origin.
func drawText(dst *image.RGBA, origin image.Point, s string, col color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(origin.X, origin.Y),
	}
	d.DrawString(s)
}

// EncodeJPEG encodes img for storage.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
