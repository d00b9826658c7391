package detection

import (
	"fmt"
	"image"
)

// Class is the integer class id emitted by the card detector.
type Class int

const (
	ClassCard Class = iota
	ClassOtherDocument
	ClassIDNumber
	ClassFirstName
	ClassLastName
	ClassPattern
	ClassLogo
)

var classNames = map[Class]string{
	ClassCard:          "ID Card",
	ClassOtherDocument: "Other ID",
	ClassIDNumber:      "ID Number",
	ClassFirstName:     "First Name",
	ClassLastName:      "Last Name",
	ClassPattern:       "Pattern",
	ClassLogo:          "Logo",
}

// String returns the display label for the class.
func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Valid reports whether c belongs to the fixed detector class set.
func (c Class) Valid() bool {
	_, ok := classNames[c]
	return ok
}

// Box is an axis-aligned rectangle in pixel coordinates.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// FromCorners builds a Box from top-left and bottom-right corners.
func FromCorners(x1, y1, x2, y2 int) Box {
	return Box{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// Translate shifts the box by (dx, dy).
func (b Box) Translate(dx, dy int) Box {
	return Box{X: b.X + dx, Y: b.Y + dy, W: b.W, H: b.H}
}

// Overlaps reports whether b and o intersect. Two boxes overlap unless one
// lies entirely to the left, right, above or below the other; touching edges
// count as overlap.
func (b Box) Overlaps(o Box) bool {
	return !(b.X+b.W < o.X || o.X+o.W < b.X || b.Y+b.H < o.Y || o.Y+o.H < b.Y)
}

// Detection is a single detector output for one frame.
type Detection struct {
	Class Class `json:"class"`
	Box   Box   `json:"box"`
}
