package detection

// RegionSet maps each semantic role to the detections of its class.
// Patterns are counted and the logo is a presence flag.
type RegionSet struct {
	Card      *Box
	IDNumber  *Box
	FirstName *Box
	LastName  *Box
	Patterns  []Box
	Logo      bool

	OtherDocuments []Box

	// Ignored counts detections whose class id is outside the known set.
	Ignored int
}

// PatternCount returns the number of security pattern marks.
func (r RegionSet) PatternCount() int {
	return len(r.Patterns)
}

// GatingSignal tells the caller whether the attempt must stop before
// extraction.
type GatingSignal struct {
	WrongDocument bool
	Regions       []Box
}

// Blocked reports whether downstream processing must be skipped.
func (g GatingSignal) Blocked() bool {
	return g.WrongDocument
}

// Interpret groups detections into a RegionSet.
//
// Any other-document detection short-circuits: the returned set only carries
// the offending regions and the gating signal is blocked. For single-valued
// roles (card, id number, first and last name) the last detection in input
// order wins.
func Interpret(detections []Detection) (RegionSet, GatingSignal) {
	var others []Box
	for _, d := range detections {
		if d.Class == ClassOtherDocument {
			others = append(others, d.Box)
		}
	}
	if len(others) > 0 {
		return RegionSet{OtherDocuments: others}, GatingSignal{WrongDocument: true, Regions: others}
	}

	var set RegionSet
	for _, d := range detections {
		box := d.Box
		switch d.Class {
		case ClassCard:
			set.Card = &box
		case ClassIDNumber:
			set.IDNumber = &box
		case ClassFirstName:
			set.FirstName = &box
		case ClassLastName:
			set.LastName = &box
		case ClassPattern:
			set.Patterns = append(set.Patterns, box)
		case ClassLogo:
			set.Logo = true
		default:
			set.Ignored++
		}
	}
	return set, GatingSignal{}
}
