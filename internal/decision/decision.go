// Package decision reduces interpreted regions, extracted fields and the face
// match into an access verdict.
//
// Two predicates are computed independently. SufficientEvidence ("all labels
// detected") decides whether an attempt is worth persisting and needs at least
// MinEvidencePatterns patterns. AccessGranted ("verification valid") needs
// exactly RequiredPatterns patterns. The looser evidence rule is intentional
// and pending product confirmation.
package decision

import (
	"github.com/example/idgate/internal/detection"
	"github.com/example/idgate/internal/facematch"
)

const (
	MinEvidencePatterns = 1
	RequiredPatterns    = 2
)

// Failure reasons, in the order they are reported.
const (
	ReasonFaceMismatch        = "face does not match"
	ReasonInsufficientPattern = "insufficient pattern count"
	ReasonUnexpectedPattern   = "unexpected pattern count"
	ReasonLogoMissing         = "logo not found"
	ReasonIncompleteFields    = "incomplete identity fields"
	ReasonWrongDocument       = "wrong document type"
)

// Fields are the normalized texts read from the card.
type Fields struct {
	IDNumber  string `json:"id_number"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Complete reports whether every field is non-empty.
func (f Fields) Complete() bool {
	return f.IDNumber != "" && f.FirstName != "" && f.LastName != ""
}

// Input is everything the engine looks at for one attempt.
type Input struct {
	Regions  detection.RegionSet
	Fields   Fields
	LiveFace bool
	Match    facematch.Result
}

// Verdict is the terminal output of a verification attempt.
type Verdict struct {
	Fields             Fields           `json:"fields"`
	LogoFound          bool             `json:"logo_found"`
	PatternCount       int              `json:"pattern_count"`
	Match              facematch.Result `json:"match"`
	SufficientEvidence bool             `json:"sufficient_evidence"`
	AccessGranted      bool             `json:"access_granted"`
	FailureReasons     []string         `json:"failure_reasons"`

	WrongDocument  bool            `json:"wrong_document"`
	OtherDocuments []detection.Box `json:"other_documents,omitempty"`
}

// Decide computes the verdict. It never fails: missing evidence is encoded in
// the verdict fields.
func Decide(in Input) Verdict {
	patterns := in.Regions.PatternCount()
	logo := in.Regions.Logo
	matched := in.Match.Verdict == facematch.VerdictMatch

	v := Verdict{
		Fields:       in.Fields,
		LogoFound:    logo,
		PatternCount: patterns,
		Match:        in.Match,
		SufficientEvidence: logo &&
			patterns >= MinEvidencePatterns &&
			in.Match.Completed() &&
			in.LiveFace &&
			in.Fields.Complete(),
		AccessGranted:  matched && logo && patterns == RequiredPatterns,
		FailureReasons: []string{},
	}

	if !matched {
		v.FailureReasons = append(v.FailureReasons, ReasonFaceMismatch)
	}
	switch {
	case patterns < RequiredPatterns:
		v.FailureReasons = append(v.FailureReasons, ReasonInsufficientPattern)
	case patterns > RequiredPatterns:
		v.FailureReasons = append(v.FailureReasons, ReasonUnexpectedPattern)
	}
	if !logo {
		v.FailureReasons = append(v.FailureReasons, ReasonLogoMissing)
	}

	// access must imply evidence; only unreadable fields can break that here.
	if v.AccessGranted && !v.SufficientEvidence {
		v.AccessGranted = false
		v.FailureReasons = append(v.FailureReasons, ReasonIncompleteFields)
	}
	return v
}

// WrongDocument is the minimal verdict for an attempt gated on an
// other-document detection.
func WrongDocument(gate detection.GatingSignal) Verdict {
	return Verdict{
		Match:          facematch.Incomplete(),
		FailureReasons: []string{ReasonWrongDocument},
		WrongDocument:  true,
		OtherDocuments: gate.Regions,
	}
}
