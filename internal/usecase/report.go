package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/idgate/internal/decision"
	"github.com/example/idgate/internal/facematch"
	"github.com/example/idgate/internal/repository"
)

var (
	// ErrVerificationNotFound is returned for unknown verification ids.
	ErrVerificationNotFound = errors.New("verification not found")
	// ErrInvalidArtifact is returned for artifact names outside the known set.
	ErrInvalidArtifact = errors.New("invalid artifact name")
	// ErrArtifactNotFound is returned when a known artifact was never stored.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrVerificationMismatch is returned when an OTP confirmation names a
	// verification that belongs to another subject or did not grant access.
	ErrVerificationMismatch = errors.New("verification does not match subject")
)

// Artifact names served under /verifications/:id/:artifact.
const (
	ArtifactImage = "image"
	ArtifactFace  = "face"
	ArtifactOCR   = "ocr.txt"
	ArtifactLog   = "log.txt"
)

// VerificationReport is what callers learn about one attempt.
type VerificationReport struct {
	// VerificationID is empty when the attempt was not persisted.
	VerificationID string           `json:"id,omitempty"`
	DeviceID       string           `json:"device_id"`
	Verdict        decision.Verdict `json:"verdict"`
	HasFace        bool             `json:"has_face"`
	OTPVerified    bool             `json:"otp_verified"`
	ProcessingMs   int64            `json:"processing_ms"`
	CreatedAt      time.Time        `json:"created_at"`

	// AnnotatedImage is the JPEG overlay of the submitted frame.
	AnnotatedImage []byte `json:"-"`
}

// Persisted reports whether the attempt was stored.
func (r *VerificationReport) Persisted() bool {
	return r.VerificationID != ""
}

// Artifact is a downloadable file attached to a persisted verification.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

func recordFromReport(r *VerificationReport, face []byte) *repository.VerificationRecord {
	v := r.Verdict
	rec := &repository.VerificationRecord{
		VerificationID:     r.VerificationID,
		DeviceID:           r.DeviceID,
		IDNumber:           v.Fields.IDNumber,
		FirstName:          v.Fields.FirstName,
		LastName:           v.Fields.LastName,
		LogoFound:          v.LogoFound,
		PatternCount:       v.PatternCount,
		MatchVerdict:       string(v.Match.Verdict),
		Similarity:         v.Match.Similarity,
		SufficientEvidence: v.SufficientEvidence,
		AccessGranted:      v.AccessGranted,
		AnnotatedImage:     r.AnnotatedImage,
		FaceImage:          face,
		OTPVerified:        r.OTPVerified,
		ProcessingMs:       r.ProcessingMs,
		CreatedAt:          r.CreatedAt,
	}
	rec.SetReasons(v.FailureReasons)
	return rec
}

func reportFromRecord(rec *repository.VerificationRecord) *VerificationReport {
	return &VerificationReport{
		VerificationID: rec.VerificationID,
		DeviceID:       rec.DeviceID,
		Verdict: decision.Verdict{
			Fields: decision.Fields{
				IDNumber:  rec.IDNumber,
				FirstName: rec.FirstName,
				LastName:  rec.LastName,
			},
			LogoFound:          rec.LogoFound,
			PatternCount:       rec.PatternCount,
			Match:              facematch.Result{Similarity: rec.Similarity, Verdict: facematch.Verdict(rec.MatchVerdict)},
			SufficientEvidence: rec.SufficientEvidence,
			AccessGranted:      rec.AccessGranted,
			FailureReasons:     rec.Reasons(),
		},
		HasFace:        len(rec.FaceImage) > 0,
		OTPVerified:    rec.OTPVerified,
		ProcessingMs:   rec.ProcessingMs,
		CreatedAt:      rec.CreatedAt,
		AnnotatedImage: rec.AnnotatedImage,
	}
}

func ocrText(rec *repository.VerificationRecord) string {
	return fmt.Sprintf("ID Number: %s\nFirst Name: %s\nLast Name: %s\n", rec.IDNumber, rec.FirstName, rec.LastName)
}

func debugLog(rec *repository.VerificationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Face Match Result: %s\n", rec.MatchVerdict)
	if rec.Similarity != nil {
		fmt.Fprintf(&b, "Similarity: %.4f\n", *rec.Similarity)
	}
	fmt.Fprintf(&b, "Logo Found: %t\n", rec.LogoFound)
	fmt.Fprintf(&b, "Pattern Count: %d\n", rec.PatternCount)
	fmt.Fprintf(&b, "All Labels Detected: %t\n", rec.SufficientEvidence)
	fmt.Fprintf(&b, "Access Granted: %t\n", rec.AccessGranted)
	for _, reason := range rec.Reasons() {
		fmt.Fprintf(&b, "Failure: %s\n", reason)
	}
	fmt.Fprintf(&b, "Processing Time: %dms\n", rec.ProcessingMs)
	return b.String()
}
