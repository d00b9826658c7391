package facematch

import (
	"context"
	"errors"
	"math"

	"github.com/example/idgate/internal/extract"
	"github.com/example/idgate/internal/imageprocessor"
)

// Threshold is the cosine similarity a pair must strictly exceed to match.
const Threshold = 0.6

// Verdict is the outcome of a face comparison.
type Verdict string

const (
	VerdictMatch      Verdict = "match"
	VerdictNoMatch    Verdict = "no_match"
	VerdictIncomplete Verdict = "incomplete"
)

// Result holds the comparison verdict and, when both faces were available,
// the similarity score.
type Result struct {
	Similarity *float64 `json:"similarity,omitempty"`
	Verdict    Verdict  `json:"verdict"`
}

// Incomplete is the result when either face is missing.
func Incomplete() Result {
	return Result{Verdict: VerdictIncomplete}
}

// Completed reports whether an actual comparison took place.
func (r Result) Completed() bool {
	return r.Verdict != VerdictIncomplete
}

// Matcher compares face crops through an embedding collaborator.
type Matcher struct {
	embedder  imageprocessor.Embedder
	threshold float64
}

// Option customizes a Matcher.
type Option func(*Matcher)

// WithThreshold replaces the default similarity threshold.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.threshold = threshold
	}
}

// NewMatcher builds a Matcher on top of embedder.
func NewMatcher(embedder imageprocessor.Embedder, opts ...Option) *Matcher {
	m := &Matcher{embedder: embedder, threshold: Threshold}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match embeds both crops and compares them. A nil crop yields an incomplete
// result without touching the embedder.
func (m *Matcher) Match(ctx context.Context, live, card *extract.FaceCrop) (Result, error) {
	if live == nil || card == nil {
		return Incomplete(), nil
	}

	liveEmb, err := m.embedder.Embed(ctx, live.Tensor)
	if err != nil {
		return Result{}, imageprocessor.NewInferenceError("embed", err)
	}
	cardEmb, err := m.embedder.Embed(ctx, card.Tensor)
	if err != nil {
		return Result{}, imageprocessor.NewInferenceError("embed", err)
	}

	similarity, err := CosineSimilarity(liveEmb, cardEmb)
	if err != nil {
		return Result{}, imageprocessor.NewInferenceError("embed", err)
	}

	verdict := VerdictNoMatch
	if similarity > m.threshold {
		verdict = VerdictMatch
	}
	return Result{Similarity: &similarity, Verdict: verdict}, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// A zero vector yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, errors.New("empty embedding")
	}
	if len(a) != len(b) {
		return 0, errors.New("embedding length mismatch")
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	s := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, s)), nil
}
