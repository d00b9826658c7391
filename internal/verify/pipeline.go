// Package verify runs one verification attempt end to end: detection,
// interpretation, field extraction, face matching, the decision and the
// annotated overlay.
package verify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/example/idgate/internal/annotate"
	"github.com/example/idgate/internal/decision"
	"github.com/example/idgate/internal/detection"
	"github.com/example/idgate/internal/extract"
	"github.com/example/idgate/internal/facematch"
	"github.com/example/idgate/internal/imageprocessor"
)

// DefaultMaxConcurrency bounds the attempts that run inference at once.
const DefaultMaxConcurrency = 4

// Outcome is the result of a single attempt.
type Outcome struct {
	Verdict decision.Verdict
	// Annotated is nil when annotation is disabled.
	Annotated image.Image
	// LiveFace is the raw live face crop, nil when no usable live face exists.
	LiveFace image.Image
	Duration time.Duration
}

type options struct {
	maxConcurrency int64
	matcherOpts    []facematch.Option
	annotate       bool
	now            func() time.Time
}

// Option customizes a Pipeline.
type Option func(*options)

// WithMaxConcurrency limits concurrent attempts. Values below 1 are ignored.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrency = int64(n)
		}
	}
}

// WithThreshold overrides the face match threshold.
func WithThreshold(threshold float64) Option {
	return func(o *options) {
		o.matcherOpts = append(o.matcherOpts, facematch.WithThreshold(threshold))
	}
}

// WithAnnotation toggles the overlay.
func WithAnnotation(enabled bool) Option {
	return func(o *options) { o.annotate = enabled }
}

// WithClock replaces time.Now for duration measurement.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Pipeline is safe for concurrent use; attempts share nothing but the
// collaborators and the concurrency pool.
type Pipeline struct {
	collab  imageprocessor.Collaborators
	matcher *facematch.Matcher
	sem     *semaphore.Weighted
	logger  *zap.Logger
	opts    options
}

// NewPipeline validates the collaborators and builds a Pipeline.
func NewPipeline(collab imageprocessor.Collaborators, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	switch {
	case collab.Detector == nil:
		return nil, errors.New("verify: detector is required")
	case collab.Faces == nil:
		return nil, errors.New("verify: face detector is required")
	case collab.Recognizer == nil:
		return nil, errors.New("verify: text recognizer is required")
	case collab.Embedder == nil:
		return nil, errors.New("verify: embedder is required")
	}

	o := options{maxConcurrency: DefaultMaxConcurrency, annotate: true, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Pipeline{
		collab:  collab,
		matcher: facematch.NewMatcher(collab.Embedder, o.matcherOpts...),
		sem:     semaphore.NewWeighted(o.maxConcurrency),
		logger:  logger.Named("verify"),
		opts:    o,
	}, nil
}

// Run processes one decoded frame. Missing evidence is reported in the
// verdict; the error return carries collaborator failures (matching
// imageprocessor.ErrInference) and context cancellation.
func (p *Pipeline) Run(ctx context.Context, img image.Image) (*Outcome, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for verification slot: %w", err)
	}
	defer p.sem.Release(1)

	start := p.opts.now()

	dets, err := p.collab.Detector.Detect(ctx, img)
	if err != nil {
		return nil, imageprocessor.NewInferenceError("detect", err)
	}
	regions, gate := detection.Interpret(dets)

	if gate.Blocked() {
		v := decision.WrongDocument(gate)
		p.logger.Info("wrong document presented", zap.Int("regions", len(gate.Regions)))
		return p.finish(img, start, v, annotate.FromVerdict(dets, nil, nil, v), nil), nil
	}
	if regions.Ignored > 0 {
		p.logger.Debug("unknown detector classes ignored", zap.Int("count", regions.Ignored))
	}

	fields, err := p.readFields(ctx, img, regions)
	if err != nil {
		return nil, err
	}

	liveBox, cardBox, err := facematch.Locate(ctx, p.collab.Faces, img, regions.Card)
	if err != nil {
		return nil, err
	}

	var live, card *extract.FaceCrop
	if liveBox != nil {
		live = extract.Face(img, *liveBox, extract.ProvenanceLive)
	}
	if cardBox != nil {
		card = extract.Face(img, *cardBox, extract.ProvenanceCard)
	}

	match, err := p.matcher.Match(ctx, live, card)
	if err != nil {
		return nil, err
	}

	v := decision.Decide(decision.Input{
		Regions:  regions,
		Fields:   fields,
		LiveFace: liveBox != nil,
		Match:    match,
	})

	var liveImage image.Image
	if live != nil {
		liveImage = live.Image
	}
	return p.finish(img, start, v, annotate.FromVerdict(dets, liveBox, cardBox, v), liveImage), nil
}

func (p *Pipeline) readFields(ctx context.Context, img image.Image, regions detection.RegionSet) (decision.Fields, error) {
	var fields decision.Fields
	targets := []struct {
		box *detection.Box
		dst *string
	}{
		{regions.IDNumber, &fields.IDNumber},
		{regions.FirstName, &fields.FirstName},
		{regions.LastName, &fields.LastName},
	}
	for _, t := range targets {
		if t.box == nil {
			continue
		}
		text, err := extract.Text(ctx, p.collab.Recognizer, img, *t.box)
		if err != nil {
			return decision.Fields{}, err
		}
		*t.dst = text
	}
	return fields, nil
}

func (p *Pipeline) finish(img image.Image, start time.Time, v decision.Verdict, a annotate.Annotations, live image.Image) *Outcome {
	out := &Outcome{Verdict: v, LiveFace: live}
	if p.opts.annotate {
		out.Annotated = annotate.Render(img, a)
	}
	out.Duration = p.opts.now().Sub(start)

	p.logger.Info("verification finished",
		zap.Bool("access_granted", v.AccessGranted),
		zap.Bool("sufficient_evidence", v.SufficientEvidence),
		zap.String("match", string(v.Match.Verdict)),
		zap.Int("pattern_count", v.PatternCount),
		zap.Strings("failure_reasons", v.FailureReasons),
		zap.Duration("duration", out.Duration),
	)
	return out
}
