package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/idgate/internal/annotate"
	"github.com/example/idgate/internal/imageprocessor"
	"github.com/example/idgate/internal/logging"
	"github.com/example/idgate/internal/otp"
	"github.com/example/idgate/internal/repository"
	"github.com/example/idgate/internal/retry"
	"github.com/example/idgate/internal/verify"
)

// ResultTTL is how long a verification summary stays in the cache.
const ResultTTL = 5 * time.Minute

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveRecord(ctx context.Context, rec *repository.VerificationRecord) error
	FindByVerificationID(ctx context.Context, verificationID string) (*repository.VerificationRecord, error)
	MarkOTPVerified(ctx context.Context, verificationID string) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Verifier runs the verification pipeline on a decoded frame.
type Verifier interface {
	Run(ctx context.Context, img image.Image) (*verify.Outcome, error)
}

// OTPManager issues and checks one-time passcodes.
type OTPManager interface {
	Issue(ctx context.Context, subjectID string) (string, error)
	Verify(ctx context.Context, subjectID, code string) (otp.Result, error)
}

// Notifier delivers codes and alarms.
type Notifier interface {
	SendOTP(ctx context.Context, subjectID, code string) error
	SendSecurityAlarm(ctx context.Context, subjectID string, at time.Time) error
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	repo           VerificationRepository
	cache          Cache
	verifier       Verifier
	otp            OTPManager
	notifier       Notifier
	logger         *zap.Logger
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(repo VerificationRepository, cache Cache, verifier Verifier, otpManager OTPManager, notifier Notifier, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		repo:           repo,
		cache:          cache,
		verifier:       verifier,
		otp:            otpManager,
		notifier:       notifier,
		logger:         logger.Named("verification_usecase"),
		now:            time.Now,
		retryAttempts:  retry.DefaultPolicy.Attempts,
		initialBackoff: retry.DefaultPolicy.InitialBackoff,
		maxBackoff:     retry.DefaultPolicy.MaxBackoff,
	}
}

// Verify decodes the frame, runs the pipeline and persists the attempt when
// the evidence is sufficient. The error matches imageprocessor.ErrInvalidImage
// for undecodable input and imageprocessor.ErrInference for collaborator
// failures.
func (uc *VerificationUseCase) Verify(ctx context.Context, deviceID string, imageBytes []byte) (*VerificationReport, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify", requestID)

	img, err := imageprocessor.Decode(imageBytes)
	if err != nil {
		verificationsTotal.WithLabelValues(outcomeInvalidImage).Inc()
		opLogger.Info("rejected undecodable frame", zap.Error(err))
		return nil, err
	}

	outcome, err := uc.verifier.Run(ctx, img)
	if err != nil {
		verificationsTotal.WithLabelValues(outcomeError).Inc()
		wrapped := logging.NewOperationError("usecase.run_pipeline", requestID, err)
		opLogger.Error("verification pipeline failed", zap.Error(wrapped), zap.Strings("operations", logging.Operations(wrapped)))
		return nil, wrapped
	}
	verificationDuration.Observe(outcome.Duration.Seconds())
	verificationsTotal.WithLabelValues(outcomeLabel(outcome)).Inc()

	report := &VerificationReport{
		DeviceID:     deviceID,
		Verdict:      outcome.Verdict,
		HasFace:      outcome.LiveFace != nil,
		ProcessingMs: outcome.Duration.Milliseconds(),
		CreatedAt:    uc.now().UTC(),
	}
	if outcome.Annotated != nil {
		if report.AnnotatedImage, err = annotate.EncodeJPEG(outcome.Annotated); err != nil {
			return nil, logging.NewOperationError("usecase.encode_annotated", requestID, err)
		}
	}

	if !outcome.Verdict.SufficientEvidence {
		opLogger.Info("attempt not persisted", zap.Strings("failure_reasons", outcome.Verdict.FailureReasons))
		return report, nil
	}

	var face []byte
	if outcome.LiveFace != nil {
		if face, err = annotate.EncodeJPEG(outcome.LiveFace); err != nil {
			return nil, logging.NewOperationError("usecase.encode_face", requestID, err)
		}
	}

	report.VerificationID = requestID
	if err := uc.repo.SaveRecord(ctx, recordFromReport(report, face)); err != nil {
		wrapped := logging.NewOperationError("usecase.save_record", requestID, err)
		opLogger.Error("failed to persist verification", zap.Error(wrapped), zap.Strings("operations", logging.Operations(wrapped)))
		return nil, wrapped
	}
	uc.cacheReport(ctx, report)

	opLogger.Info("verification persisted", zap.Bool("access_granted", report.Verdict.AccessGranted))
	return report, nil
}

// GetResult retrieves a cached verification report or loads it from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, verificationID string) (*VerificationReport, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", verificationID)

	if cached, err := uc.withRedisGet(ctx, verificationID, "cache.get.result", cacheKey(verificationID)); err == nil {
		var report VerificationReport
		if err := json.Unmarshal([]byte(cached), &report); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else {
			return &report, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	rec, err := uc.findRecord(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	report := reportFromRecord(rec)
	uc.cacheReport(ctx, report)
	return report, nil
}

// GetArtifact returns one of the files attached to a persisted verification.
func (uc *VerificationUseCase) GetArtifact(ctx context.Context, verificationID, name string) (*Artifact, error) {
	switch name {
	case ArtifactImage, ArtifactFace, ArtifactOCR, ArtifactLog:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidArtifact, name)
	}

	rec, err := uc.findRecord(ctx, verificationID)
	if err != nil {
		return nil, err
	}

	switch name {
	case ArtifactImage:
		return jpegArtifact(name, rec.AnnotatedImage)
	case ArtifactFace:
		return jpegArtifact(name, rec.FaceImage)
	case ArtifactOCR:
		return &Artifact{Name: name, ContentType: "text/plain; charset=utf-8", Data: []byte(ocrText(rec))}, nil
	default:
		return &Artifact{Name: name, ContentType: "text/plain; charset=utf-8", Data: []byte(debugLog(rec))}, nil
	}
}

func jpegArtifact(name string, data []byte) (*Artifact, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	return &Artifact{Name: name, ContentType: "image/jpeg", Data: data}, nil
}

func (uc *VerificationUseCase) findRecord(ctx context.Context, verificationID string) (*repository.VerificationRecord, error) {
	rec, err := uc.repo.FindByVerificationID(ctx, verificationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVerificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// cacheReport refreshes the cached summary. Persistence already succeeded, so
// a cache failure is only logged.
func (uc *VerificationUseCase) cacheReport(ctx context.Context, report *VerificationReport) {
	opLogger := logging.WithOperation(uc.logger, "usecase.cache_report", report.VerificationID)

	serialized, err := json.Marshal(report)
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, report.VerificationID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey(report.VerificationID), string(serialized), ResultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache verification result", zap.Error(err))
	}
}

func cacheKey(verificationID string) string {
	return fmt.Sprintf("verification:%s", verificationID)
}

func outcomeLabel(o *verify.Outcome) string {
	switch {
	case o.Verdict.WrongDocument:
		return outcomeWrongDocument
	case o.Verdict.AccessGranted:
		return outcomeGranted
	default:
		return outcomeDenied
	}
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	policy := retry.Policy{Attempts: uc.retryAttempts, InitialBackoff: uc.initialBackoff, MaxBackoff: uc.maxBackoff}
	return retry.Do(ctx, uc.logger, policy, operation, requestID, fn)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, key string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
