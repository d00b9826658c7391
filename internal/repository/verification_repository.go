package repository

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/idgate/internal/retry"
)

// ReasonSeparator joins failure reasons in the failure_reasons column.
const ReasonSeparator = " | "

// VerificationRecord is a persisted verification attempt with its artifacts.
type VerificationRecord struct {
	ID                 uint      `gorm:"primaryKey"`
	VerificationID     string    `gorm:"column:verification_id;uniqueIndex;size:64"`
	DeviceID           string    `gorm:"column:device_id;size:64;index"`
	IDNumber           string    `gorm:"column:id_number;size:64"`
	FirstName          string    `gorm:"column:first_name;size:128"`
	LastName           string    `gorm:"column:last_name;size:128"`
	LogoFound          bool      `gorm:"column:logo_found"`
	PatternCount       int       `gorm:"column:pattern_count"`
	MatchVerdict       string    `gorm:"column:match_verdict;size:16"`
	Similarity         *float64  `gorm:"column:similarity"`
	SufficientEvidence bool      `gorm:"column:sufficient_evidence"`
	AccessGranted      bool      `gorm:"column:access_granted"`
	FailureReasons     string    `gorm:"column:failure_reasons;type:text"`
	AnnotatedImage     []byte    `gorm:"column:annotated_image"`
	FaceImage          []byte    `gorm:"column:face_image"`
	OTPVerified        bool      `gorm:"column:otp_verified"`
	ProcessingMs       int64     `gorm:"column:processing_ms"`
	CreatedAt          time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationRecord) TableName() string {
	return "verification_records"
}

// Reasons splits the stored failure reasons.
func (r *VerificationRecord) Reasons() []string {
	if r.FailureReasons == "" {
		return []string{}
	}
	return strings.Split(r.FailureReasons, ReasonSeparator)
}

// SetReasons joins reasons into the stored column.
func (r *VerificationRecord) SetReasons(reasons []string) {
	r.FailureReasons = strings.Join(reasons, ReasonSeparator)
}

// MetricsAggregation holds the raw aggregates over persisted attempts.
type MetricsAggregation struct {
	TotalCount                 int64
	GrantedCount               int64
	AverageSimilarity          float64
	AverageProcessingLatencyMs float64
}

// VerificationRepository provides persistence APIs for verification records.
type VerificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:             db,
		logger:         logger.Named("verification_repository"),
		retryAttempts:  retry.DefaultPolicy.Attempts,
		initialBackoff: retry.DefaultPolicy.InitialBackoff,
		maxBackoff:     retry.DefaultPolicy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&VerificationRecord{})
	})
}

// SaveRecord persists a verification attempt.
func (r *VerificationRepository) SaveRecord(ctx context.Context, rec *VerificationRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", rec.VerificationID, func() error {
		return r.db.WithContext(ctx).Create(rec).Error
	})
}

// FindByVerificationID loads a record. A missing record yields an error
// matching gorm.ErrRecordNotFound.
func (r *VerificationRepository) FindByVerificationID(ctx context.Context, verificationID string) (*VerificationRecord, error) {
	var rec VerificationRecord
	err := r.executeWithRetry(ctx, "repository.find_record", verificationID, func() error {
		return r.db.WithContext(ctx).First(&rec, "verification_id = ?", verificationID).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkOTPVerified flags the record as confirmed by a second factor.
func (r *VerificationRepository) MarkOTPVerified(ctx context.Context, verificationID string) error {
	return r.executeWithRetry(ctx, "repository.mark_otp_verified", verificationID, func() error {
		res := r.db.WithContext(ctx).
			Model(&VerificationRecord{}).
			Where("verification_id = ?", verificationID).
			Update("otp_verified", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// AggregateMetrics computes totals and averages over all records.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationRecord{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN access_granted THEN 1 ELSE 0 END), 0) AS granted_count, " +
				"COALESCE(AVG(similarity), 0) AS average_similarity, " +
				"COALESCE(AVG(processing_ms), 0) AS average_processing_latency_ms").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{Attempts: r.retryAttempts, InitialBackoff: r.initialBackoff, MaxBackoff: r.maxBackoff}
	err := retry.Do(ctx, r.logger, policy, operation, requestID, fn)
	if err != nil {
		r.logger.Error("repository operation failed", zap.String("operation", operation), zap.String("request_id", requestID), zap.Error(err))
	}
	return err
}
