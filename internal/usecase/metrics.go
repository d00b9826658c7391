package usecase

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels of idgate_verifications_total.
const (
	outcomeGranted       = "granted"
	outcomeDenied        = "denied"
	outcomeWrongDocument = "wrong_document"
	outcomeInvalidImage  = "invalid_image"
	outcomeError         = "error"
)

var (
	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idgate_verifications_total",
			Help: "Total number of verification attempts by outcome",
		},
		[]string{"outcome"},
	)

	verificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idgate_verification_duration_seconds",
			Help:    "Verification pipeline duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	otpIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idgate_otp_issued_total",
			Help: "Total number of issued one-time passcodes",
		},
	)

	otpVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idgate_otp_verifications_total",
			Help: "Total number of OTP verifications by reason",
		},
		[]string{"reason"},
	)
)

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalVerifications         int64   `json:"total_verifications"`
	GrantedVerifications       int64   `json:"granted_verifications"`
	GrantRate                  float64 `json:"grant_rate"`
	AverageSimilarity          float64 `json:"average_similarity"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates verification metrics from persisted records.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalVerifications:         aggregation.TotalCount,
		GrantedVerifications:       aggregation.GrantedCount,
		AverageSimilarity:          aggregation.AverageSimilarity,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.GrantRate = float64(aggregation.GrantedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
