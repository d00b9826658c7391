// Package notify delivers OTP codes and security alarms to subjects.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Notifier sends messages to the mailbox of a subject id.
type Notifier interface {
	SendOTP(ctx context.Context, subjectID, code string) error
	SendSecurityAlarm(ctx context.Context, subjectID string, at time.Time) error
}

// LogNotifier only logs deliveries. It is meant for local development.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

// SendOTP logs the delivery instead of sending it.
func (n *LogNotifier) SendOTP(ctx context.Context, subjectID, code string) error {
	n.logger.Info("otp delivery skipped", zap.String("subject_id", subjectID), zap.String("code", code))
	return nil
}

// SendSecurityAlarm logs the alarm.
func (n *LogNotifier) SendSecurityAlarm(ctx context.Context, subjectID string, at time.Time) error {
	n.logger.Warn("security alarm", zap.String("subject_id", subjectID), zap.Time("at", at))
	return nil
}
