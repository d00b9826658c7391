package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/idgate/internal/logging"
	"github.com/example/idgate/internal/otp"
)

// SendOTP issues a code for subjectID and mails it. When delivery fails the
// issued code stays valid and the caller may resend.
func (uc *VerificationUseCase) SendOTP(ctx context.Context, subjectID string) error {
	opLogger := logging.WithOperation(uc.logger, "usecase.send_otp", "")

	code, err := uc.otp.Issue(ctx, subjectID)
	if err != nil {
		return logging.NewOperationError("usecase.issue_otp", "", err)
	}
	otpIssuedTotal.Inc()

	if err := uc.notifier.SendOTP(ctx, subjectID, code); err != nil {
		wrapped := logging.NewOperationError("usecase.deliver_otp", "", err)
		opLogger.Error("otp delivery failed", zap.String("subject_id", subjectID), zap.Error(wrapped))
		return wrapped
	}
	return nil
}

// VerifyOTP checks code for subjectID. With a verification id the record must
// exist, carry subjectID as its id number and have granted access; only then
// is the code consumed, and a successful check marks the record as confirmed
// by the second factor.
func (uc *VerificationUseCase) VerifyOTP(ctx context.Context, subjectID, code, verificationID string) (otp.Result, error) {
	if verificationID != "" {
		rec, err := uc.findRecord(ctx, verificationID)
		if err != nil {
			return otp.Result{}, err
		}
		if rec.IDNumber != subjectID || !rec.AccessGranted {
			logging.WithOperation(uc.logger, "usecase.verify_otp", verificationID).
				Warn("otp confirmation rejected for mismatched verification",
					zap.String("subject_id", subjectID),
					zap.Bool("access_granted", rec.AccessGranted))
			return otp.Result{}, ErrVerificationMismatch
		}
	}

	res, err := uc.otp.Verify(ctx, subjectID, code)
	if err != nil {
		return otp.Result{}, logging.NewOperationError("usecase.verify_otp", verificationID, err)
	}
	otpVerificationsTotal.WithLabelValues(string(res.Reason)).Inc()

	if res.OK && verificationID != "" {
		if err := uc.repo.MarkOTPVerified(ctx, verificationID); err != nil {
			return res, logging.NewOperationError("usecase.mark_otp_verified", verificationID, err)
		}
		if rec, err := uc.findRecord(ctx, verificationID); err == nil {
			uc.cacheReport(ctx, reportFromRecord(rec))
		}
	}
	return res, nil
}

// RaiseSecurityAlarm mails the card owner of a persisted verification.
func (uc *VerificationUseCase) RaiseSecurityAlarm(ctx context.Context, subjectID, verificationID string) error {
	rec, err := uc.findRecord(ctx, verificationID)
	if err != nil {
		return err
	}
	if len(rec.AnnotatedImage) == 0 {
		return ErrArtifactNotFound
	}

	if err := uc.notifier.SendSecurityAlarm(ctx, subjectID, uc.now()); err != nil {
		wrapped := logging.NewOperationError("usecase.security_alarm", verificationID, err)
		uc.logger.Error("security alarm delivery failed", zap.Error(wrapped))
		return wrapped
	}
	logging.WithOperation(uc.logger, "usecase.security_alarm", verificationID).
		Warn("security alarm raised", zap.String("subject_id", subjectID))
	return nil
}
