package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/idgate/internal/auth"
	"github.com/example/idgate/internal/imageprocessor"
	"github.com/example/idgate/internal/otp"
	"github.com/example/idgate/internal/usecase"
)

// MaxUploadSize is the largest accepted frame.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for part headers and boundaries.
const multipartOverhead = 1 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

// VerificationService is the use case surface the routes depend on.
type VerificationService interface {
	Verify(ctx context.Context, deviceID string, imageBytes []byte) (*usecase.VerificationReport, error)
	GetResult(ctx context.Context, verificationID string) (*usecase.VerificationReport, error)
	GetArtifact(ctx context.Context, verificationID, name string) (*usecase.Artifact, error)
	SendOTP(ctx context.Context, subjectID string) error
	VerifyOTP(ctx context.Context, subjectID, code, verificationID string) (otp.Result, error)
	RaiseSecurityAlarm(ctx context.Context, subjectID, verificationID string) error
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc VerificationService, authMiddleware gin.HandlerFunc) {
	router.Use(MetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handler{svc: svc}
	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.POST("/verifications", h.createVerification)
	protected.GET("/verifications/:id", h.getVerification)
	protected.GET("/verifications/:id/:artifact", h.getArtifact)
	protected.POST("/otp/send", h.sendOTP)
	protected.POST("/otp/verify", h.verifyOTP)
	protected.POST("/security/alarm", h.securityAlarm)
	protected.GET("/metrics/summary", h.metricsSummary)
}

type handler struct {
	svc VerificationService
}

func (h *handler) createVerification(c *gin.Context) {
	deviceID, ok := auth.GetDeviceID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)
	file, err := c.FormFile("image")
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image uploaded"})
		return
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}
	if !allowedImageType(file.Header.Get("Content-Type")) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be JPEG or PNG"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	report, err := h.svc.Verify(c.Request.Context(), deviceID, data)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if report.Persisted() {
		status = http.StatusCreated
	}
	c.JSON(status, verificationBody(report, true))
}

func (h *handler) getVerification(c *gin.Context) {
	report, err := h.svc.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verificationBody(report, false))
}

func (h *handler) getArtifact(c *gin.Context) {
	artifact, err := h.svc.GetArtifact(c.Request.Context(), c.Param("id"), c.Param("artifact"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

type subjectRequest struct {
	StudentID string `json:"student_id"`
}

type verifyOTPRequest struct {
	StudentID      string `json:"student_id"`
	OTPCode        string `json:"otp_code"`
	VerificationID string `json:"verification_id"`
}

type alarmRequest struct {
	StudentID      string `json:"student_id"`
	VerificationID string `json:"verification_id"`
}

func (h *handler) sendOTP(c *gin.Context) {
	var req subjectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StudentID == "" {
		fail(c, http.StatusBadRequest, "Student ID is required")
		return
	}
	if !otp.ValidSubjectID(req.StudentID) {
		fail(c, http.StatusBadRequest, "Invalid student ID format")
		return
	}

	if err := h.svc.SendOTP(c.Request.Context(), req.StudentID); err != nil {
		fail(c, http.StatusInternalServerError, "Failed to send OTP")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "OTP sent successfully to your student email"})
}

func (h *handler) verifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StudentID == "" || req.OTPCode == "" {
		fail(c, http.StatusBadRequest, "Student ID and OTP code are required")
		return
	}
	if !otp.ValidSubjectID(req.StudentID) {
		fail(c, http.StatusBadRequest, "Invalid student ID format")
		return
	}
	if !otp.ValidCode(req.OTPCode) {
		fail(c, http.StatusBadRequest, "Invalid OTP format")
		return
	}

	res, err := h.svc.VerifyOTP(c.Request.Context(), req.StudentID, req.OTPCode, req.VerificationID)
	if err != nil {
		if errors.Is(err, usecase.ErrVerificationNotFound) {
			fail(c, http.StatusNotFound, "Verification not found")
			return
		}
		if errors.Is(err, usecase.ErrVerificationMismatch) {
			fail(c, http.StatusConflict, "Verification does not belong to this student")
			return
		}
		fail(c, http.StatusInternalServerError, "Failed to verify OTP")
		return
	}

	status := http.StatusOK
	if !res.OK {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"success": res.OK, "message": res.Reason.Message(), "reason": res.Reason})
}

func (h *handler) securityAlarm(c *gin.Context) {
	var req alarmRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StudentID == "" || req.VerificationID == "" {
		fail(c, http.StatusBadRequest, "Student ID and verification ID are required")
		return
	}
	if !otp.ValidSubjectID(req.StudentID) {
		fail(c, http.StatusBadRequest, "Invalid student ID format")
		return
	}

	err := h.svc.RaiseSecurityAlarm(c.Request.Context(), req.StudentID, req.VerificationID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Security alarm sent"})
	case errors.Is(err, usecase.ErrVerificationNotFound):
		fail(c, http.StatusNotFound, "Verification not found")
	case errors.Is(err, usecase.ErrArtifactNotFound):
		fail(c, http.StatusNotFound, "Annotated image not found")
	default:
		fail(c, http.StatusInternalServerError, "Failed to send security alarm")
	}
}

func (h *handler) metricsSummary(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func verificationBody(r *usecase.VerificationReport, includeImage bool) gin.H {
	v := r.Verdict
	body := gin.H{
		"device_id":           r.DeviceID,
		"id_number":           v.Fields.IDNumber,
		"first_name":          v.Fields.FirstName,
		"last_name":           v.Fields.LastName,
		"logo_found":          v.LogoFound,
		"pattern_count":       v.PatternCount,
		"face_match_result":   v.Match.Verdict,
		"similarity":          v.Match.Similarity,
		"all_labels_detected": v.SufficientEvidence,
		"verification_valid":  v.AccessGranted,
		"failure_reasons":     v.FailureReasons,
		"wrong_document":      v.WrongDocument,
		"otp_verified":        r.OTPVerified,
		"processing_ms":       r.ProcessingMs,
		"created_at":          r.CreatedAt,
	}
	if v.WrongDocument {
		body["error"] = "Other ID detected"
	}
	if includeImage && len(r.AnnotatedImage) > 0 {
		body["annotated_image_base64"] = base64.StdEncoding.EncodeToString(r.AnnotatedImage)
	}
	if r.Persisted() {
		prefix := "/verifications/" + r.VerificationID + "/"
		body["id"] = r.VerificationID
		body["annotated_image_url"] = prefix + usecase.ArtifactImage
		body["ocr_text_url"] = prefix + usecase.ArtifactOCR
		body["debug_log_url"] = prefix + usecase.ArtifactLog
		body["face_image_url"] = nil
		if r.HasFace {
			body["face_image_url"] = prefix + usecase.ArtifactFace
		}
	}
	return body
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, imageprocessor.ErrInvalidImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image format"})
	case errors.Is(err, imageprocessor.ErrInference):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "verification processing error"})
	case errors.Is(err, usecase.ErrVerificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Verification not found"})
	case errors.Is(err, usecase.ErrInvalidArtifact), errors.Is(err, usecase.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

func allowedImageType(header string) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return allowedImageTypes[strings.ToLower(mediaType)]
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
