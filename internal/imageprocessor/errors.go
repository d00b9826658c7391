package imageprocessor

import (
	"errors"
	"fmt"
)

// ErrInvalidImage is returned when an uploaded frame cannot be decoded.
var ErrInvalidImage = errors.New("invalid image format")

// ErrInference matches every InferenceError through errors.Is.
var ErrInference = errors.New("inference failure")

// InferenceError reports a failing inference collaborator. Callers treat it as
// a transient processing error.
type InferenceError struct {
	Capability string
	Err        error
}

func (e *InferenceError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Capability, e.Err)
}

func (e *InferenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is makes errors.Is(err, ErrInference) true for any InferenceError.
func (e *InferenceError) Is(target error) bool {
	return target == ErrInference
}

// NewInferenceError wraps err as an infrastructure failure of capability.
func NewInferenceError(capability string, err error) error {
	if err == nil {
		return nil
	}
	var existing *InferenceError
	if errors.As(err, &existing) {
		return err
	}
	return &InferenceError{Capability: capability, Err: err}
}
