package models

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrPredictorUnavailable is returned by ML predictors that are absent,
// failing or fast-failing behind an open circuit breaker
var ErrPredictorUnavailable = errors.New("ml predictor unavailable")

// ValidationError describes a sensor field that was missing or out of range
type ValidationError struct {
	Field  string
	Reason string
	Value  float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err (or any joined error) is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// BatchComputationError is delivered to every waiter of a batch whose flush failed
type BatchComputationError struct {
	BatchID string
	Err     error
}

func (e *BatchComputationError) Error() string {
	return fmt.Sprintf("batch %s computation failed: %v", e.BatchID, e.Err)
}

func (e *BatchComputationError) Unwrap() error { return e.Err }

func rangeReason(lo, hi float64) string {
	return "must be between " + strconv.FormatFloat(lo, 'f', -1, 64) + " and " + strconv.FormatFloat(hi, 'f', -1, 64)
}
