package promo

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed or missing mandatory data.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUntrainedModel is returned when estimation is requested before training.
	ErrUntrainedModel = errors.New("untrained model")
	// ErrFeatureMismatch marks drift between the trained and the inference feature set.
	ErrFeatureMismatch = errors.New("feature mismatch")
	// ErrCapacity marks an invalid slot or category budget.
	ErrCapacity = errors.New("capacity error")
	// ErrInvalidArm marks an arm the allocator does not recognise.
	ErrInvalidArm = errors.New("invalid arm")
)

// RecordError isolates a problem with a single record so the run can continue without it.
type RecordError struct {
	ProductID string
	Reason    string
	Err       error
}

// NewRecordError builds a RecordError wrapping ErrInvalidInput.
func NewRecordError(productID, reason string) *RecordError {
	return &RecordError{ProductID: productID, Reason: reason, Err: ErrInvalidInput}
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %q: %s: %v", e.ProductID, e.Reason, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
