package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies flow errors by how the user recovers from them.
type ErrorKind string

const (
	// malformed transfer parameters, fatal to flow construction
	KindValidation ErrorKind = "validation"
	// gateway construction or connectivity failure, fatal to the current attempt
	KindSession ErrorKind = "session"
	// broadcast rejected or cancelled, scoped to one stage
	KindSubmission ErrorKind = "submission"
	// resume hash missing from the local store
	KindRecovery ErrorKind = "recovery"
)

type FlowError struct {
	Kind      ErrorKind
	Stage     Stage  // set for submission errors
	Field     string // set for validation errors
	Retryable bool
	Err       error
}

func (e *FlowError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s error (%s): %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

// Fatal errors halt the state machine until the user navigates away.
func (e *FlowError) Fatal() bool {
	return e.Kind == KindValidation || e.Kind == KindSession
}

func NewValidationError(field, msg string) *FlowError {
	return &FlowError{Kind: KindValidation, Field: field, Err: errors.New(msg)}
}

func NewSessionError(err error, retryable bool) *FlowError {
	return &FlowError{Kind: KindSession, Retryable: retryable, Err: err}
}

func NewSubmissionError(stage Stage, err error) *FlowError {
	return &FlowError{Kind: KindSubmission, Stage: stage, Retryable: true, Err: err}
}

func NewRecoveryError(err error) *FlowError {
	return &FlowError{Kind: KindRecovery, Retryable: false, Err: err}
}

// AsFlowError extracts a *FlowError from an error chain
func AsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
