package appErrors

import (
	"errors"
	"fmt"
)

// ConfigurationError is a sentinel error for invalid pacing or plan
// settings, rejected at plan-creation time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// Helper constructor
func NewConfigurationError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// RecipientResolutionError marks a contact whose address cannot be turned
// into a dispatch handle. The recipient is rejected, the plan is still
// created with the remainder.
type RecipientResolutionError struct {
	SourceID string
	Reason   string
}

func (e *RecipientResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve recipient %s: %s", e.SourceID, e.Reason)
}

func NewRecipientResolutionError(sourceID, reason string) error {
	return &RecipientResolutionError{SourceID: sourceID, Reason: reason}
}

// TransportTransientError wraps a retryable gateway failure. RateLimited
// distinguishes the gateway's throttle signal.
type TransportTransientError struct {
	RateLimited bool
	Err         error
}

func (e *TransportTransientError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("transport rate limited: %v", e.Err)
	}
	return fmt.Sprintf("transport transient failure: %v", e.Err)
}

func (e *TransportTransientError) Unwrap() error { return e.Err }

// TransportPermanentError wraps a gateway failure that retrying cannot fix.
type TransportPermanentError struct {
	Code int
	Err  error
}

func (e *TransportPermanentError) Error() string {
	return fmt.Sprintf("transport permanent failure (code %d): %v", e.Code, e.Err)
}

func (e *TransportPermanentError) Unwrap() error { return e.Err }

// PersistenceConflictError signals that the per-plan lock could not be
// acquired promptly; the caller should retry the operation.
type PersistenceConflictError struct {
	PlanID string
}

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("plan %s is being mutated concurrently, retry", e.PlanID)
}

func NewPersistenceConflict(planID string) error {
	return &PersistenceConflictError{PlanID: planID}
}

// ErrPlanNotFound is a sentinel error
type ErrPlanNotFound struct {
	PlanID string
}

func (e *ErrPlanNotFound) Error() string {
	return fmt.Sprintf("plan with ID %s not found", e.PlanID)
}

func NewPlanNotFound(id string) error {
	return &ErrPlanNotFound{PlanID: id}
}

// ErrContactNotFound is a sentinel error
type ErrContactNotFound struct {
	ContactID int
}

func (e *ErrContactNotFound) Error() string {
	return fmt.Sprintf("contact with ID %d not found", e.ContactID)
}

func NewContactNotFound(id int) error {
	return &ErrContactNotFound{ContactID: id}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var t *TransportTransientError
	return errors.As(err, &t)
}

// IsRateLimited reports whether err carries the gateway's throttle signal.
func IsRateLimited(err error) bool {
	var t *TransportTransientError
	return errors.As(err, &t) && t.RateLimited
}
