/*
errors.go - Error types for the quota engine

ERROR CATEGORIES:
  1. Input errors - invalid dates, unknown leave types, bad deltas
  2. Store errors - missing balances; everything else propagates from the
     store implementation unchanged
  3. Decision errors - quota exceeded (raised by the workflow only; the
     engine itself answers quota questions with a bool)

USAGE:
  if errors.Is(err, quota.ErrInvalidDate) {
      // re-validate input, never default to "now"
  }

SEE ALSO:
  - period.go: ParseDate
  - leave/request.go: wraps QuotaExceededError
*/
package quota

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDate is returned when a reference date is not a calendar date.
	ErrInvalidDate = errors.New("invalid date")

	// ErrBalanceNotFound is returned by stores when no balance exists for the key.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrInvalidDelta is returned when a usage delta is anything but +1 or -1.
	ErrInvalidDelta = errors.New("usage delta must be +1 or -1")

	// ErrUnknownLeaveType is returned when a tag is not a known leave type.
	ErrUnknownLeaveType = errors.New("unknown leave type")

	// ErrQuotaExceeded is returned by the workflow when a request is over quota.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidDateError describes a reference date that could not be interpreted.
type InvalidDateError struct {
	Input  string
	Reason string
}

func (e *InvalidDateError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("invalid date: %s", e.Reason)
	}
	return fmt.Sprintf("invalid date %q: %s", e.Input, e.Reason)
}

func (e *InvalidDateError) Unwrap() error { return ErrInvalidDate }

// UnknownLeaveTypeError names the rejected tag.
type UnknownLeaveTypeError struct {
	Tag string
}

func (e *UnknownLeaveTypeError) Error() string {
	return fmt.Sprintf("unknown leave type %q", e.Tag)
}

func (e *UnknownLeaveTypeError) Unwrap() error { return ErrUnknownLeaveType }

// QuotaExceededError reports which bucket refused a request and its state at
// decision time.
type QuotaExceededError struct {
	EmployeeID EmployeeID
	Period     Period
	Type       LeaveType
	Bucket     Bucket
	Used       int
	Limit      int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s for %s in %s (used %d of %d)",
		e.Type, e.EmployeeID, e.Period, e.Used, e.Limit)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// NewQuotaExceededError builds the error from the balance the decision was
// made against.
func NewQuotaExceededError(b Balance, t LeaveType) *QuotaExceededError {
	e := &QuotaExceededError{
		EmployeeID: b.EmployeeID,
		Period:     b.Period,
		Type:       t,
		Bucket:     t.Bucket(),
	}
	switch e.Bucket {
	case BucketFullDay:
		e.Used, e.Limit = b.FullDay.Used, b.FullDay.Limit()
	case BucketHalfDay:
		e.Used, e.Limit = b.HalfDay.Used, b.HalfDay.Limit()
	case BucketShort:
		e.Used, e.Limit = b.Short.Used, b.Short.Quota
	}
	return e
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidDelta) ||
		errors.Is(err, ErrUnknownLeaveType)
}

// IsNotFound returns true if the error indicates a missing balance.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBalanceNotFound)
}
