package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaushalicodelabs/erp-leave/quota"
)

// RequestStore persists leave requests.
type RequestStore interface {
	// CreateRequest persists a new request.
	CreateRequest(ctx context.Context, r Request) error

	// GetRequest returns the request, or ErrRequestNotFound.
	GetRequest(ctx context.Context, id string) (Request, error)

	// ListRequests returns the employee's requests, newest start date first.
	ListRequests(ctx context.Context, employeeID quota.EmployeeID) ([]Request, error)

	// TransitionRequest moves the request from one status to another only if it is
	// currently in from. Returns ErrStatusConflict otherwise. No transition
	// rules are checked here; that is the service's job.
	TransitionRequest(ctx context.Context, id string, from, to Status, actor, note string, at time.Time) (Request, error)
}

var (
	// ErrRequestNotFound is returned when no request has the given ID.
	ErrRequestNotFound = errors.New("leave request not found")

	// ErrStatusConflict is returned when a request changed status concurrently.
	ErrStatusConflict = errors.New("leave request status changed concurrently")

	// ErrInvalidTransition is returned for moves the status machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidRequest is returned when a submission fails validation.
	ErrInvalidRequest = errors.New("invalid leave request")

	// ErrOverlappingRequest is returned when a submission covers a day an
	// active request of the same employee already covers.
	ErrOverlappingRequest = errors.New("leave request overlaps an active request")
)

// OverlapError names the active request a submission collides with.
type OverlapError struct {
	Existing Request
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlaps %s request %s (%s to %s)", e.Existing.Status, e.Existing.ID,
		e.Existing.StartDate.Format("2006-01-02"), e.Existing.EndDate.Format("2006-01-02"))
}

func (e *OverlapError) Unwrap() error { return ErrOverlappingRequest }

// TransitionError names the forbidden move.
type TransitionError struct {
	RequestID string
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot move from %s to %s", e.RequestID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
