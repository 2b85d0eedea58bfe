// Package leave implements the leave-request workflow on top of the quota
// engine: submission with a quota check, approval that records usage, and
// rejection or cancellation that rolls usage back.
package leave

import (
	"fmt"
	"time"

	"github.com/kaushalicodelabs/erp-leave/quota"
)

// =============================================================================
// REQUEST
// =============================================================================

// Request is a leave request. Only Type and StartDate matter to the quota
// engine: the start date selects the month that is charged.
type Request struct {
	ID         string
	EmployeeID quota.EmployeeID
	Type       quota.LeaveType
	StartDate  time.Time
	EndDate    time.Time
	Reason     string
	Status     Status
	DecidedBy  string
	Note       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// =============================================================================
// STATUS MACHINE
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// transitions lists the allowed moves. approved -> rejected corrects an
// erroneous approval and rolls usage back like a cancellation.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusCancelled, StatusRejected},
}

// CanTransition reports whether a request in s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return len(transitions[s]) == 0 }

// CalendarDate returns the calendar day of t, read in t's own location, as
// midnight UTC. Request dates are stored and compared in this form so the
// month a request is charged to never depends on an offset or time.Local.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Active reports whether the request still claims its days.
func (s Status) Active() bool { return s == StatusPending || s == StatusApproved }

// ParseStatus validates a status tag.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown request status %q", s)
	}
}

// =============================================================================
// ENFORCEMENT MODE
// =============================================================================

// Enforcement selects how approval charges quota.
type Enforcement string

const (
	// EnforceAtomic checks and charges quota in one conditional store update.
	EnforceAtomic Enforcement = "atomic"

	// EnforceLegacy charges with an unconditional +1 after the submit-time
	// check. Concurrent approvals can take usage past the quota.
	EnforceLegacy Enforcement = "legacy"
)

// ParseEnforcement validates an enforcement mode.
func ParseEnforcement(s string) (Enforcement, error) {
	switch e := Enforcement(s); e {
	case EnforceAtomic, EnforceLegacy:
		return e, nil
	default:
		return "", fmt.Errorf("unknown quota enforcement %q", s)
	}
}
