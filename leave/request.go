package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaushalicodelabs/erp-leave/metrics"
	"github.com/kaushalicodelabs/erp-leave/quota"
)

// =============================================================================
// REQUEST SERVICE - Orchestrates resolve -> policy -> ledger
// =============================================================================

// RequestService drives the leave-request lifecycle against the quota engine.
//
// Every move into approved charges one unit of usage, before the status
// changes. Every move out of approved (cancel, or reject as a correction)
// refunds one unit after the status changes; a failed refund puts the
// request back into approved.
type RequestService struct {
	ledger      *quota.Ledger
	store       RequestStore
	enforcement Enforcement
	logger      *slog.Logger
	now         func() time.Time
}

// NewRequestService wires the workflow. A nil logger discards output and an
// empty enforcement defaults to EnforceAtomic.
func NewRequestService(ledger *quota.Ledger, store RequestStore, enforcement Enforcement, logger *slog.Logger) *RequestService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if enforcement == "" {
		enforcement = EnforceAtomic
	}
	return &RequestService{
		ledger:      ledger,
		store:       store,
		enforcement: enforcement,
		logger:      logger,
		now:         time.Now,
	}
}

// SubmitInput is a new leave request.
type SubmitInput struct {
	EmployeeID quota.EmployeeID
	Type       quota.LeaveType
	StartDate  time.Time
	EndDate    time.Time // zero means a single-day request
	Reason     string
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit validates the request, checks quota for the month of its start date
// and stores it as pending. Over-quota submissions fail with
// *quota.QuotaExceededError and nothing is stored.
func (rs *RequestService) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	if strings.TrimSpace(string(in.EmployeeID)) == "" {
		return Request{}, fmt.Errorf("%w: employee id is required", ErrInvalidRequest)
	}
	if !in.Type.Known() {
		return Request{}, &quota.UnknownLeaveTypeError{Tag: string(in.Type)}
	}
	if in.StartDate.IsZero() {
		return Request{}, &quota.InvalidDateError{Reason: "start date is required"}
	}
	in.StartDate = CalendarDate(in.StartDate)
	if in.EndDate.IsZero() {
		in.EndDate = in.StartDate
	}
	in.EndDate = CalendarDate(in.EndDate)
	if in.EndDate.Before(in.StartDate) {
		return Request{}, fmt.Errorf("%w: end date before start date", ErrInvalidRequest)
	}
	if err := rs.checkOverlap(ctx, in); err != nil {
		return Request{}, err
	}

	bal, err := rs.ledger.Resolver().Resolve(ctx, in.EmployeeID, in.StartDate)
	if err != nil {
		return Request{}, err
	}
	allowed := quota.HasQuota(bal, in.Type)
	metrics.RecordDecision(string(in.Type.Bucket()), allowed)
	if !allowed {
		return Request{}, quota.NewQuotaExceededError(bal, in.Type)
	}

	now := rs.now().UTC()
	req := Request{
		ID:         uuid.NewString(),
		EmployeeID: in.EmployeeID,
		Type:       in.Type,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		Reason:     in.Reason,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := rs.store.CreateRequest(ctx, req); err != nil {
		return Request{}, fmt.Errorf("store request: %w", err)
	}
	rs.logger.Info("leave request submitted",
		slog.String("request_id", req.ID),
		slog.String("employee_id", string(req.EmployeeID)),
		slog.String("type", string(req.Type)),
		slog.String("period", quota.PeriodOf(req.StartDate).String()),
	)
	return req, nil
}

// checkOverlap refuses a submission that shares a calendar day with a
// pending or approved request of the same employee. An employee cannot be
// off twice on the same day, whatever the leave types.
func (rs *RequestService) checkOverlap(ctx context.Context, in SubmitInput) error {
	existing, err := rs.store.ListRequests(ctx, in.EmployeeID)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}
	for _, r := range existing {
		if !r.Status.Active() {
			continue
		}
		if !CalendarDate(r.EndDate).Before(in.StartDate) && !in.EndDate.Before(CalendarDate(r.StartDate)) {
			return &OverlapError{Existing: r}
		}
	}
	return nil
}

// =============================================================================
// APPROVE - Charges one unit of usage
// =============================================================================

// Approve charges the request's bucket and then moves it from pending to
// approved. The charge comes first so a refused consume never leaves an
// approved request behind: a concurrent cancel sees pending and refunds
// nothing. If the status move is lost after a successful charge, the charge
// is released before the error is returned.
func (rs *RequestService) Approve(ctx context.Context, id, approverID string) (Request, error) {
	current, err := rs.store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !current.Status.CanTransition(StatusApproved) {
		return Request{}, &TransitionError{RequestID: id, From: current.Status, To: StatusApproved}
	}

	if err := rs.charge(ctx, current); err != nil {
		return Request{}, err
	}

	approved, err := rs.store.TransitionRequest(ctx, id, current.Status, StatusApproved, approverID, "", rs.now().UTC())
	if err != nil {
		rs.release(ctx, current, err)
		return Request{}, err
	}

	rs.logger.Info("leave request approved",
		slog.String("request_id", id),
		slog.String("employee_id", string(approved.EmployeeID)),
		slog.String("approver_id", approverID),
		slog.String("enforcement", string(rs.enforcement)),
	)
	return approved, nil
}

// maxConsumeAttempts bounds how often a refused consume is retried when the
// balance read afterwards would allow the leave.
const maxConsumeAttempts = 3

func (rs *RequestService) charge(ctx context.Context, req Request) error {
	day := CalendarDate(req.StartDate)
	if rs.enforcement == EnforceLegacy {
		return rs.ledger.ApplyUsage(ctx, req.EmployeeID, req.Type, day, 1)
	}

	for attempt := 1; ; attempt++ {
		ok, err := rs.ledger.Consume(ctx, req.EmployeeID, req.Type, day)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		bal, err := rs.ledger.Resolver().Resolve(ctx, req.EmployeeID, day)
		if err != nil {
			return err
		}
		// A refund landed between the refusal and the read. Report only a
		// balance that actually refuses, or try again.
		if !quota.Allows(bal, req.Type.Bucket()) || attempt == maxConsumeAttempts {
			return quota.NewQuotaExceededError(bal, req.Type)
		}
	}
}

// release undoes the charge of an approval whose status move failed.
func (rs *RequestService) release(ctx context.Context, req Request, cause error) {
	err := rs.ledger.ApplyUsage(ctx, req.EmployeeID, req.Type, CalendarDate(req.StartDate), -1)
	if err != nil {
		rs.logger.Error("failed to release usage of an unapproved request",
			slog.String("request_id", req.ID),
			slog.String("employee_id", string(req.EmployeeID)),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
		return
	}
	rs.logger.Warn("approval lost its status change, usage released",
		slog.String("request_id", req.ID),
		slog.String("cause", cause.Error()),
	)
}

// =============================================================================
// REJECT / CANCEL - Refund usage when leaving approved
// =============================================================================

// Reject moves a request to rejected. Rejecting an approved request corrects
// an erroneous approval and refunds its usage.
func (rs *RequestService) Reject(ctx context.Context, id, actorID, reason string) (Request, error) {
	return rs.close(ctx, id, StatusRejected, actorID, reason)
}

// Cancel moves a request to cancelled, refunding usage if it was approved.
func (rs *RequestService) Cancel(ctx context.Context, id, actorID, reason string) (Request, error) {
	return rs.close(ctx, id, StatusCancelled, actorID, reason)
}

func (rs *RequestService) close(ctx context.Context, id string, to Status, actorID, note string) (Request, error) {
	current, err := rs.store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !current.Status.CanTransition(to) {
		return Request{}, &TransitionError{RequestID: id, From: current.Status, To: to}
	}

	closed, err := rs.store.TransitionRequest(ctx, id, current.Status, to, actorID, note, rs.now().UTC())
	if err != nil {
		return Request{}, err
	}

	if current.Status == StatusApproved {
		if err := rs.refund(ctx, closed); err != nil {
			rs.revert(ctx, closed, current)
			return Request{}, err
		}
	}

	rs.logger.Info("leave request closed",
		slog.String("request_id", id),
		slog.String("from", string(current.Status)),
		slog.String("to", string(to)),
		slog.String("actor_id", actorID),
	)
	return closed, nil
}

func (rs *RequestService) refund(ctx context.Context, req Request) error {
	bucket := req.Type.Bucket()
	if bucket != quota.BucketNone {
		bal, err := rs.ledger.Resolver().Resolve(ctx, req.EmployeeID, CalendarDate(req.StartDate))
		if err != nil {
			return err
		}
		if bal.UsedIn(bucket) <= 0 {
			rs.logger.Warn("refunding usage that was never recorded",
				slog.String("request_id", req.ID),
				slog.String("employee_id", string(req.EmployeeID)),
				slog.String("period", bal.Period.String()),
				slog.String("bucket", string(bucket)),
			)
		}
	}
	return rs.ledger.ApplyUsage(ctx, req.EmployeeID, req.Type, CalendarDate(req.StartDate), -1)
}

// revert puts a request back into the status it had before a transition
// whose ledger write failed. Losing that compare-and-set leaves the request
// and the ledger out of step, so it is logged either way.
func (rs *RequestService) revert(ctx context.Context, moved, previous Request) {
	_, err := rs.store.TransitionRequest(ctx, moved.ID, moved.Status, previous.Status, previous.DecidedBy, previous.Note, rs.now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, ErrStatusConflict):
		rs.logger.Warn("leave request changed before its status could be reverted",
			slog.String("request_id", moved.ID),
			slog.String("from", string(moved.Status)),
			slog.String("to", string(previous.Status)),
		)
	default:
		rs.logger.Error("failed to revert leave request status",
			slog.String("request_id", moved.ID),
			slog.String("from", string(moved.Status)),
			slog.String("to", string(previous.Status)),
			slog.String("error", err.Error()),
		)
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a request by ID.
func (rs *RequestService) Get(ctx context.Context, id string) (Request, error) {
	return rs.store.GetRequest(ctx, id)
}

// ListByEmployee returns the employee's requests.
func (rs *RequestService) ListByEmployee(ctx context.Context, employeeID quota.EmployeeID) ([]Request, error) {
	return rs.store.ListRequests(ctx, employeeID)
}
