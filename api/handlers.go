/*
handlers.go - HTTP API handlers for the leave-quota service

PURPOSE:
  Exposes the quota engine and the leave-request workflow via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  quota and leave packages.

ENDPOINTS:
  Balances:
    GET    /api/employees/{id}/balance?date=    Resolve the month containing date
    GET    /api/employees/{id}/balances         Monthly history, oldest first
    POST   /api/employees/{id}/quota-check      {type, date} -> has_quota
    POST   /api/employees/{id}/usage            {type, date, delta} manual correction

  Requests:
    POST   /api/employees/{id}/requests         Submit a leave request
    GET    /api/employees/{id}/requests         List an employee's requests
    GET    /api/requests/{id}                   Get one request
    POST   /api/requests/{id}/approve           Approve (charges quota)
    POST   /api/requests/{id}/reject            Reject (refunds if approved)
    POST   /api/requests/{id}/cancel            Cancel (refunds if approved)

  Scenarios (scenarios.go):
    GET    /api/scenarios                       List demo scenarios
    POST   /api/scenarios/load                  Run one for a new demo employee

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags, then domain parsers)
  3. Call the resolver, ledger or request service
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  - 400: Validation errors, invalid dates, unknown leave types, bad deltas
  - 404: Request or balance not found
  - 409: Status transition not allowed, lost a concurrent transition,
         or overlapping leave days
  - 422: Quota exceeded
  - 500: Storage and other internal errors

SECURITY NOTE:
  No authentication. Actor IDs in decision bodies are trusted as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/quota"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *quota.Ledger
	Balances quota.Store
	Requests *leave.RequestService

	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new handler. A nil logger discards output.
func NewHandler(ledger *quota.Ledger, balances quota.Store, requests *leave.RequestService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		Ledger:   ledger,
		Balances: balances,
		Requests: requests,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance resolves the balance for the month containing ?date=.
// GET /api/employees/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	employeeID := quota.EmployeeID(chi.URLParam(r, "id"))

	date, err := quota.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	b, err := h.Ledger.Resolver().Resolve(r.Context(), employeeID, date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// ListBalances returns every month the employee has a balance for.
// GET /api/employees/{id}/balances
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	employeeID := quota.EmployeeID(chi.URLParam(r, "id"))

	bs, err := h.Balances.ListByEmployee(r.Context(), employeeID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs(bs))
}

// CheckQuota answers whether a leave fits, without recording anything
// beyond creating the month's balance.
// POST /api/employees/{id}/quota-check
func (h *Handler) CheckQuota(w http.ResponseWriter, r *http.Request) {
	employeeID := quota.EmployeeID(chi.URLParam(r, "id"))

	var req QuotaCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	lt, err := quota.ParseLeaveType(req.Type)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	date, err := quota.ParseDate(req.Date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	b, err := h.Ledger.Resolver().Resolve(r.Context(), employeeID, date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QuotaCheckDTO{
		EmployeeID: string(employeeID),
		Type:       string(lt),
		Bucket:     string(lt.Bucket()),
		HasQuota:   quota.HasQuota(b, lt),
		Balance:    toBalanceDTO(b),
	})
}

// ApplyUsage applies a manual +1/-1 correction and returns the new balance.
// POST /api/employees/{id}/usage
func (h *Handler) ApplyUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	employeeID := quota.EmployeeID(chi.URLParam(r, "id"))

	var req UsageRequest
	if !h.decode(w, r, &req) {
		return
	}
	lt, err := quota.ParseLeaveType(req.Type)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	date, err := quota.ParseDate(req.Date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if err := h.Ledger.ApplyUsage(ctx, employeeID, lt, date, req.Delta); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.logger.Info("manual usage correction",
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("employee_id", string(employeeID)),
		slog.String("type", string(lt)),
		slog.String("period", quota.PeriodOf(date).String()),
		slog.Int("delta", req.Delta),
	)

	b, err := h.Ledger.Resolver().Resolve(ctx, employeeID, date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates a pending leave request.
// POST /api/employees/{id}/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	employeeID := quota.EmployeeID(chi.URLParam(r, "id"))

	var req SubmitLeaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	lt, err := quota.ParseLeaveType(req.Type)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	start, err := quota.ParseDate(req.StartDate)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var end time.Time
	if req.EndDate != "" {
		if end, err = quota.ParseDate(req.EndDate); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}

	created, err := h.Requests.Submit(r.Context(), leave.SubmitInput{
		EmployeeID: employeeID,
		Type:       lt,
		StartDate:  start,
		EndDate:    end,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(created))
}

// ListRequests returns an employee's requests, newest first.
// GET /api/employees/{id}/requests
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	employeeID := quota.EmployeeID(chi.URLParam(r, "id"))

	rs, err := h.Requests.ListByEmployee(r.Context(), employeeID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(rs))
}

// GetRequest returns one request.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// ApproveRequest approves a pending request.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(ctx context.Context, id string, d DecisionRequest) (leave.Request, error) {
		return h.Requests.Approve(ctx, id, d.ActorID)
	})
}

// RejectRequest rejects a pending request, or rolls back an approved one.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(ctx context.Context, id string, d DecisionRequest) (leave.Request, error) {
		return h.Requests.Reject(ctx, id, d.ActorID, d.Note)
	})
}

// CancelRequest cancels a pending or approved request.
// POST /api/requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(ctx context.Context, id string, d DecisionRequest) (leave.Request, error) {
		return h.Requests.Cancel(ctx, id, d.ActorID, d.Note)
	})
}

type decision func(ctx context.Context, id string, d DecisionRequest) (leave.Request, error)

// decide reads an optional decision body and runs fn. The body may be empty.
func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn decision) {
	var d DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(d); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}
	if d.ActorID == "" {
		d.ActorID = "admin"
	}

	req, err := fn(r.Context(), chi.URLParam(r, "id"), d)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness and, when the store supports it, database health.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Balances.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// writeDomainError maps quota and leave errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var qe *quota.QuotaExceededError
	switch {
	case errors.As(err, &qe):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "Quota exceeded",
			Code:  "quota_exceeded",
			Details: QuotaExceededDTO{
				Period: qe.Period.String(),
				Type:   string(qe.Type),
				Bucket: string(qe.Bucket),
				Used:   qe.Used,
				Limit:  qe.Limit,
			},
		})
	case errors.Is(err, quota.ErrInvalidDate):
		writeCodedError(w, http.StatusBadRequest, "Invalid date", "invalid_date", err)
	case errors.Is(err, quota.ErrUnknownLeaveType):
		writeCodedError(w, http.StatusBadRequest, "Unknown leave type", "unknown_leave_type", err)
	case errors.Is(err, quota.ErrInvalidDelta):
		writeCodedError(w, http.StatusBadRequest, "Invalid delta", "invalid_delta", err)
	case errors.Is(err, leave.ErrInvalidRequest):
		writeCodedError(w, http.StatusBadRequest, "Invalid leave request", "invalid_request", err)
	case errors.Is(err, leave.ErrRequestNotFound):
		writeCodedError(w, http.StatusNotFound, "Request not found", "not_found", err)
	case quota.IsNotFound(err):
		writeCodedError(w, http.StatusNotFound, "Balance not found", "not_found", err)
	case errors.Is(err, leave.ErrInvalidTransition):
		writeCodedError(w, http.StatusConflict, "Status transition not allowed", "invalid_transition", err)
	case errors.Is(err, leave.ErrStatusConflict):
		writeCodedError(w, http.StatusConflict, "Request changed concurrently", "status_conflict", err)
	case errors.Is(err, leave.ErrOverlappingRequest):
		writeCodedError(w, http.StatusConflict, "Request overlaps an active request", "overlapping_request", err)
	default:
		h.logger.Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeCodedError(w http.ResponseWriter, status int, message, code string, err error) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}
