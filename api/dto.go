/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  quota and leave domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

WIRE FORMAT:
  - Dates are YYYY-MM-DD (RFC3339 is also accepted on input)
  - Balance months are 0-11, alongside a "YYYY-MM" period string
  - Leave types are the snake_case tags of quota.LeaveType

VALIDATION:
  Request bodies carry go-playground/validator tags, checked in handlers
  before anything reaches the domain. Leave type tags and dates are parsed
  by the domain parsers so the error types stay the same everywhere.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/quota"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// QuotaCheckRequest asks whether a leave of Type fits in the month of Date.
type QuotaCheckRequest struct {
	Type string `json:"type" validate:"required"`
	Date string `json:"date" validate:"required"`
}

// UsageRequest is a manual ledger correction.
type UsageRequest struct {
	Type  string `json:"type" validate:"required"`
	Date  string `json:"date" validate:"required"`
	Delta int    `json:"delta" validate:"required,oneof=1 -1"`
}

// SubmitLeaveRequest creates a pending leave request.
type SubmitLeaveRequest struct {
	Type      string `json:"type" validate:"required"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date,omitempty"`
	Reason    string `json:"reason,omitempty" validate:"max=500"`
}

// DecisionRequest is the body of approve, reject and cancel.
type DecisionRequest struct {
	ActorID string `json:"actor_id,omitempty" validate:"max=100"`
	Note    string `json:"note,omitempty" validate:"max=500"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AllowanceDTO is a full-day or half-day bucket.
type AllowanceDTO struct {
	Quota          int `json:"quota"`
	Used           int `json:"used"`
	CarriedForward int `json:"carried_forward"`
	Remaining      int `json:"remaining"`
}

// ShortAllowanceDTO is the short-leave bucket.
type ShortAllowanceDTO struct {
	Quota     int `json:"quota"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// AvailabilityDTO reports which buckets would accept one more leave,
// mutual exclusion included.
type AvailabilityDTO struct {
	FullDay bool `json:"full_day"`
	HalfDay bool `json:"half_day"`
	Short   bool `json:"short"`
}

// BalanceDTO represents one employee-month in API responses.
type BalanceDTO struct {
	ID         string            `json:"id"`
	EmployeeID string            `json:"employee_id"`
	Year       int               `json:"year"`
	Month      int               `json:"month"` // 0-11
	Period     string            `json:"period"`
	FullDay    AllowanceDTO      `json:"full_day"`
	HalfDay    AllowanceDTO      `json:"half_day"`
	Short      ShortAllowanceDTO `json:"short"`
	Available  AvailabilityDTO   `json:"available"`
	CreatedAt  time.Time         `json:"created_at"`
}

// QuotaCheckDTO is the answer to a quota check.
type QuotaCheckDTO struct {
	EmployeeID string     `json:"employee_id"`
	Type       string     `json:"type"`
	Bucket     string     `json:"bucket"`
	HasQuota   bool       `json:"has_quota"`
	Balance    BalanceDTO `json:"balance"`
}

// RequestDTO represents a leave request in API responses.
type RequestDTO struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	Type       string    `json:"type"`
	Bucket     string    `json:"bucket"`
	StartDate  string    `json:"start_date"`
	EndDate    string    `json:"end_date"`
	Reason     string    `json:"reason,omitempty"`
	Status     string    `json:"status"`
	DecidedBy  string    `json:"decided_by,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// QuotaExceededDTO details a refusal.
type QuotaExceededDTO struct {
	Period string `json:"period"`
	Type   string `json:"type"`
	Bucket string `json:"bucket"`
	Used   int    `json:"used"`
	Limit  int    `json:"limit"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

const dateLayout = "2006-01-02"

func toBalanceDTO(b quota.Balance) BalanceDTO {
	return BalanceDTO{
		ID:         b.ID,
		EmployeeID: string(b.EmployeeID),
		Year:       b.Period.Year,
		Month:      b.Period.ZeroBasedMonth(),
		Period:     b.Period.String(),
		FullDay:    toAllowanceDTO(b.FullDay),
		HalfDay:    toAllowanceDTO(b.HalfDay),
		Short: ShortAllowanceDTO{
			Quota:     b.Short.Quota,
			Used:      b.Short.Used,
			Remaining: b.Short.Unused(),
		},
		Available: AvailabilityDTO{
			FullDay: quota.Allows(b, quota.BucketFullDay),
			HalfDay: quota.Allows(b, quota.BucketHalfDay),
			Short:   quota.Allows(b, quota.BucketShort),
		},
		CreatedAt: b.CreatedAt,
	}
}

func toAllowanceDTO(a quota.Allowance) AllowanceDTO {
	return AllowanceDTO{
		Quota:          a.Quota,
		Used:           a.Used,
		CarriedForward: a.CarriedForward,
		Remaining:      a.Unused(),
	}
}

func toBalanceDTOs(bs []quota.Balance) []BalanceDTO {
	dtos := make([]BalanceDTO, 0, len(bs))
	for _, b := range bs {
		dtos = append(dtos, toBalanceDTO(b))
	}
	return dtos
}

func toRequestDTO(r leave.Request) RequestDTO {
	return RequestDTO{
		ID:         r.ID,
		EmployeeID: string(r.EmployeeID),
		Type:       string(r.Type),
		Bucket:     string(r.Type.Bucket()),
		StartDate:  r.StartDate.Format(dateLayout),
		EndDate:    r.EndDate.Format(dateLayout),
		Reason:     r.Reason,
		Status:     string(r.Status),
		DecidedBy:  r.DecidedBy,
		Note:       r.Note,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func toRequestDTOs(rs []leave.Request) []RequestDTO {
	dtos := make([]RequestDTO, 0, len(rs))
	for _, r := range rs {
		dtos = append(dtos, toRequestDTO(r))
	}
	return dtos
}
