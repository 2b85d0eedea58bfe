/*
scenarios.go - Demo scenario loaders

PURPOSE:

	Pre-built scenarios that drive the real workflow (submit, approve, cancel)
	for a throwaway employee, so the quota rules can be demonstrated against
	any store without hand-crafting requests.

AVAILABLE SCENARIOS:

	march-request:     March full-day quota used up, the next full day refused
	mutual-exclusion:  A half-day blocks full-day leave for the month
	year-rollover:     Unused December quota carries into January
	cancel-refund:     Cancelling an approved leave gives the quota back

Every scenario reads the configured allotment, so the number of approvals
follows QUOTA_FULL_DAY and QUOTA_HALF_DAY. A scenario that cannot be shown
with the configured allotment (eg. QUOTA_FULL_DAY=0) is reported as not
applicable and refuses to load with 409.

HOW SCENARIOS WORK:
 1. Generate a fresh employee ID (demo-<scenario>-<suffix>)
 2. Submit and decide requests through the RequestService
 3. Return the employee ID and a log of what happened

Nothing is reset; each load adds one more demo employee.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "mutual-exclusion"}
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/quota"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Applicable  bool   `json:"applicable"`
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ScenarioResultDTO reports what a scenario did.
type ScenarioResultDTO struct {
	ScenarioID string       `json:"scenario_id"`
	EmployeeID string       `json:"employee_id"`
	Steps      []string     `json:"steps"`
	Balances   []BalanceDTO `json:"balances"`
}

type scenario struct {
	ScenarioDTO
	applies func(a quota.Allotment) bool
	load    func(ctx context.Context, s *scenarioRun) error
}

// maxDemoFullDays bounds the full days a scenario books. Year rollover books
// twice this many January days, one per calendar day.
const maxDemoFullDays = 12

func fullDaysFit(a quota.Allotment) bool {
	return a.FullDay >= 1 && a.FullDay <= maxDemoFullDays
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "march-request",
			Name:        "March Request",
			Description: "Casual full-days from March 10 are approved up to the quota; the next full-day that month is refused",
		},
		applies: fullDaysFit,
		load:    loadMarchRequest,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "mutual-exclusion",
			Name:        "Full/Half Mutual Exclusion",
			Description: "One approved half-day blocks every full-day leave for the rest of the month",
		},
		applies: func(a quota.Allotment) bool { return fullDaysFit(a) && a.HalfDay >= 1 },
		load:    loadMutualExclusion,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "year-rollover",
			Name:        "Year Rollover",
			Description: "An unused December carries its full and half days into January",
		},
		applies: fullDaysFit,
		load:    loadYearRollover,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "cancel-refund",
			Name:        "Cancel and Refund",
			Description: "Cancelling an approved sick day restores the month's quota",
		},
		applies: fullDaysFit,
		load:    loadCancelRefund,
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	allotment := h.Ledger.Resolver().Allotment()
	dtos := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		dto := s.ScenarioDTO
		dto.Applicable = s.applies(allotment)
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario runs a scenario for a new demo employee.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var found *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			found = &scenarios[i]
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "Scenario not found", fmt.Errorf("unknown scenario %q", req.ScenarioID))
		return
	}
	allotment := h.Ledger.Resolver().Allotment()
	if !found.applies(allotment) {
		writeCodedError(w, http.StatusConflict, "Scenario not applicable", "scenario_not_applicable",
			fmt.Errorf("scenario %s cannot run with full_day=%d half_day=%d", found.ID, allotment.FullDay, allotment.HalfDay))
		return
	}

	ctx := r.Context()
	run := &scenarioRun{
		h:          h,
		allotment:  allotment,
		employeeID: quota.EmployeeID(fmt.Sprintf("demo-%s-%s", found.ID, strings.Split(uuid.NewString(), "-")[0])),
	}
	if err := found.load(ctx, run); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("scenario %s: %w", found.ID, err))
		return
	}

	balances, err := h.Balances.ListByEmployee(ctx, run.employeeID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioResultDTO{
		ScenarioID: found.ID,
		EmployeeID: string(run.employeeID),
		Steps:      run.steps,
		Balances:   toBalanceDTOs(balances),
	})
}

// =============================================================================
// SCENARIO RUN HELPERS
// =============================================================================

type scenarioRun struct {
	h          *Handler
	allotment  quota.Allotment
	employeeID quota.EmployeeID
	steps      []string
}

func (s *scenarioRun) logf(format string, args ...any) {
	s.steps = append(s.steps, fmt.Sprintf(format, args...))
}

func (s *scenarioRun) submit(ctx context.Context, lt quota.LeaveType, start time.Time) (leave.Request, error) {
	req, err := s.h.Requests.Submit(ctx, leave.SubmitInput{
		EmployeeID: s.employeeID,
		Type:       lt,
		StartDate:  start,
		Reason:     "demo",
	})
	if err != nil {
		return leave.Request{}, err
	}
	s.logf("submitted %s for %s", lt, start.Format(dateLayout))
	return req, nil
}

func (s *scenarioRun) submitAndApprove(ctx context.Context, lt quota.LeaveType, start time.Time) (leave.Request, error) {
	req, err := s.submit(ctx, lt, start)
	if err != nil {
		return leave.Request{}, err
	}
	approved, err := s.h.Requests.Approve(ctx, req.ID, "demo-manager")
	if err != nil {
		return leave.Request{}, err
	}
	s.logf("approved %s for %s", lt, start.Format(dateLayout))
	return approved, nil
}

// expectRefusal submits a request that must be refused for quota.
func (s *scenarioRun) expectRefusal(ctx context.Context, lt quota.LeaveType, start time.Time) error {
	_, err := s.submit(ctx, lt, start)
	var qe *quota.QuotaExceededError
	if errors.As(err, &qe) {
		s.logf("refused %s for %s: %s used %d of %d", lt, start.Format(dateLayout), qe.Bucket, qe.Used, qe.Limit)
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s for %s was accepted but should have been refused", lt, start.Format(dateLayout))
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// approveDays approves n consecutive days of lt starting at first and
// returns the day after the last one.
func (s *scenarioRun) approveDays(ctx context.Context, lt quota.LeaveType, first time.Time, n int) (time.Time, error) {
	d := first
	for range n {
		if _, err := s.submitAndApprove(ctx, lt, d); err != nil {
			return time.Time{}, err
		}
		d = d.AddDate(0, 0, 1)
	}
	return d, nil
}

func loadMarchRequest(ctx context.Context, s *scenarioRun) error {
	next, err := s.approveDays(ctx, quota.CasualFull, day(2025, time.March, 10), s.allotment.FullDay)
	if err != nil {
		return err
	}
	return s.expectRefusal(ctx, quota.CasualFull, next)
}

func loadMutualExclusion(ctx context.Context, s *scenarioRun) error {
	if _, err := s.submitAndApprove(ctx, quota.CasualHalf, day(2025, time.April, 2)); err != nil {
		return err
	}
	if err := s.expectRefusal(ctx, quota.SickFull, day(2025, time.April, 15)); err != nil {
		return err
	}
	if s.allotment.HalfDay < 2 {
		return s.expectRefusal(ctx, quota.SickHalf, day(2025, time.April, 16))
	}
	// The second half-day still fits
	_, err := s.submitAndApprove(ctx, quota.SickHalf, day(2025, time.April, 16))
	return err
}

func loadYearRollover(ctx context.Context, s *scenarioRun) error {
	resolver := s.h.Ledger.Resolver()
	dec, err := resolver.Resolve(ctx, s.employeeID, day(2024, time.December, 1))
	if err != nil {
		return err
	}
	s.logf("opened %s with nothing used", dec.Period)

	jan, err := resolver.Resolve(ctx, s.employeeID, day(2025, time.January, 1))
	if err != nil {
		return err
	}
	s.logf("opened %s carrying %d full and %d half days", jan.Period, jan.FullDay.CarriedForward, jan.HalfDay.CarriedForward)

	// January's own quota plus December's carry
	next, err := s.approveDays(ctx, quota.SickFull, day(2025, time.January, 6), jan.FullDay.Limit())
	if err != nil {
		return err
	}
	return s.expectRefusal(ctx, quota.CasualFull, next)
}

func loadCancelRefund(ctx context.Context, s *scenarioRun) error {
	approved, err := s.submitAndApprove(ctx, quota.SickFull, day(2025, time.May, 5))
	if err != nil {
		return err
	}
	next, err := s.approveDays(ctx, quota.SickFull, day(2025, time.May, 6), s.allotment.FullDay-1)
	if err != nil {
		return err
	}
	if err := s.expectRefusal(ctx, quota.CasualFull, next); err != nil {
		return err
	}
	if _, err := s.h.Requests.Cancel(ctx, approved.ID, string(s.employeeID), "plans changed"); err != nil {
		return err
	}
	s.logf("cancelled %s for %s", approved.Type, approved.StartDate.Format(dateLayout))
	_, err = s.submitAndApprove(ctx, quota.CasualFull, next)
	return err
}
