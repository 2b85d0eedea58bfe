/*
resolver.go - Lazy creation of monthly balances

PURPOSE:
  Answers "what is this employee's balance for the month containing this
  date?". The first time that question is asked for a month, the balance is
  created with carry-forward computed from the preceding month.

CARRY-FORWARD:
  full = max(0, prev.FullDay.Quota + prev.FullDay.CarriedForward - prev.FullDay.Used)
  half = max(0, prev.HalfDay.Quota + prev.HalfDay.CarriedForward - prev.HalfDay.Used)
  short never carries. A month with no balance contributes nothing.

  The value is frozen at creation. Later changes to the preceding month do
  not touch a balance that already exists.

CONCURRENCY:
  Two callers resolving the same missing month both compute a candidate and
  race on InsertIfAbsent. The store keeps one; both callers return it.

SEE ALSO:
  - store.go: InsertIfAbsent contract
  - ledger.go: resolves before every usage change
*/
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kaushalicodelabs/erp-leave/metrics"
)

// Resolver returns, creating on first access, the balance for an employee's month.
type Resolver struct {
	store     Store
	allotment Allotment
	logger    *slog.Logger
	now       func() time.Time
}

// NewResolver creates a resolver. A nil logger discards output.
func NewResolver(store Store, allotment Allotment, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		store:     store,
		allotment: allotment,
		logger:    logger,
		now:       time.Now,
	}
}

// Allotment returns the quota given to newly created balances.
func (r *Resolver) Allotment() Allotment { return r.allotment }

// Resolve returns the balance of the month containing referenceDate. On a hit
// the stored balance is returned without side effects.
func (r *Resolver) Resolve(ctx context.Context, employeeID EmployeeID, referenceDate time.Time) (Balance, error) {
	if err := checkDate(referenceDate); err != nil {
		return Balance{}, err
	}
	period := PeriodOf(referenceDate)

	bal, err := r.store.Find(ctx, employeeID, period)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return Balance{}, fmt.Errorf("find balance %s %s: %w", employeeID, period, err)
	}

	carryFull, carryHalf, err := r.carryFrom(ctx, employeeID, period.Previous())
	if err != nil {
		return Balance{}, err
	}

	candidate := Balance{
		ID:         uuid.NewString(),
		EmployeeID: employeeID,
		Period:     period,
		FullDay:    Allowance{Quota: r.allotment.FullDay, CarriedForward: carryFull},
		HalfDay:    Allowance{Quota: r.allotment.HalfDay, CarriedForward: carryHalf},
		Short:      ShortAllowance{Quota: r.allotment.Short},
		CreatedAt:  r.now().UTC(),
	}

	stored, created, err := r.store.InsertIfAbsent(ctx, candidate)
	if err != nil {
		return Balance{}, fmt.Errorf("create balance %s %s: %w", employeeID, period, err)
	}
	if created {
		metrics.BalancesCreated.Inc()
		r.logger.Debug("balance created",
			slog.String("employee_id", string(employeeID)),
			slog.String("period", period.String()),
			slog.Int("carry_full", carryFull),
			slog.Int("carry_half", carryHalf),
		)
	}
	return stored, nil
}

// carryFrom loads the preceding month and computes what rolls over from it.
func (r *Resolver) carryFrom(ctx context.Context, employeeID EmployeeID, prev Period) (int, int, error) {
	prevBal, err := r.store.Find(ctx, employeeID, prev)
	if errors.Is(err, ErrBalanceNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("find previous balance %s %s: %w", employeeID, prev, err)
	}
	full, half := CarryForward(prevBal)
	return full, half, nil
}

// CarryForward returns the full-day and half-day amounts that roll over from
// prev into the next month. Short leave never carries.
func CarryForward(prev Balance) (full, half int) {
	return prev.FullDay.Unused(), prev.HalfDay.Unused()
}
