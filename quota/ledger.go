/*
ledger.go - Usage counters of a balance

PURPOSE:
  Applies signed usage changes: +1 when a leave is approved, -1 when an
  approved leave is cancelled or an approval is rolled back.

CONTRACT:
  - The balance is resolved first, so a month with no activity gets a fresh
    zero-usage record before the change lands.
  - The leave type maps to exactly one bucket; untracked types are a no-op.
  - The change is a storage-side atomic increment. It is never clamped:
    policy is enforced at decision time, not here.
  - Each call applies exactly once. Nothing is retried.

CONSUME:
  Consume is the race-free alternative to HasQuota followed by
  ApplyUsage(+1). The store checks the same rules as HasQuota and increments
  in one statement, so two concurrent approvals cannot both take the last
  unit of quota.

SEE ALSO:
  - policy.go: the rules Consume enforces
  - leave/request.go: the workflow that drives the ledger
*/
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaushalicodelabs/erp-leave/metrics"
)

// Ledger applies usage changes to resolved balances.
type Ledger struct {
	resolver *Resolver
	store    Store
	logger   *slog.Logger
}

// NewLedger creates a ledger over the resolver's store.
func NewLedger(resolver *Resolver) *Ledger {
	return &Ledger{
		resolver: resolver,
		store:    resolver.store,
		logger:   resolver.logger,
	}
}

// Resolver returns the resolver the ledger resolves balances with.
func (l *Ledger) Resolver() *Resolver { return l.resolver }

// ApplyUsage adds delta (+1 or -1) to the bucket of leaveType in the month of
// referenceDate.
func (l *Ledger) ApplyUsage(ctx context.Context, employeeID EmployeeID, leaveType LeaveType, referenceDate time.Time, delta int) error {
	if delta != 1 && delta != -1 {
		return fmt.Errorf("%w: got %d", ErrInvalidDelta, delta)
	}

	bal, err := l.resolver.Resolve(ctx, employeeID, referenceDate)
	if err != nil {
		return err
	}

	bucket := leaveType.Bucket()
	if bucket == BucketNone {
		return nil
	}

	if err := l.store.Increment(ctx, employeeID, bal.Period, bucket, delta); err != nil {
		return fmt.Errorf("apply usage %s %s %s: %w", employeeID, bal.Period, bucket, err)
	}
	metrics.UsageApplied.WithLabelValues(string(bucket), direction(delta)).Inc()
	l.logger.Debug("usage applied",
		slog.String("employee_id", string(employeeID)),
		slog.String("period", bal.Period.String()),
		slog.String("bucket", string(bucket)),
		slog.Int("delta", delta),
	)
	return nil
}

// Consume checks quota and records one unit of usage in a single atomic
// store operation. It returns false, without writing, when the leave does
// not fit.
func (l *Ledger) Consume(ctx context.Context, employeeID EmployeeID, leaveType LeaveType, referenceDate time.Time) (bool, error) {
	bal, err := l.resolver.Resolve(ctx, employeeID, referenceDate)
	if err != nil {
		return false, err
	}

	bucket := leaveType.Bucket()
	if bucket == BucketNone {
		metrics.Decisions.WithLabelValues(string(bucket), "allowed").Inc()
		return true, nil
	}

	ok, err := l.store.ConsumeIfAvailable(ctx, employeeID, bal.Period, bucket)
	if err != nil {
		return false, fmt.Errorf("consume %s %s %s: %w", employeeID, bal.Period, bucket, err)
	}
	if !ok {
		metrics.Decisions.WithLabelValues(string(bucket), "refused").Inc()
		return false, nil
	}
	metrics.Decisions.WithLabelValues(string(bucket), "allowed").Inc()
	metrics.UsageApplied.WithLabelValues(string(bucket), direction(1)).Inc()
	return true, nil
}

func direction(delta int) string {
	if delta < 0 {
		return "decrement"
	}
	return "increment"
}
