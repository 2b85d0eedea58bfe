package leave_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/logging"
	"github.com/kaushalicodelabs/erp-leave/quota"
	"github.com/kaushalicodelabs/erp-leave/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	svc    *leave.RequestService
	ledger *quota.Ledger
	store  *memory.Store
}

func newFixture(t *testing.T, mode leave.Enforcement) fixture {
	t.Helper()
	store := memory.New()
	ledger := quota.NewLedger(quota.NewResolver(store, quota.DefaultAllotment, nil))
	return fixture{
		svc:    leave.NewRequestService(ledger, store, mode, nil),
		ledger: ledger,
		store:  store,
	}
}

// failingStore lets balance writes fail after the balance has been resolved.
type failingStore struct {
	*memory.Store
	err error
}

func (f *failingStore) Increment(context.Context, quota.EmployeeID, quota.Period, quota.Bucket, int) error {
	return f.err
}

func (f *failingStore) ConsumeIfAvailable(context.Context, quota.EmployeeID, quota.Period, quota.Bucket) (bool, error) {
	return false, f.err
}

// hookStore runs afterConsume once, right after the next
// ConsumeIfAvailable returns, to interleave another workflow call.
type hookStore struct {
	*memory.Store
	afterConsume func(granted bool)
}

func (h *hookStore) ConsumeIfAvailable(ctx context.Context, employeeID quota.EmployeeID, period quota.Period, bucket quota.Bucket) (bool, error) {
	ok, err := h.Store.ConsumeIfAvailable(ctx, employeeID, period, bucket)
	if err == nil && h.afterConsume != nil {
		hook := h.afterConsume
		h.afterConsume = nil
		hook(ok)
	}
	return ok, err
}

func newHookFixture(t *testing.T) (*hookStore, fixture) {
	t.Helper()
	store := &hookStore{Store: memory.New()}
	ledger := quota.NewLedger(quota.NewResolver(store, quota.DefaultAllotment, nil))
	return store, fixture{
		svc:    leave.NewRequestService(ledger, store, leave.EnforceAtomic, nil),
		ledger: ledger,
		store:  store.Store,
	}
}

func status(t *testing.T, f fixture, id string) leave.Status {
	t.Helper()
	r, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return r.Status
}

var mar10 = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func submit(t *testing.T, svc *leave.RequestService, lt quota.LeaveType, start time.Time) leave.Request {
	t.Helper()
	req, err := svc.Submit(context.Background(), leave.SubmitInput{
		EmployeeID: "E",
		Type:       lt,
		StartDate:  start,
		Reason:     "personal",
	})
	require.NoError(t, err)
	return req
}

func balance(t *testing.T, f fixture, d time.Time) quota.Balance {
	t.Helper()
	b, err := f.ledger.Resolver().Resolve(context.Background(), "E", d)
	require.NoError(t, err)
	return b
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_StoresPendingRequest(t *testing.T) {
	f := newFixture(t, leave.EnforceAtomic)

	req := submit(t, f.svc, quota.CasualFull, mar10)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, leave.StatusPending, req.Status)
	assert.True(t, req.EndDate.Equal(mar10), "single-day request ends on its start date")

	stored, err := f.svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, stored.ID)
	assert.Zero(t, balance(t, f, mar10).FullDay.Used, "submission does not charge quota")
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, leave.EnforceAtomic)
	ctx := context.Background()

	tests := []struct {
		name string
		in   leave.SubmitInput
		want error
	}{
		{"missing employee", leave.SubmitInput{Type: quota.Short, StartDate: mar10}, leave.ErrInvalidRequest},
		{"unknown type", leave.SubmitInput{EmployeeID: "E", Type: "full", StartDate: mar10}, quota.ErrUnknownLeaveType},
		{"missing start", leave.SubmitInput{EmployeeID: "E", Type: quota.Short}, quota.ErrInvalidDate},
		{
			name: "end before start",
			in:   leave.SubmitInput{EmployeeID: "E", Type: quota.Short, StartDate: mar10, EndDate: mar10.AddDate(0, 0, -1)},
			want: leave.ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	list, err := f.svc.ListByEmployee(ctx, "E")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubmit_OverQuotaIsRefused(t *testing.T) {
	f := newFixture(t, leave.EnforceAtomic)
	ctx := context.Background()

	first := submit(t, f.svc, quota.SickHalf, mar10)
	_, err := f.svc.Approve(ctx, first.ID, "M")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, leave.SubmitInput{EmployeeID: "E", Type: quota.CasualFull, StartDate: mar10.AddDate(0, 0, 5)})
	var qe *quota.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, quota.BucketFullDay, qe.Bucket)
	assert.Equal(t, quota.Period{Year: 2025, Month: time.March}, qe.Period)

	// The next month is unaffected
	submit(t, f.svc, quota.CasualFull, mar10.AddDate(0, 1, 0))

	list, err := f.svc.ListByEmployee(ctx, "E")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSubmit_OverlapIsRefused(t *testing.T) {
	f := newFixture(t, leave.EnforceAtomic)
	ctx := context.Background()

	week, err := f.svc.Submit(ctx, leave.SubmitInput{
		EmployeeID: "E",
		Type:       quota.Unpaid,
		StartDate:  mar10,
		EndDate:    mar10.AddDate(0, 0, 4),
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{"same first day", mar10, time.Time{}, true},
		{"inside", mar10.AddDate(0, 0, 2), mar10.AddDate(0, 0, 3), true},
		{"ends on first day", mar10.AddDate(0, 0, -2), mar10, true},
		{"starts on last day", mar10.AddDate(0, 0, 4), mar10.AddDate(0, 0, 6), true},
		{"day before", mar10.AddDate(0, 0, -1), time.Time{}, false},
		{"day after", mar10.AddDate(0, 0, 5), time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFixture(t, leave.EnforceAtomic)
			_, err := g.svc.Submit(ctx, leave.SubmitInput{EmployeeID: "E", Type: quota.Unpaid, StartDate: mar10, EndDate: mar10.AddDate(0, 0, 4)})
			require.NoError(t, err)

			_, err = g.svc.Submit(ctx, leave.SubmitInput{EmployeeID: "E", Type: quota.Short, StartDate: tt.start, EndDate: tt.end})
			if !tt.want {
				assert.NoError(t, err)
				return
			}
			var oe *leave.OverlapError
			require.ErrorAs(t, err, &oe)
			assert.ErrorIs(t, err, leave.ErrOverlappingRequest)
		})
	}

	// A cancelled request frees its days, and other employees are unaffected
	_, err = f.svc.Cancel(ctx, week.ID, "E", "")
	require.NoError(t, err)
	submit(t, f.svc, quota.Short, mar10)
	_, err = f.svc.Submit(ctx, leave.SubmitInput{EmployeeID: "F", Type: quota.Short, StartDate: mar10})
	assert.NoError(t, err)
}

func TestSubmit_StoresCalendarDays(t *testing.T) {
	f := newFixture(t, leave.EnforceAtomic)
	ctx := context.Background()

	// 00:30 on April 1 at UTC+2 is still March 31 in UTC
	start := time.Date(2025, time.April, 1, 0, 30, 0, 0, time.FixedZone("UTC+2", 2*3600))
	req := submit(t, f.svc, quota.CasualFull, start)
	assert.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), req.StartDate)
	assert.Equal(t, req.StartDate, req.EndDate)

	_, err := f.svc.Approve(ctx, req.ID, "M")
	require.NoError(t, err)
	assert.Equal(t, 1, balance(t, f, start).FullDay.Used, "approval charges the month Submit checked")
	assert.Equal(t, 0, balance(t, f, mar10).FullDay.Used)

	_, err = f.svc.Cancel(ctx, req.ID, "E", "")
	require.NoError(t, err)
	assert.Equal(t, 0, balance(t, f, start).FullDay.Used, "refund hits the same month")
}

func TestSubmit_UnpaidAlwaysAccepted(t *testing.T) {
	f := newFixture(t, leave.EnforceAtomic)
	for i := 0; i < 3; i++ {
		req := submit(t, f.svc, quota.Unpaid, mar10.AddDate(0, 0, i))
		_, err := f.svc.Approve(context.Background(), req.ID, "M")
		require.NoError(t, err)
	}
	b := balance(t, f, mar10)
	assert.Zero(t, b.FullDay.Used+b.HalfDay.Used+b.Short.Used)
}

// =============================================================================
// APPROVE
// =============================================================================

func TestApprove_ChargesStartMonth(t *testing.T) {
	for _, mode := range []leave.Enforcement{leave.EnforceAtomic, leave.EnforceLegacy} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, mode)
			// Spans into April but only March is charged
			req, err := f.svc.Submit(context.Background(), leave.SubmitInput{
				EmployeeID: "E",
				Type:       quota.Short,
				StartDate:  time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
				EndDate:    time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
			})
			require.NoError(t, err)

			approved, err := f.svc.Approve(context.Background(), req.ID, "M")
			require.NoError(t, err)
			assert.Equal(t, leave.StatusApproved, approved.Status)
			assert.Equal(t, "M", approved.DecidedBy)

			assert.Equal(t, 1, balance(t, f, req.StartDate).Short.Used)
			assert.Equal(t, 0, balance(t, f, req.EndDate).Short.Used)
		})
	}
}

func TestApprove_AtomicRefusesSecondApproval(t *testing.T) {
	// GIVEN: two pending full-day requests in the same month
	f := newFixture(t, leave.EnforceAtomic)
	ctx := context.Background()
	a := submit(t, f.svc, quota.SickFull, mar10)
	b := submit(t, f.svc, quota.CasualFull, mar10.AddDate(0, 0, 1))

	// WHEN: both are approved
	_, err := f.svc.Approve(ctx, a.ID, "M")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, b.ID, "M")

	// THEN: the second is refused and left pending
	var qe *quota.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 1, qe.Used)
	assert.Equal(t, 1, qe.Limit)
	stored, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, stored.Status)
	assert.Equal(t, 1, balance(t, f, mar10).FullDay.Used)
}

func TestApprove_LegacyChargesUnconditionally(t *testing.T) {
	f := newFixture(t, leave.EnforceLegacy)
	ctx := context.Background()
	a := submit(t, f.svc, quota.SickFull, mar10)
	b := submit(t, f.svc, quota.CasualFull, mar10.AddDate(0, 0, 1))

	_, err := f.svc.Approve(ctx, a.ID, "M")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, b.ID, "M")
	require.NoError(t, err)

	assert.Equal(t, 2, balance(t, f, mar10).FullDay.Used)
}

func TestApprove_ConcurrentApprovalsOfOneRequest(t *testing.T) {
	f := newFixture(t, leave.EnforceAtomic)
	req := submit(t, f.svc, quota.SickHalf, mar10)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Approve(context.Background(), req.ID, "M")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, balance(t, f, mar10).HalfDay.Used, "a request is charged once")
}

func TestApprove_RefusedRequestCancelledMeanwhile(t *testing.T) {
	// GIVEN: A holds the month's only full day and B is pending
	store, f := newHookFixture(t)
	ctx := context.Background()
	a := submit(t, f.svc, quota.SickFull, mar10)
	b := submit(t, f.svc, quota.CasualFull, mar10.AddDate(0, 0, 1))
	_, err := f.svc.Approve(ctx, a.ID, "M")
	require.NoError(t, err)

	// WHEN: B is cancelled right after its consume is refused
	store.afterConsume = func(granted bool) {
		require.False(t, granted)
		_, err := f.svc.Cancel(ctx, b.ID, "E", "plans changed")
		require.NoError(t, err)
	}
	_, err = f.svc.Approve(ctx, b.ID, "M")
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)

	// THEN: nothing was refunded and A's charge survives
	assert.Equal(t, leave.StatusApproved, status(t, f, a.ID))
	assert.Equal(t, leave.StatusCancelled, status(t, f, b.ID))
	assert.Equal(t, 1, balance(t, f, mar10).FullDay.Used)

	c := submit(t, f.svc, quota.SickFull, mar10.AddDate(0, 0, 2))
	_, err = f.svc.Approve(ctx, c.ID, "M")
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded, "the month stays full")
}

func TestApprove_LostStatusChangeReleasesCharge(t *testing.T) {
	store, f := newHookFixture(t)
	ctx := context.Background()
	req := submit(t, f.svc, quota.SickHalf, mar10)

	// The request is cancelled after its charge, before it turns approved
	store.afterConsume = func(granted bool) {
		require.True(t, granted)
		_, err := f.svc.Cancel(ctx, req.ID, "E", "")
		require.NoError(t, err)
	}
	_, err := f.svc.Approve(ctx, req.ID, "M")
	assert.ErrorIs(t, err, leave.ErrStatusConflict)

	assert.Equal(t, leave.StatusCancelled, status(t, f, req.ID))
	assert.Equal(t, 0, balance(t, f, mar10).HalfDay.Used)
}

func TestApprove_RetriesWhenQuotaFreedAfterRefusal(t *testing.T) {
	store, f := newHookFixture(t)
	ctx := context.Background()
	a := submit(t, f.svc, quota.SickFull, mar10)
	b := submit(t, f.svc, quota.CasualFull, mar10.AddDate(0, 0, 1))
	_, err := f.svc.Approve(ctx, a.ID, "M")
	require.NoError(t, err)

	// A is cancelled between B's refusal and the balance read
	store.afterConsume = func(granted bool) {
		require.False(t, granted)
		_, err := f.svc.Cancel(ctx, a.ID, "E", "")
		require.NoError(t, err)
	}
	approved, err := f.svc.Approve(ctx, b.ID, "M")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, approved.Status)
	assert.Equal(t, 1, balance(t, f, mar10).FullDay.Used)
}

func TestApprove_InvalidTransitions(t *testing.T) {
	f := newFixture(t, leave.EnforceAtomic)
	ctx := context.Background()
	req := submit(t, f.svc, quota.Short, mar10)

	_, err := f.svc.Approve(ctx, req.ID, "M")
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, req.ID, "M")
	var te *leave.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, leave.StatusApproved, te.From)
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)

	_, err = f.svc.Approve(ctx, "missing", "M")
	assert.ErrorIs(t, err, leave.ErrRequestNotFound)

	assert.Equal(t, 1, balance(t, f, mar10).Short.Used)
}

func TestApprove_LedgerFailureRevertsStatus(t *testing.T) {
	boom := errors.New("write failed")
	for _, mode := range []leave.Enforcement{leave.EnforceAtomic, leave.EnforceLegacy} {
		t.Run(string(mode), func(t *testing.T) {
			mem := memory.New()
			store := &failingStore{Store: mem, err: boom}
			ledger := quota.NewLedger(quota.NewResolver(store, quota.DefaultAllotment, nil))
			svc := leave.NewRequestService(ledger, mem, mode, nil)
			ctx := context.Background()

			req := submit(t, svc, quota.SickFull, mar10)
			_, err := svc.Approve(ctx, req.ID, "M")
			assert.ErrorIs(t, err, boom)

			stored, err := svc.Get(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, leave.StatusPending, stored.Status)
		})
	}
}

// =============================================================================
// REJECT / CANCEL
// =============================================================================

func TestReject_PendingDoesNotTouchUsage(t *testing.T) {
	f := newFixture(t, leave.EnforceAtomic)
	req := submit(t, f.svc, quota.CasualHalf, mar10)

	rejected, err := f.svc.Reject(context.Background(), req.ID, "M", "team offsite")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, rejected.Status)
	assert.Equal(t, "team offsite", rejected.Note)
	assert.Zero(t, balance(t, f, mar10).HalfDay.Used)
}

func TestCancelApproved_RefundsUsage(t *testing.T) {
	for _, tc := range []struct {
		name string
		to   leave.Status
		fn   func(*leave.RequestService, string) (leave.Request, error)
	}{
		{"cancel", leave.StatusCancelled, func(s *leave.RequestService, id string) (leave.Request, error) {
			return s.Cancel(context.Background(), id, "E", "plans changed")
		}},
		{"reject approved", leave.StatusRejected, func(s *leave.RequestService, id string) (leave.Request, error) {
			return s.Reject(context.Background(), id, "M", "approved in error")
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, leave.EnforceAtomic)
			req := submit(t, f.svc, quota.SickFull, mar10)
			_, err := f.svc.Approve(context.Background(), req.ID, "M")
			require.NoError(t, err)
			require.Equal(t, 1, balance(t, f, mar10).FullDay.Used)

			closed, err := tc.fn(f.svc, req.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.to, closed.Status)

			b := balance(t, f, mar10)
			assert.Equal(t, 0, b.FullDay.Used)
			assert.True(t, quota.HasQuota(b, quota.CasualHalf), "refund lifts the mutual exclusion")
		})
	}
}

func TestCancel_TerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t, leave.EnforceAtomic)
	ctx := context.Background()
	req := submit(t, f.svc, quota.Short, mar10)

	_, err := f.svc.Cancel(ctx, req.ID, "E", "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, req.ID, "E", "")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
	_, err = f.svc.Approve(ctx, req.ID, "M")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
	_, err = f.svc.Reject(ctx, req.ID, "M", "")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)

	assert.True(t, leave.StatusCancelled.Terminal())
	assert.Zero(t, balance(t, f, mar10).Short.Used)
}

func TestCancel_RefundFailureRevertsStatus(t *testing.T) {
	boom := errors.New("write failed")
	mem := memory.New()
	store := &failingStore{Store: mem, err: boom}
	ledger := quota.NewLedger(quota.NewResolver(store, quota.DefaultAllotment, nil))
	svc := leave.NewRequestService(ledger, mem, leave.EnforceAtomic, nil)
	ctx := context.Background()

	// Approve through a working service sharing the same stores
	good := leave.NewRequestService(quota.NewLedger(quota.NewResolver(mem, quota.DefaultAllotment, nil)), mem, leave.EnforceAtomic, nil)
	req := submit(t, good, quota.Short, mar10)
	_, err := good.Approve(ctx, req.ID, "M")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, req.ID, "E", "")
	assert.ErrorIs(t, err, boom)

	stored, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, stored.Status)
	assert.Equal(t, "M", stored.DecidedBy)
}

// movingStore fails balance writes after running onWrite, which lets a test
// change the request between the status change and its revert.
type movingStore struct {
	*memory.Store
	onWrite func()
}

func (m *movingStore) Increment(context.Context, quota.EmployeeID, quota.Period, quota.Bucket, int) error {
	m.onWrite()
	return errors.New("write failed")
}

func TestCancel_RevertConflictIsLogged(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	good := leave.NewRequestService(quota.NewLedger(quota.NewResolver(mem, quota.DefaultAllotment, nil)), mem, leave.EnforceAtomic, nil)
	req := submit(t, good, quota.Short, mar10)
	_, err := good.Approve(ctx, req.ID, "M")
	require.NoError(t, err)

	var buf bytes.Buffer
	store := &movingStore{Store: mem, onWrite: func() {
		_, err := mem.TransitionRequest(ctx, req.ID, leave.StatusCancelled, leave.StatusRejected, "M2", "", time.Now())
		require.NoError(t, err)
	}}
	ledger := quota.NewLedger(quota.NewResolver(store, quota.DefaultAllotment, nil))
	svc := leave.NewRequestService(ledger, mem, leave.EnforceAtomic, logging.NewWithWriter(&buf, "info", "json"))

	_, err = svc.Cancel(ctx, req.ID, "E", "")
	require.Error(t, err)

	stored, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, stored.Status, "the newer status is kept")
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "changed before its status could be reverted")
	assert.Contains(t, buf.String(), req.ID)
}

// =============================================================================
// STATUS MACHINE
// =============================================================================

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, leave.StatusPending.CanTransition(leave.StatusApproved))
	assert.True(t, leave.StatusPending.CanTransition(leave.StatusRejected))
	assert.True(t, leave.StatusPending.CanTransition(leave.StatusCancelled))
	assert.True(t, leave.StatusApproved.CanTransition(leave.StatusCancelled))
	assert.True(t, leave.StatusApproved.CanTransition(leave.StatusRejected))
	assert.False(t, leave.StatusApproved.CanTransition(leave.StatusPending))
	assert.False(t, leave.StatusRejected.CanTransition(leave.StatusApproved))
	assert.True(t, leave.StatusRejected.Terminal())
	assert.False(t, leave.StatusPending.Terminal())

	_, err := leave.ParseStatus("done")
	assert.Error(t, err)
	_, err = leave.ParseEnforcement("strict")
	assert.Error(t, err)
	mode, err := leave.ParseEnforcement("legacy")
	require.NoError(t, err)
	assert.Equal(t, leave.EnforceLegacy, mode)
}
