// Package leavetest holds the behavioral suite for leave.RequestStore
// implementations.
package leavetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/quota"
)

// NewStoreFunc returns an empty request store. Cleanup is registered on t.
type NewStoreFunc func(t *testing.T) leave.RequestStore

// RunRequestStoreContract runs the request store contract as subtests of t.
func RunRequestStoreContract(t *testing.T, newStore NewStoreFunc) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("ListOrder", func(t *testing.T) { testListOrder(t, newStore(t)) })
	t.Run("CalendarDates", func(t *testing.T) { testCalendarDates(t, newStore(t)) })
	t.Run("Transition", func(t *testing.T) { testTransition(t, newStore(t)) })
	t.Run("TransitionConflict", func(t *testing.T) { testTransitionConflict(t, newStore(t)) })
	t.Run("ConcurrentTransition", func(t *testing.T) { testConcurrentTransition(t, newStore(t)) })
}

// NewRequest builds a pending single-day request.
func NewRequest(employeeID quota.EmployeeID, t quota.LeaveType, start time.Time) leave.Request {
	created := time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC)
	return leave.Request{
		ID:         uuid.NewString(),
		EmployeeID: employeeID,
		Type:       t,
		StartDate:  start,
		EndDate:    start,
		Reason:     "family",
		Status:     leave.StatusPending,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testCreateAndGet(t *testing.T, s leave.RequestStore) {
	ctx := context.Background()
	r := NewRequest("E1", quota.SickHalf, day(2025, time.March, 10))
	r.EndDate = day(2025, time.March, 11)
	require.NoError(t, s.CreateRequest(ctx, r))

	got, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.EmployeeID, got.EmployeeID)
	assert.Equal(t, quota.SickHalf, got.Type)
	assert.True(t, r.StartDate.Equal(got.StartDate))
	assert.True(t, r.EndDate.Equal(got.EndDate))
	assert.Equal(t, "family", got.Reason)
	assert.Equal(t, leave.StatusPending, got.Status)
	assert.Empty(t, got.DecidedBy)

	assert.Error(t, s.CreateRequest(ctx, r), "duplicate id")
}

func testGetMissing(t *testing.T, s leave.RequestStore) {
	_, err := s.GetRequest(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, leave.ErrRequestNotFound)

	_, err = s.TransitionRequest(context.Background(), uuid.NewString(),
		leave.StatusPending, leave.StatusApproved, "M1", "", time.Now())
	assert.ErrorIs(t, err, leave.ErrRequestNotFound)
}

func testListOrder(t *testing.T, s leave.RequestStore) {
	ctx := context.Background()
	early := NewRequest("E1", quota.Short, day(2025, time.January, 5))
	late := NewRequest("E1", quota.CasualFull, day(2025, time.March, 3))
	mid := NewRequest("E1", quota.Unpaid, day(2025, time.February, 14))
	other := NewRequest("E2", quota.Short, day(2025, time.March, 1))
	for _, r := range []leave.Request{early, late, mid, other} {
		require.NoError(t, s.CreateRequest(ctx, r))
	}

	list, err := s.ListRequests(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, late.ID, list[0].ID)
	assert.Equal(t, mid.ID, list[1].ID)
	assert.Equal(t, early.ID, list[2].ID)
}

// testCalendarDates stores dates carrying offsets and expects them back as
// the same calendar day at midnight UTC, ordered by that day.
func testCalendarDates(t *testing.T, s leave.RequestStore) {
	ctx := context.Background()
	east := time.FixedZone("UTC+14", 14*3600)
	west := time.FixedZone("UTC-10", -10*3600)

	r := NewRequest("E1", quota.CasualFull, time.Date(2025, time.April, 1, 0, 30, 0, 0, time.FixedZone("UTC+2", 2*3600)))
	r.EndDate = time.Date(2025, time.April, 2, 23, 0, 0, 0, west)
	require.NoError(t, s.CreateRequest(ctx, r))

	got, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, day(2025, time.April, 1), got.StartDate)
	assert.Equal(t, day(2025, time.April, 2), got.EndDate)
	assert.Equal(t, quota.PeriodOf(r.StartDate), quota.PeriodOf(got.StartDate))

	// By instant, later is the earlier of the two; by calendar day it is not.
	later := NewRequest("E2", quota.Short, time.Date(2025, time.April, 3, 0, 30, 0, 0, east))
	earlier := NewRequest("E2", quota.Short, time.Date(2025, time.April, 2, 20, 0, 0, 0, west))
	require.NoError(t, s.CreateRequest(ctx, earlier))
	require.NoError(t, s.CreateRequest(ctx, later))

	list, err := s.ListRequests(ctx, "E2")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, later.ID, list[0].ID)
	assert.Equal(t, day(2025, time.April, 3), list[0].StartDate)
	assert.Equal(t, earlier.ID, list[1].ID)
	assert.Equal(t, day(2025, time.April, 2), list[1].StartDate)
}

func testTransition(t *testing.T, s leave.RequestStore) {
	ctx := context.Background()
	r := NewRequest("E1", quota.SickFull, day(2025, time.March, 10))
	require.NoError(t, s.CreateRequest(ctx, r))

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := s.TransitionRequest(ctx, r.ID, leave.StatusPending, leave.StatusApproved, "M1", "ok", at)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, got.Status)
	assert.Equal(t, "M1", got.DecidedBy)
	assert.Equal(t, "ok", got.Note)
	assert.True(t, at.Equal(got.UpdatedAt))

	stored, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, stored.Status)
}

func testTransitionConflict(t *testing.T, s leave.RequestStore) {
	ctx := context.Background()
	r := NewRequest("E1", quota.SickFull, day(2025, time.March, 10))
	require.NoError(t, s.CreateRequest(ctx, r))

	_, err := s.TransitionRequest(ctx, r.ID, leave.StatusApproved, leave.StatusCancelled, "E1", "", time.Now())
	assert.ErrorIs(t, err, leave.ErrStatusConflict)

	stored, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, stored.Status)
}

func testConcurrentTransition(t *testing.T, s leave.RequestStore) {
	ctx := context.Background()
	r := NewRequest("E1", quota.CasualHalf, day(2025, time.March, 10))
	require.NoError(t, s.CreateRequest(ctx, r))

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionRequest(ctx, r.ID, leave.StatusPending, leave.StatusApproved, "M1", "", time.Now())
			if err == nil {
				won.Add(1)
				return
			}
			assert.ErrorIs(t, err, leave.ErrStatusConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}
