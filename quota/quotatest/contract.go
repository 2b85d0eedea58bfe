// Package quotatest holds the behavioral suite every quota.Store
// implementation must pass. Store packages call RunStoreContract from their
// own tests with a constructor for a fresh, empty store.
package quotatest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaushalicodelabs/erp-leave/quota"
)

// NewStoreFunc returns an empty store. Cleanup is registered on t.
type NewStoreFunc func(t *testing.T) quota.Store

// RunStoreContract runs the store contract as subtests of t.
func RunStoreContract(t *testing.T, newStore NewStoreFunc) {
	t.Run("FindMissing", func(t *testing.T) { testFindMissing(t, newStore(t)) })
	t.Run("InsertIfAbsent", func(t *testing.T) { testInsertIfAbsent(t, newStore(t)) })
	t.Run("Increment", func(t *testing.T) { testIncrement(t, newStore(t)) })
	t.Run("IncrementMissing", func(t *testing.T) { testIncrementMissing(t, newStore(t)) })
	t.Run("ConsumeIfAvailable", func(t *testing.T) { testConsume(t, newStore(t)) })
	t.Run("ConsumeMutualExclusion", func(t *testing.T) { testConsumeMutualExclusion(t, newStore(t)) })
	t.Run("ConsumeMissing", func(t *testing.T) { testConsumeMissing(t, newStore(t)) })
	t.Run("ListByEmployee", func(t *testing.T) { testListByEmployee(t, newStore(t)) })
	t.Run("ConcurrentInsert", func(t *testing.T) { testConcurrentInsert(t, newStore(t)) })
	t.Run("ConcurrentIncrement", func(t *testing.T) { testConcurrentIncrement(t, newStore(t)) })
	t.Run("ConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
}

// NewBalance builds an unused balance with the default allotment.
func NewBalance(employeeID quota.EmployeeID, period quota.Period) quota.Balance {
	a := quota.DefaultAllotment
	return quota.Balance{
		ID:         uuid.NewString(),
		EmployeeID: employeeID,
		Period:     period,
		FullDay:    quota.Allowance{Quota: a.FullDay},
		HalfDay:    quota.Allowance{Quota: a.HalfDay},
		Short:      quota.ShortAllowance{Quota: a.Short},
		CreatedAt:  time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

var march = quota.Period{Year: 2025, Month: time.March}

func mustInsert(t *testing.T, s quota.Store, b quota.Balance) quota.Balance {
	t.Helper()
	stored, created, err := s.InsertIfAbsent(context.Background(), b)
	require.NoError(t, err)
	require.True(t, created)
	return stored
}

func mustFind(t *testing.T, s quota.Store, employeeID quota.EmployeeID, period quota.Period) quota.Balance {
	t.Helper()
	b, err := s.Find(context.Background(), employeeID, period)
	require.NoError(t, err)
	return b
}

func testFindMissing(t *testing.T, s quota.Store) {
	_, err := s.Find(context.Background(), "E1", march)
	assert.ErrorIs(t, err, quota.ErrBalanceNotFound)
}

func testInsertIfAbsent(t *testing.T, s quota.Store) {
	ctx := context.Background()

	first := NewBalance("E1", march)
	first.FullDay.CarriedForward = 1
	stored := mustInsert(t, s, first)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, march, stored.Period)
	assert.Equal(t, 1, stored.FullDay.CarriedForward)
	assert.True(t, first.CreatedAt.Equal(stored.CreatedAt))

	// WHEN a second candidate races for the same key
	second := NewBalance("E1", march)
	got, created, err := s.InsertIfAbsent(ctx, second)

	// THEN the first row survives untouched
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, 1, got.FullDay.CarriedForward)

	// Other employees and months are separate keys
	_, created, err = s.InsertIfAbsent(ctx, NewBalance("E2", march))
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = s.InsertIfAbsent(ctx, NewBalance("E1", march.Next()))
	require.NoError(t, err)
	assert.True(t, created)
}

func testIncrement(t *testing.T, s quota.Store) {
	ctx := context.Background()
	mustInsert(t, s, NewBalance("E1", march))

	require.NoError(t, s.Increment(ctx, "E1", march, quota.BucketFullDay, 1))
	require.NoError(t, s.Increment(ctx, "E1", march, quota.BucketHalfDay, 1))
	require.NoError(t, s.Increment(ctx, "E1", march, quota.BucketHalfDay, 1))
	require.NoError(t, s.Increment(ctx, "E1", march, quota.BucketShort, 1))
	require.NoError(t, s.Increment(ctx, "E1", march, quota.BucketShort, -1))

	b := mustFind(t, s, "E1", march)
	assert.Equal(t, 1, b.FullDay.Used)
	assert.Equal(t, 2, b.HalfDay.Used)
	assert.Equal(t, 0, b.Short.Used)

	// Increments are never clamped.
	require.NoError(t, s.Increment(ctx, "E1", march, quota.BucketShort, -1))
	require.NoError(t, s.Increment(ctx, "E1", march, quota.BucketFullDay, 1))
	b = mustFind(t, s, "E1", march)
	assert.Equal(t, -1, b.Short.Used)
	assert.Equal(t, 2, b.FullDay.Used)
}

func testIncrementMissing(t *testing.T, s quota.Store) {
	err := s.Increment(context.Background(), "E1", march, quota.BucketFullDay, 1)
	assert.ErrorIs(t, err, quota.ErrBalanceNotFound)
}

func testConsume(t *testing.T, s quota.Store) {
	ctx := context.Background()
	b := NewBalance("E1", march)
	b.FullDay.CarriedForward = 1
	mustInsert(t, s, b)

	// Full-day limit is quota + carried = 2
	for i := 0; i < 2; i++ {
		ok, err := s.ConsumeIfAvailable(ctx, "E1", march, quota.BucketFullDay)
		require.NoError(t, err)
		assert.True(t, ok, "consume %d", i+1)
	}
	ok, err := s.ConsumeIfAvailable(ctx, "E1", march, quota.BucketFullDay)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ConsumeIfAvailable(ctx, "E1", march, quota.BucketShort)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ConsumeIfAvailable(ctx, "E1", march, quota.BucketShort)
	require.NoError(t, err)
	assert.False(t, ok)

	got := mustFind(t, s, "E1", march)
	assert.Equal(t, 2, got.FullDay.Used)
	assert.Equal(t, 1, got.Short.Used)
}

func testConsumeMutualExclusion(t *testing.T, s quota.Store) {
	ctx := context.Background()
	april := march.Next()
	mustInsert(t, s, NewBalance("E1", march))
	mustInsert(t, s, NewBalance("E1", april))

	// A half-day blocks full-day for the month
	ok, err := s.ConsumeIfAvailable(ctx, "E1", march, quota.BucketHalfDay)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.ConsumeIfAvailable(ctx, "E1", march, quota.BucketFullDay)
	require.NoError(t, err)
	assert.False(t, ok)

	// A full-day blocks half-day for the month
	ok, err = s.ConsumeIfAvailable(ctx, "E1", april, quota.BucketFullDay)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.ConsumeIfAvailable(ctx, "E1", april, quota.BucketHalfDay)
	require.NoError(t, err)
	assert.False(t, ok)

	// Short leave is independent of both
	ok, err = s.ConsumeIfAvailable(ctx, "E1", april, quota.BucketShort)
	require.NoError(t, err)
	assert.True(t, ok)

	got := mustFind(t, s, "E1", march)
	assert.Equal(t, 0, got.FullDay.Used)
	assert.Equal(t, 1, got.HalfDay.Used)
}

func testConsumeMissing(t *testing.T, s quota.Store) {
	_, err := s.ConsumeIfAvailable(context.Background(), "E1", march, quota.BucketShort)
	assert.ErrorIs(t, err, quota.ErrBalanceNotFound)
}

func testListByEmployee(t *testing.T, s quota.Store) {
	ctx := context.Background()
	jan26 := quota.Period{Year: 2026, Month: time.January}
	dec25 := quota.Period{Year: 2025, Month: time.December}

	mustInsert(t, s, NewBalance("E1", jan26))
	mustInsert(t, s, NewBalance("E1", march))
	mustInsert(t, s, NewBalance("E1", dec25))
	mustInsert(t, s, NewBalance("E2", march))

	list, err := s.ListByEmployee(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, march, list[0].Period)
	assert.Equal(t, dec25, list[1].Period)
	assert.Equal(t, jan26, list[2].Period)

	empty, err := s.ListByEmployee(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

const workers = 20

func testConcurrentInsert(t *testing.T, s quota.Store) {
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		ids     sync.Map
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := s.InsertIfAbsent(ctx, NewBalance("E1", march))
			if !assert.NoError(t, err) {
				return
			}
			if ok {
				created.Add(1)
			}
			ids.Store(got.ID, true)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	distinct := 0
	ids.Range(func(_, _ any) bool { distinct++; return true })
	assert.Equal(t, 1, distinct, "every caller must see the surviving row")

	list, err := s.ListByEmployee(ctx, "E1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testConcurrentIncrement(t *testing.T, s quota.Store) {
	ctx := context.Background()
	mustInsert(t, s, NewBalance("E1", march))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Increment(ctx, "E1", march, quota.BucketHalfDay, 1))
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, mustFind(t, s, "E1", march).HalfDay.Used)
}

func testConcurrentConsume(t *testing.T, s quota.Store) {
	ctx := context.Background()
	b := NewBalance("E1", march)
	b.HalfDay.CarriedForward = 1
	mustInsert(t, s, b)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeIfAvailable(ctx, "E1", march, quota.BucketHalfDay)
			if assert.NoError(t, err) && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	// quota 2 + carried 1
	assert.Equal(t, int32(3), granted.Load())
	assert.Equal(t, 3, mustFind(t, s, "E1", march).HalfDay.Used)
}
