package quota_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kaushalicodelabs/erp-leave/quota"
	"github.com/kaushalicodelabs/erp-leave/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestResolver(t *testing.T) (*quota.Resolver, *memory.Store) {
	t.Helper()
	store := memory.New()
	return quota.NewResolver(store, quota.DefaultAllotment, nil), store
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// mockStore fails on demand.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Find(ctx context.Context, employeeID quota.EmployeeID, period quota.Period) (quota.Balance, error) {
	args := m.Called(ctx, employeeID, period)
	return args.Get(0).(quota.Balance), args.Error(1)
}

func (m *mockStore) InsertIfAbsent(ctx context.Context, b quota.Balance) (quota.Balance, bool, error) {
	args := m.Called(ctx, b)
	return args.Get(0).(quota.Balance), args.Bool(1), args.Error(2)
}

func (m *mockStore) Increment(ctx context.Context, employeeID quota.EmployeeID, period quota.Period, bucket quota.Bucket, delta int) error {
	return m.Called(ctx, employeeID, period, bucket, delta).Error(0)
}

func (m *mockStore) ConsumeIfAvailable(ctx context.Context, employeeID quota.EmployeeID, period quota.Period, bucket quota.Bucket) (bool, error) {
	args := m.Called(ctx, employeeID, period, bucket)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ListByEmployee(ctx context.Context, employeeID quota.EmployeeID) ([]quota.Balance, error) {
	args := m.Called(ctx, employeeID)
	return args.Get(0).([]quota.Balance), args.Error(1)
}

// =============================================================================
// RESOLVE
// =============================================================================

func TestResolve_CreatesFreshBalance(t *testing.T) {
	// GIVEN: employee E has no balances
	// WHEN: resolving March 10
	// THEN: a default balance with no carry is created
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	b, err := resolver.Resolve(ctx, "E", date(2025, time.March, 10))
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, quota.EmployeeID("E"), b.EmployeeID)
	assert.Equal(t, quota.Period{Year: 2025, Month: time.March}, b.Period)
	assert.Equal(t, quota.Allowance{Quota: 1}, b.FullDay)
	assert.Equal(t, quota.Allowance{Quota: 2}, b.HalfDay)
	assert.Equal(t, quota.ShortAllowance{Quota: 1}, b.Short)
	assert.False(t, b.CreatedAt.IsZero())

	stored, err := store.Find(ctx, "E", b.Period)
	require.NoError(t, err)
	assert.Equal(t, b.ID, stored.ID)
}

func TestResolve_HitHasNoSideEffects(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "E", date(2025, time.March, 1))
	require.NoError(t, err)
	second, err := resolver.Resolve(ctx, "E", date(2025, time.March, 31))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	list, err := store.ListByEmployee(ctx, "E")
	require.NoError(t, err)
	assert.Len(t, list, 1, "no predecessor is created")
}

func TestResolve_CarryForward(t *testing.T) {
	tests := []struct {
		name      string
		fullUsed  int
		halfUsed  int
		shortUsed int
		wantFull  int
		wantHalf  int
	}{
		{"unused december carries everything", 0, 0, 0, 1, 2},
		{"used full day leaves nothing", 1, 0, 0, 0, 2},
		{"partial half usage", 0, 1, 1, 1, 1},
		{"overdrawn never carries negative", 3, 4, 2, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, store := newTestResolver(t)
			ctx := context.Background()

			dec, err := resolver.Resolve(ctx, "E", date(2024, time.December, 15))
			require.NoError(t, err)
			require.NoError(t, store.Increment(ctx, "E", dec.Period, quota.BucketFullDay, tt.fullUsed))
			require.NoError(t, store.Increment(ctx, "E", dec.Period, quota.BucketHalfDay, tt.halfUsed))
			require.NoError(t, store.Increment(ctx, "E", dec.Period, quota.BucketShort, tt.shortUsed))

			// Jan 1 must use December of the previous year
			jan, err := resolver.Resolve(ctx, "E", date(2025, time.January, 1))
			require.NoError(t, err)

			assert.Equal(t, quota.Period{Year: 2025, Month: time.January}, jan.Period)
			assert.Equal(t, tt.wantFull, jan.FullDay.CarriedForward)
			assert.Equal(t, tt.wantHalf, jan.HalfDay.CarriedForward)
			assert.Equal(t, quota.ShortAllowance{Quota: 1}, jan.Short, "short never carries")
		})
	}
}

func TestResolve_CarryIncludesPreviousCarry(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "E", date(2025, time.January, 5))
	require.NoError(t, err)
	feb, err := resolver.Resolve(ctx, "E", date(2025, time.February, 5))
	require.NoError(t, err)
	mar, err := resolver.Resolve(ctx, "E", date(2025, time.March, 5))
	require.NoError(t, err)

	assert.Equal(t, 1, feb.FullDay.CarriedForward)
	assert.Equal(t, 2, mar.FullDay.CarriedForward)
	assert.Equal(t, 4, mar.HalfDay.CarriedForward)
}

func TestResolve_GapMonthContributesNothing(t *testing.T) {
	// GIVEN: only January exists
	// WHEN: March is resolved (February never tracked)
	// THEN: nothing carries
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "E", date(2025, time.January, 5))
	require.NoError(t, err)
	mar, err := resolver.Resolve(ctx, "E", date(2025, time.March, 5))
	require.NoError(t, err)

	assert.Zero(t, mar.FullDay.CarriedForward)
	assert.Zero(t, mar.HalfDay.CarriedForward)
}

func TestResolve_CarryIsFrozenAtCreation(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	feb, err := resolver.Resolve(ctx, "E", date(2025, time.February, 1))
	require.NoError(t, err)
	mar, err := resolver.Resolve(ctx, "E", date(2025, time.March, 1))
	require.NoError(t, err)
	require.Equal(t, 1, mar.FullDay.CarriedForward)

	// Late usage in February does not touch March
	require.NoError(t, store.Increment(ctx, "E", feb.Period, quota.BucketFullDay, 1))
	again, err := resolver.Resolve(ctx, "E", date(2025, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, again.FullDay.CarriedForward)
}

func TestResolve_CustomAllotment(t *testing.T) {
	resolver := quota.NewResolver(memory.New(), quota.Allotment{FullDay: 2, HalfDay: 4, Short: 3}, nil)
	b, err := resolver.Resolve(context.Background(), "E", date(2025, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, b.FullDay.Quota)
	assert.Equal(t, 4, b.HalfDay.Quota)
	assert.Equal(t, 3, b.Short.Quota)
	assert.Equal(t, quota.Allotment{FullDay: 2, HalfDay: 4, Short: 3}, resolver.Allotment())
}

func TestResolve_ZeroDate(t *testing.T) {
	resolver, store := newTestResolver(t)
	_, err := resolver.Resolve(context.Background(), "E", time.Time{})
	assert.ErrorIs(t, err, quota.ErrInvalidDate)

	list, err := store.ListByEmployee(context.Background(), "E")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestResolve_ConcurrentCallsCreateOneRecord(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	const n = 50
	results := make([]quota.Balance, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := resolver.Resolve(ctx, "E", date(2025, time.March, 10))
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	list, err := store.ListByEmployee(ctx, "E")
	require.NoError(t, err)
	require.Len(t, list, 1)
	for _, b := range results {
		assert.Equal(t, list[0].ID, b.ID)
	}
}

func TestResolve_StoreErrorsPropagate(t *testing.T) {
	boom := errors.New("connection refused")
	march := quota.Period{Year: 2025, Month: time.March}

	t.Run("find", func(t *testing.T) {
		store := new(mockStore)
		store.On("Find", mock.Anything, quota.EmployeeID("E"), march).Return(quota.Balance{}, boom)

		_, err := quota.NewResolver(store, quota.DefaultAllotment, nil).Resolve(context.Background(), "E", date(2025, time.March, 10))
		assert.ErrorIs(t, err, boom)
		assert.False(t, quota.IsNotFound(err))
		store.AssertExpectations(t)
	})

	t.Run("insert", func(t *testing.T) {
		store := new(mockStore)
		store.On("Find", mock.Anything, quota.EmployeeID("E"), mock.Anything).Return(quota.Balance{}, quota.ErrBalanceNotFound)
		store.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(quota.Balance{}, false, boom)

		_, err := quota.NewResolver(store, quota.DefaultAllotment, nil).Resolve(context.Background(), "E", date(2025, time.March, 10))
		assert.ErrorIs(t, err, boom)
		store.AssertNumberOfCalls(t, "Find", 2)
	})
}
