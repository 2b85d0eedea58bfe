package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/leave/leavetest"
	"github.com/kaushalicodelabs/erp-leave/quota"
	"github.com/kaushalicodelabs/erp-leave/quota/quotatest"
)

// newTestStore connects to TEST_DATABASE_URL and empties both tables.
// Subtests share the database, so they must not run in parallel.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := New(ctx, url)
	require.NoError(t, err)
	_, err = store.pool.Exec(ctx, "TRUNCATE leave_balances, leave_requests")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresStore_BalanceContract(t *testing.T) {
	quotatest.RunStoreContract(t, func(t *testing.T) quota.Store { return newTestStore(t) })
}

func TestPostgresStore_RequestContract(t *testing.T) {
	leavetest.RunRequestStoreContract(t, func(t *testing.T) leave.RequestStore { return newTestStore(t) })
}

func TestUsedColumn_RejectsUntrackedBucket(t *testing.T) {
	_, err := usedColumn(quota.BucketNone)
	require.Error(t, err)
}
