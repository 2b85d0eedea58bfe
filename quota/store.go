/*
store.go - Persistence interface for leave balances

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  needs four things from storage: find by compound key, insert-if-absent,
  atomic increment of one counter, and a conditional increment for the
  race-free consume path.

UNIQUENESS CONTRACT:
  At most one balance may exist per (employee, year, month). Implementations
  enforce this with a unique key, never with a read-then-write in Go:
  InsertIfAbsent must behave like INSERT ... ON CONFLICT DO NOTHING followed
  by a read of the surviving row.

INCREMENT CONTRACT:
  Increment and ConsumeIfAvailable run as a single storage-side statement
  (UPDATE ... SET used = used + ?). No read-modify-write in application code.

IMPLEMENTATIONS:
  - store/memory: in-process maps behind a mutex
  - store/sqlite: database/sql + go-sqlite3
  - store/postgres: pgx connection pool

SEE ALSO:
  - resolver.go: the only caller of InsertIfAbsent
  - ledger.go: the only caller of Increment and ConsumeIfAvailable
  - quotatest: contract suite every implementation must pass
*/
package quota

import "context"

// Store persists balances.
type Store interface {
	// Find returns the balance for the key, or ErrBalanceNotFound.
	Find(ctx context.Context, employeeID EmployeeID, period Period) (Balance, error)

	// InsertIfAbsent atomically inserts b unless a balance already exists for
	// its key. It returns the persisted balance and whether this call created it.
	InsertIfAbsent(ctx context.Context, b Balance) (Balance, bool, error)

	// Increment atomically adds delta to the usage counter of bucket.
	// Returns ErrBalanceNotFound if there is no balance for the key.
	Increment(ctx context.Context, employeeID EmployeeID, period Period, bucket Bucket, delta int) error

	// ConsumeIfAvailable atomically adds one to the usage counter of bucket
	// only if the policy in HasQuota would allow it. Returns false when the
	// condition does not hold.
	ConsumeIfAvailable(ctx context.Context, employeeID EmployeeID, period Period, bucket Bucket) (bool, error)

	// ListByEmployee returns every balance of the employee, oldest first.
	ListByEmployee(ctx context.Context, employeeID EmployeeID) ([]Balance, error)
}
