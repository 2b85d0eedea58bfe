/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements quota.Store (monthly leave balances) and leave.RequestStore
  (leave requests) on SQLite through database/sql and go-sqlite3.

KEY TABLES:
  leave_balances:  one row per (employee_id, year, month), UNIQUE-constrained
  leave_requests:  leave requests and their workflow status

ATOMICITY:
  Nothing here reads a row and writes it back from Go.
  - InsertIfAbsent is INSERT ... ON CONFLICT DO NOTHING; the unique key
    decides the race and the loser reads the winner's row.
  - Increment is UPDATE ... SET x_used = x_used + ?.
  - ConsumeIfAvailable is the same UPDATE guarded by the quota rules in its
    WHERE clause; zero rows affected means the quota refused it.
  - Request transitions are UPDATE ... WHERE status = ? (compare-and-set).

WAL MODE:
  Opened with WAL and a busy timeout so concurrent writers wait for the lock
  instead of failing. ":memory:" databases are limited to one connection,
  since each connection would otherwise see its own empty database.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - quota/store.go: Store contract
  - store/postgres: the same schema on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/quota"
)

// Store implements quota.Store and leave.RequestStore using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ quota.Store        = (*Store)(nil)
	_ leave.RequestStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Monthly leave balances. Month is stored 1-12.
	CREATE TABLE IF NOT EXISTS leave_balances (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
		full_quota INTEGER NOT NULL,
		full_used INTEGER NOT NULL DEFAULT 0,
		full_carried INTEGER NOT NULL DEFAULT 0,
		half_quota INTEGER NOT NULL,
		half_used INTEGER NOT NULL DEFAULT 0,
		half_carried INTEGER NOT NULL DEFAULT 0,
		short_quota INTEGER NOT NULL,
		short_used INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (employee_id, year, month)
	);

	-- Leave requests
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		reason TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		decided_by TEXT,
		note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_employee
		ON leave_requests(employee_id, start_date DESC);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status
		ON leave_requests(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BALANCE STORE (quota.Store interface)
// =============================================================================

const balanceColumns = `
	id, employee_id, year, month,
	full_quota, full_used, full_carried,
	half_quota, half_used, half_carried,
	short_quota, short_used, created_at`

// Find returns the balance for the employee's month.
func (s *Store) Find(ctx context.Context, employeeID quota.EmployeeID, period quota.Period) (quota.Balance, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+balanceColumns+" FROM leave_balances WHERE employee_id = ? AND year = ? AND month = ?",
		employeeID, period.Year, int(period.Month),
	)
	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.Balance{}, quota.ErrBalanceNotFound
	}
	return b, err
}

// InsertIfAbsent inserts b unless the (employee, year, month) key exists.
func (s *Store) InsertIfAbsent(ctx context.Context, b quota.Balance) (quota.Balance, bool, error) {
	query := `
		INSERT INTO leave_balances
		(id, employee_id, year, month,
		 full_quota, full_used, full_carried,
		 half_quota, half_used, half_carried,
		 short_quota, short_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, year, month) DO NOTHING
	`

	createdAt := b.CreatedAt.UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, query,
		b.ID, b.EmployeeID, b.Period.Year, int(b.Period.Month),
		b.FullDay.Quota, b.FullDay.Used, b.FullDay.CarriedForward,
		b.HalfDay.Quota, b.HalfDay.Used, b.HalfDay.CarriedForward,
		b.Short.Quota, b.Short.Used, createdAt, createdAt,
	)
	if err != nil {
		return quota.Balance{}, false, fmt.Errorf("failed to insert balance: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return quota.Balance{}, false, err
	}

	stored, err := s.Find(ctx, b.EmployeeID, b.Period)
	if err != nil {
		return quota.Balance{}, false, err
	}
	return stored, n == 1, nil
}

// usedColumn maps a bucket to its usage column. Only these constants are
// ever interpolated into SQL.
func usedColumn(bucket quota.Bucket) (string, error) {
	switch bucket {
	case quota.BucketFullDay:
		return "full_used", nil
	case quota.BucketHalfDay:
		return "half_used", nil
	case quota.BucketShort:
		return "short_used", nil
	default:
		return "", fmt.Errorf("untracked bucket %q", bucket)
	}
}

// consumeGuard is the WHERE clause that mirrors quota.Allows for each bucket.
var consumeGuard = map[quota.Bucket]string{
	quota.BucketFullDay: "half_used <= 0 AND full_used < full_quota + full_carried",
	quota.BucketHalfDay: "full_used <= 0 AND half_used < half_quota + half_carried",
	quota.BucketShort:   "short_used < short_quota",
}

// Increment adds delta to a usage column in a single statement.
func (s *Store) Increment(ctx context.Context, employeeID quota.EmployeeID, period quota.Period, bucket quota.Bucket, delta int) error {
	col, err := usedColumn(bucket)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE leave_balances
		SET %[1]s = %[1]s + ?, updated_at = ?
		WHERE employee_id = ? AND year = ? AND month = ?
	`, col)

	res, err := s.db.ExecContext(ctx, query,
		delta, s.now().UTC().Format(time.RFC3339Nano),
		employeeID, period.Year, int(period.Month),
	)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", col, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return quota.ErrBalanceNotFound
	}
	return nil
}

// ConsumeIfAvailable adds one to a usage column only if the quota rules allow it.
func (s *Store) ConsumeIfAvailable(ctx context.Context, employeeID quota.EmployeeID, period quota.Period, bucket quota.Bucket) (bool, error) {
	col, err := usedColumn(bucket)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		UPDATE leave_balances
		SET %[1]s = %[1]s + 1, updated_at = ?
		WHERE employee_id = ? AND year = ? AND month = ? AND %[2]s
	`, col, consumeGuard[bucket])

	res, err := s.db.ExecContext(ctx, query,
		s.now().UTC().Format(time.RFC3339Nano),
		employeeID, period.Year, int(period.Month),
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume %s: %w", col, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// Zero rows: either refused by the guard or no such balance.
	if _, err := s.Find(ctx, employeeID, period); err != nil {
		return false, err
	}
	return false, nil
}

// ListByEmployee returns the employee's monthly balances, oldest first.
func (s *Store) ListByEmployee(ctx context.Context, employeeID quota.EmployeeID) ([]quota.Balance, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+balanceColumns+" FROM leave_balances WHERE employee_id = ? ORDER BY year ASC, month ASC",
		employeeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []quota.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(row scanner) (quota.Balance, error) {
	var (
		b         quota.Balance
		month     int
		createdAt string
	)
	err := row.Scan(
		&b.ID, &b.EmployeeID, &b.Period.Year, &month,
		&b.FullDay.Quota, &b.FullDay.Used, &b.FullDay.CarriedForward,
		&b.HalfDay.Quota, &b.HalfDay.Used, &b.HalfDay.CarriedForward,
		&b.Short.Quota, &b.Short.Used, &createdAt,
	)
	if err != nil {
		return quota.Balance{}, err
	}
	b.Period.Month = time.Month(month)
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return b, nil
}

// =============================================================================
// REQUEST STORE (leave.RequestStore interface)
// =============================================================================

// dateLayout stores request dates as calendar days. Text in this layout
// sorts in date order and parses back at midnight UTC.
const dateLayout = "2006-01-02"

const requestColumns = `
	id, employee_id, leave_type, start_date, end_date, reason,
	status, decided_by, note, created_at, updated_at`

// CreateRequest saves a new request.
func (s *Store) CreateRequest(ctx context.Context, r leave.Request) error {
	query := `
		INSERT INTO leave_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.EmployeeID, r.Type,
		r.StartDate.Format(dateLayout), r.EndDate.Format(dateLayout),
		nullString(r.Reason), r.Status, nullString(r.DecidedBy), nullString(r.Note),
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("request %s already exists: %w", r.ID, err)
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by ID.
func (s *Store) GetRequest(ctx context.Context, id string) (leave.Request, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM leave_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Request{}, leave.ErrRequestNotFound
	}
	return r, err
}

// ListRequests returns an employee's requests, newest start date first.
func (s *Store) ListRequests(ctx context.Context, employeeID quota.EmployeeID) ([]leave.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM leave_requests WHERE employee_id = ? ORDER BY start_date DESC, created_at DESC",
		employeeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []leave.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// TransitionRequest changes status only if the row is still in from.
func (s *Store) TransitionRequest(ctx context.Context, id string, from, to leave.Status, actor, note string, at time.Time) (leave.Request, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leave_requests
		SET status = ?, decided_by = ?, note = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, nullString(actor), nullString(note), at.UTC().Format(time.RFC3339Nano), id, from)
	if err != nil {
		return leave.Request{}, fmt.Errorf("failed to update request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return leave.Request{}, err
	}
	if n == 0 {
		if _, err := s.GetRequest(ctx, id); err != nil {
			return leave.Request{}, err
		}
		return leave.Request{}, leave.ErrStatusConflict
	}
	return s.GetRequest(ctx, id)
}

func scanRequest(row scanner) (leave.Request, error) {
	var (
		r                    leave.Request
		startDate, endDate   string
		reason, actor, note  sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&r.ID, &r.EmployeeID, &r.Type, &startDate, &endDate, &reason,
		&r.Status, &actor, &note, &createdAt, &updatedAt,
	)
	if err != nil {
		return leave.Request{}, err
	}
	r.StartDate, _ = time.Parse(dateLayout, startDate)
	r.EndDate, _ = time.Parse(dateLayout, endDate)
	r.Reason = reason.String
	r.DecidedBy = actor.String
	r.Note = note.String
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return r, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
