/*
Package postgres provides a PostgreSQL-backed implementation of the storage interfaces.

PURPOSE:
  Same contract and schema as store/sqlite, on a pgx connection pool, for
  deployments that share one database across server replicas.

ATOMICITY:
  Every mutation is a single statement. The (employee_id, year, month) unique
  key arbitrates concurrent balance creation, usage counters move with
  column = column + $n, and guarded consumes and status transitions report
  success through the affected-row count.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/quota"
)

// Store implements quota.Store and leave.RequestStore using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var (
	_ quota.Store        = (*Store)(nil)
	_ leave.RequestStore = (*Store)(nil)
)

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	store := &Store{pool: pool, now: time.Now}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_balances (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month SMALLINT NOT NULL CHECK (month BETWEEN 1 AND 12),
		full_quota INTEGER NOT NULL,
		full_used INTEGER NOT NULL DEFAULT 0,
		full_carried INTEGER NOT NULL DEFAULT 0,
		half_quota INTEGER NOT NULL,
		half_used INTEGER NOT NULL DEFAULT 0,
		half_carried INTEGER NOT NULL DEFAULT 0,
		short_quota INTEGER NOT NULL,
		short_used INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (employee_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		reason TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		decided_by TEXT,
		note TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_employee
		ON leave_requests(employee_id, start_date DESC);
	`
	_, err := s.pool.Exec(ctx, schema)
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

func (s *Store) Find(ctx context.Context, employeeID quota.EmployeeID, period quota.Period) (quota.Balance, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+balanceColumns+" FROM leave_balances WHERE employee_id = $1 AND year = $2 AND month = $3",
		string(employeeID), period.Year, int(period.Month),
	)
	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return quota.Balance{}, quota.ErrBalanceNotFound
	}
	return b, err
}

func (s *Store) InsertIfAbsent(ctx context.Context, b quota.Balance) (quota.Balance, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO leave_balances
		(id, employee_id, year, month,
		 full_quota, full_used, full_carried,
		 half_quota, half_used, half_carried,
		 short_quota, short_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (employee_id, year, month) DO NOTHING
	`,
		b.ID, string(b.EmployeeID), b.Period.Year, int(b.Period.Month),
		b.FullDay.Quota, b.FullDay.Used, b.FullDay.CarriedForward,
		b.HalfDay.Quota, b.HalfDay.Used, b.HalfDay.CarriedForward,
		b.Short.Quota, b.Short.Used, b.CreatedAt.UTC(),
	)
	if err != nil {
		return quota.Balance{}, false, fmt.Errorf("failed to insert balance: %w", err)
	}

	stored, err := s.Find(ctx, b.EmployeeID, b.Period)
	if err != nil {
		return quota.Balance{}, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

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

var consumeGuard = map[quota.Bucket]string{
	quota.BucketFullDay: "half_used <= 0 AND full_used < full_quota + full_carried",
	quota.BucketHalfDay: "full_used <= 0 AND half_used < half_quota + half_carried",
	quota.BucketShort:   "short_used < short_quota",
}

func (s *Store) Increment(ctx context.Context, employeeID quota.EmployeeID, period quota.Period, bucket quota.Bucket, delta int) error {
	col, err := usedColumn(bucket)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE leave_balances
		SET %[1]s = %[1]s + $1, updated_at = $2
		WHERE employee_id = $3 AND year = $4 AND month = $5
	`, col), delta, s.now().UTC(), string(employeeID), period.Year, int(period.Month))
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", col, err)
	}
	if tag.RowsAffected() == 0 {
		return quota.ErrBalanceNotFound
	}
	return nil
}

func (s *Store) ConsumeIfAvailable(ctx context.Context, employeeID quota.EmployeeID, period quota.Period, bucket quota.Bucket) (bool, error) {
	col, err := usedColumn(bucket)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE leave_balances
		SET %[1]s = %[1]s + 1, updated_at = $1
		WHERE employee_id = $2 AND year = $3 AND month = $4 AND %[2]s
	`, col, consumeGuard[bucket]), s.now().UTC(), string(employeeID), period.Year, int(period.Month))
	if err != nil {
		return false, fmt.Errorf("failed to consume %s: %w", col, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Find(ctx, employeeID, period); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) ListByEmployee(ctx context.Context, employeeID quota.EmployeeID) ([]quota.Balance, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+balanceColumns+" FROM leave_balances WHERE employee_id = $1 ORDER BY year, month",
		string(employeeID),
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

func scanBalance(row pgx.Row) (quota.Balance, error) {
	var (
		b         quota.Balance
		id, empID string
		month     int
	)
	err := row.Scan(
		&id, &empID, &b.Period.Year, &month,
		&b.FullDay.Quota, &b.FullDay.Used, &b.FullDay.CarriedForward,
		&b.HalfDay.Quota, &b.HalfDay.Used, &b.HalfDay.CarriedForward,
		&b.Short.Quota, &b.Short.Used, &b.CreatedAt,
	)
	if err != nil {
		return quota.Balance{}, err
	}
	b.ID = id
	b.EmployeeID = quota.EmployeeID(empID)
	b.Period.Month = time.Month(month)
	return b, nil
}

// =============================================================================
// REQUEST STORE (leave.RequestStore interface)
// =============================================================================

const requestColumns = `
	id, employee_id, leave_type, start_date, end_date, reason,
	status, decided_by, note, created_at, updated_at`

func (s *Store) CreateRequest(ctx context.Context, r leave.Request) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leave_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		r.ID, string(r.EmployeeID), string(r.Type), leave.CalendarDate(r.StartDate), leave.CalendarDate(r.EndDate),
		nullable(r.Reason), string(r.Status), nullable(r.DecidedBy), nullable(r.Note),
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("request %s already exists: %w", r.ID, err)
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (leave.Request, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+requestColumns+" FROM leave_requests WHERE id = $1", id)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Request{}, leave.ErrRequestNotFound
	}
	return r, err
}

func (s *Store) ListRequests(ctx context.Context, employeeID quota.EmployeeID) ([]leave.Request, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+requestColumns+" FROM leave_requests WHERE employee_id = $1 ORDER BY start_date DESC, created_at DESC",
		string(employeeID),
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

func (s *Store) TransitionRequest(ctx context.Context, id string, from, to leave.Status, actor, note string, at time.Time) (leave.Request, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE leave_requests
		SET status = $1, decided_by = $2, note = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`, string(to), nullable(actor), nullable(note), at.UTC(), id, string(from))
	if err != nil {
		return leave.Request{}, fmt.Errorf("failed to update request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, id); err != nil {
			return leave.Request{}, err
		}
		return leave.Request{}, leave.ErrStatusConflict
	}
	return s.GetRequest(ctx, id)
}

func scanRequest(row pgx.Row) (leave.Request, error) {
	var (
		r                            leave.Request
		id, empID, leaveType, status string
		reason, actor, note          *string
	)
	err := row.Scan(
		&id, &empID, &leaveType, &r.StartDate, &r.EndDate, &reason,
		&status, &actor, &note, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return leave.Request{}, err
	}
	r.ID = id
	// DATE scans at midnight UTC; normalize anyway so the month never
	// depends on the session time zone.
	r.StartDate = leave.CalendarDate(r.StartDate)
	r.EndDate = leave.CalendarDate(r.EndDate)
	r.EmployeeID = quota.EmployeeID(empID)
	r.Type = quota.LeaveType(leaveType)
	r.Status = leave.Status(status)
	r.Reason = deref(reason)
	r.DecidedBy = deref(actor)
	r.Note = deref(note)
	return r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
