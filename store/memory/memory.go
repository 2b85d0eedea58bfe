// Package memory provides in-process implementations of quota.Store and
// leave.RequestStore, for tests and for running the server without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/quota"
)

// =============================================================================
// MEMORY STORE - Balances and requests behind one mutex
// =============================================================================

// Store keeps balances keyed by (employee, period) and requests keyed by ID.
// The map key is the uniqueness constraint; every mutation happens under the
// write lock, which makes increments atomic.
type Store struct {
	mu       sync.RWMutex
	balances map[key]quota.Balance
	requests map[string]leave.Request
}

type key struct {
	EmployeeID quota.EmployeeID
	Period     quota.Period
}

var (
	_ quota.Store        = (*Store)(nil)
	_ leave.RequestStore = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		balances: make(map[key]quota.Balance),
		requests: make(map[string]leave.Request),
	}
}

// Close is a no-op.
func (m *Store) Close() error { return nil }

// =============================================================================
// BALANCES (quota.Store)
// =============================================================================

func (m *Store) Find(_ context.Context, employeeID quota.EmployeeID, period quota.Period) (quota.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[key{employeeID, period}]
	if !ok {
		return quota.Balance{}, quota.ErrBalanceNotFound
	}
	return b, nil
}

func (m *Store) InsertIfAbsent(_ context.Context, b quota.Balance) (quota.Balance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{b.EmployeeID, b.Period}
	if existing, ok := m.balances[k]; ok {
		return existing, false, nil
	}
	m.balances[k] = b
	return b, true, nil
}

func (m *Store) Increment(_ context.Context, employeeID quota.EmployeeID, period quota.Period, bucket quota.Bucket, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{employeeID, period}
	b, ok := m.balances[k]
	if !ok {
		return quota.ErrBalanceNotFound
	}
	switch bucket {
	case quota.BucketFullDay:
		b.FullDay.Used += delta
	case quota.BucketHalfDay:
		b.HalfDay.Used += delta
	case quota.BucketShort:
		b.Short.Used += delta
	default:
		return fmt.Errorf("increment: untracked bucket %q", bucket)
	}
	m.balances[k] = b
	return nil
}

func (m *Store) ConsumeIfAvailable(_ context.Context, employeeID quota.EmployeeID, period quota.Period, bucket quota.Bucket) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{employeeID, period}
	b, ok := m.balances[k]
	if !ok {
		return false, quota.ErrBalanceNotFound
	}
	if bucket == quota.BucketNone {
		return false, fmt.Errorf("consume: untracked bucket %q", bucket)
	}
	if !quota.Allows(b, bucket) {
		return false, nil
	}
	switch bucket {
	case quota.BucketFullDay:
		b.FullDay.Used++
	case quota.BucketHalfDay:
		b.HalfDay.Used++
	case quota.BucketShort:
		b.Short.Used++
	}
	m.balances[k] = b
	return true, nil
}

func (m *Store) ListByEmployee(_ context.Context, employeeID quota.EmployeeID) ([]quota.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []quota.Balance
	for k, b := range m.balances {
		if k.EmployeeID == employeeID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Period.Before(result[j].Period)
	})
	return result, nil
}

// =============================================================================
// REQUESTS (leave.RequestStore)
// =============================================================================

func (m *Store) CreateRequest(_ context.Context, r leave.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[r.ID]; exists {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	r.StartDate = leave.CalendarDate(r.StartDate)
	r.EndDate = leave.CalendarDate(r.EndDate)
	m.requests[r.ID] = r
	return nil
}

func (m *Store) GetRequest(_ context.Context, id string) (leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return leave.Request{}, leave.ErrRequestNotFound
	}
	return r, nil
}

func (m *Store) ListRequests(_ context.Context, employeeID quota.EmployeeID) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []leave.Request
	for _, r := range m.requests {
		if r.EmployeeID == employeeID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].StartDate.After(result[j].StartDate)
	})
	return result, nil
}

func (m *Store) TransitionRequest(_ context.Context, id string, from, to leave.Status, actor, note string, at time.Time) (leave.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return leave.Request{}, leave.ErrRequestNotFound
	}
	if r.Status != from {
		return leave.Request{}, leave.ErrStatusConflict
	}
	r.Status = to
	r.DecidedBy = actor
	r.Note = note
	r.UpdatedAt = at
	m.requests[id] = r
	return r, nil
}
