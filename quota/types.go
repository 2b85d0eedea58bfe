/*
Package quota provides the monthly leave-quota engine.

PURPOSE:
  Tracks, per employee and per calendar month, how much full-day, half-day
  and short leave has been allotted, carried forward and used. Every other
  part of the system (the request workflow, the HTTP API) reads and writes
  balances only through this package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Balance: one employee's quota/usage snapshot for one calendar month
  - Allowance: a bucket with quota, usage and carry-forward
  - ShortAllowance: the short-leave bucket (never carries forward)
  - LeaveType / Bucket: closed enumerations and the single mapping table
  - Allotment: the monthly quota given to a freshly created balance

DESIGN PRINCIPLES:
  1. One record per (employee, year, month), enforced by the store
  2. Carry-forward is computed once, at creation, and frozen
  3. Usage is a pure ledger: increments and decrements are never clamped
  4. Classification of leave types lives in exactly one table

USAGE:
  resolver := quota.NewResolver(store, quota.DefaultAllotment, logger)
  bal, err := resolver.Resolve(ctx, "emp-1", time.Now())
  if quota.HasQuota(bal, quota.CasualFull) {
      ...
  }

SEE ALSO:
  - period.go: calendar month arithmetic
  - resolver.go: lazy creation with carry-forward
  - policy.go: quota decision function
  - ledger.go: usage increments
*/
package quota

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// EmployeeID is an opaque employee key. The engine never checks that the
// employee exists.
type EmployeeID string

// =============================================================================
// ALLOWANCES - One bucket inside a balance
// =============================================================================

// Allowance is a bucket that can carry unused quota into the next month.
type Allowance struct {
	Quota          int
	Used           int
	CarriedForward int
}

// Limit is the effective allotment for the month.
func (a Allowance) Limit() int { return a.Quota + a.CarriedForward }

// Unused returns what is left of the effective allotment, never below zero.
func (a Allowance) Unused() int { return max(0, a.Limit()-a.Used) }

// ShortAllowance is the short-leave bucket. It has no carry-forward term.
type ShortAllowance struct {
	Quota int
	Used  int
}

// Unused returns what is left of the short quota, never below zero.
func (a ShortAllowance) Unused() int { return max(0, a.Quota-a.Used) }

// =============================================================================
// BALANCE - Persisted per employee, per calendar month
// =============================================================================

// Balance is the leave balance of one employee for one calendar month.
type Balance struct {
	ID         string
	EmployeeID EmployeeID
	Period     Period

	FullDay Allowance
	HalfDay Allowance
	Short   ShortAllowance

	CreatedAt time.Time
}

// UsedIn returns the usage counter of the given bucket. BucketNone reports 0.
func (b Balance) UsedIn(bucket Bucket) int {
	switch bucket {
	case BucketFullDay:
		return b.FullDay.Used
	case BucketHalfDay:
		return b.HalfDay.Used
	case BucketShort:
		return b.Short.Used
	default:
		return 0
	}
}

// =============================================================================
// ALLOTMENT - Monthly quota given to a new balance
// =============================================================================

// Allotment is the per-month quota assigned when a balance is created.
type Allotment struct {
	FullDay int
	HalfDay int
	Short   int
}

// DefaultAllotment is the standard monthly allotment: one full day, two half
// days and one short leave.
var DefaultAllotment = Allotment{FullDay: 1, HalfDay: 2, Short: 1}

// =============================================================================
// LEAVE TYPES AND BUCKETS
// =============================================================================

// LeaveType tags a leave request.
type LeaveType string

const (
	SickFull   LeaveType = "sick_full"
	CasualFull LeaveType = "casual_full"
	SickHalf   LeaveType = "sick_half"
	CasualHalf LeaveType = "casual_half"
	Short      LeaveType = "short"
	Unpaid     LeaveType = "unpaid"
	Other      LeaveType = "other"
)

// Bucket is the balance counter a leave type is charged against.
type Bucket string

const (
	BucketNone    Bucket = "none" // unrestricted, not tracked against quota
	BucketFullDay Bucket = "full_day"
	BucketHalfDay Bucket = "half_day"
	BucketShort   Bucket = "short"
)

// bucketByType is the only place where leave types are classified.
// Adding a leave type means adding a row here.
var bucketByType = map[LeaveType]Bucket{
	SickFull:   BucketFullDay,
	CasualFull: BucketFullDay,
	SickHalf:   BucketHalfDay,
	CasualHalf: BucketHalfDay,
	Short:      BucketShort,
	Unpaid:     BucketNone,
	Other:      BucketNone,
}

// Bucket returns the bucket this type is charged against. Types missing from
// the table are unrestricted.
func (t LeaveType) Bucket() Bucket {
	if b, ok := bucketByType[t]; ok {
		return b
	}
	return BucketNone
}

// Known reports whether the type is part of the enumeration.
func (t LeaveType) Known() bool {
	_, ok := bucketByType[t]
	return ok
}

// ParseLeaveType converts a tag into a LeaveType, rejecting unknown tags.
func ParseLeaveType(s string) (LeaveType, error) {
	t := LeaveType(s)
	if !t.Known() {
		return "", &UnknownLeaveTypeError{Tag: s}
	}
	return t, nil
}

// LeaveTypes returns every known leave type in a stable order.
func LeaveTypes() []LeaveType {
	return []LeaveType{SickFull, CasualFull, SickHalf, CasualHalf, Short, Unpaid, Other}
}
