/*
policy.go - The quota decision function

RULES:
  full-day:  refused if any half-day has been used this month, otherwise
             allowed while FullDay.Used < FullDay.Quota + FullDay.CarriedForward
  half-day:  refused if any full-day has been used this month, otherwise
             allowed while HalfDay.Used < HalfDay.Quota + HalfDay.CarriedForward
  short:     allowed while Short.Used < Short.Quota
  none:      always allowed (unpaid, other)

MUTUAL EXCLUSION:
  Full-day and half-day are two granularities of the same monthly paid
  allotment. A single use of one blocks the other for the rest of the month,
  regardless of how much quota the other bucket has left.

SEE ALSO:
  - ledger.go: Consume applies the same rules inside the store
*/
package quota

// HasQuota reports whether a leave of type t fits in b. It performs no I/O.
func HasQuota(b Balance, t LeaveType) bool {
	return Allows(b, t.Bucket())
}

// Allows applies the quota rules to a bucket directly.
func Allows(b Balance, bucket Bucket) bool {
	switch bucket {
	case BucketFullDay:
		if b.HalfDay.Used > 0 {
			return false
		}
		return b.FullDay.Used < b.FullDay.Limit()
	case BucketHalfDay:
		if b.FullDay.Used > 0 {
			return false
		}
		return b.HalfDay.Used < b.HalfDay.Limit()
	case BucketShort:
		return b.Short.Used < b.Short.Quota
	default:
		return true
	}
}
