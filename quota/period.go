package quota

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - A calendar month
// =============================================================================

// Period identifies the accrual month of a balance.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the calendar month containing t, in t's own location.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// Previous returns the preceding calendar month. January rolls back to
// December of the prior year.
func (p Period) Previous() Period {
	if p.Month == time.January {
		return Period{Year: p.Year - 1, Month: time.December}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Next returns the following calendar month.
func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// Before reports whether p is strictly earlier than other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

// ZeroBasedMonth returns the month as 0-11, the form used on the wire.
func (p Period) ZeroBasedMonth() int { return int(p.Month) - 1 }

// Start returns the first day of the month in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the month in UTC.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// =============================================================================
// DATE PARSING
// =============================================================================

const dateLayout = "2006-01-02"

// ParseDate interprets s as a calendar date. Accepted forms are YYYY-MM-DD and
// RFC3339. Anything else yields an *InvalidDateError; there is no fallback to
// the current date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &InvalidDateError{Input: s, Reason: "empty date"}
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &InvalidDateError{Input: s, Reason: "expected YYYY-MM-DD or RFC3339"}
	}
	return t, nil
}

// checkDate rejects the zero time, which is how an unset date reaches the
// engine from Go callers.
func checkDate(t time.Time) error {
	if t.IsZero() {
		return &InvalidDateError{Reason: "zero date"}
	}
	return nil
}
