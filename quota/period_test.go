package quota_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaushalicodelabs/erp-leave/quota"
)

func TestPeriod_PreviousRollsOverYear(t *testing.T) {
	jan := quota.PeriodOf(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, quota.Period{Year: 2025, Month: time.January}, jan)
	assert.Equal(t, quota.Period{Year: 2024, Month: time.December}, jan.Previous())
	assert.Equal(t, quota.Period{Year: 2025, Month: time.February}, jan.Next())

	dec := quota.Period{Year: 2024, Month: time.December}
	assert.Equal(t, jan, dec.Next())
	assert.Equal(t, quota.Period{Year: 2024, Month: time.November}, dec.Previous())
}

func TestPeriod_Ordering(t *testing.T) {
	a := quota.Period{Year: 2024, Month: time.December}
	b := quota.Period{Year: 2025, Month: time.January}
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.False(t, a.Before(a))
}

func TestPeriod_Bounds(t *testing.T) {
	feb := quota.Period{Year: 2024, Month: time.February}
	assert.Equal(t, 1, feb.ZeroBasedMonth())
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), feb.Start())
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), feb.End())
	assert.Equal(t, "2024-02", feb.String())
}

func TestPeriodOf_UsesDateLocation(t *testing.T) {
	// 23:30 on Jan 31 in UTC-5 is already February in UTC.
	loc := time.FixedZone("EST", -5*3600)
	d := time.Date(2025, time.January, 31, 23, 30, 0, 0, loc)
	assert.Equal(t, time.January, quota.PeriodOf(d).Month)
	assert.Equal(t, time.February, quota.PeriodOf(d.UTC()).Month)
}

func TestParseDate(t *testing.T) {
	d, err := quota.ParseDate("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), d)

	d, err = quota.ParseDate("2025-03-10T09:30:00+05:30")
	require.NoError(t, err)
	assert.Equal(t, time.March, d.Month())

	for _, bad := range []string{"", "   ", "yesterday", "2025-02-30", "2025-13-01", "10/03/2025"} {
		_, err := quota.ParseDate(bad)
		assert.ErrorIs(t, err, quota.ErrInvalidDate, "input %q", bad)
		var dateErr *quota.InvalidDateError
		assert.ErrorAs(t, err, &dateErr)
	}
}
