package valueobject

import "time"

// AddMonths adds n calendar months to t, clamping the day to the end of the
// target month (31 Jan + 1 month = 28/29 Feb). Always counted from t, so
// repeated stepping from an origination date does not drift.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := DaysInMonth(first); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DaysInMonth returns the number of days in t's month.
func DaysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// IsMonthEnd reports whether t falls on the last calendar day of its month.
func IsMonthEnd(t time.Time) bool {
	return t.Day() == DaysInMonth(t)
}

// MonthsBetween counts whole calendar months from a to b ignoring days.
// Negative when b precedes a.
func MonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// SameMonth reports whether a and b share year and month.
func SameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
