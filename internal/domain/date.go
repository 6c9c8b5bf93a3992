package domain

import (
	"fmt"
	"time"
)

// Date is a plain calendar date with no time-of-day or zone. UTC instants
// are converted to Dates once at the boundary (see DateOf); all valuation
// and returns logic operates on Dates from there on.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// NewDate builds a Date from components.
func NewDate(year int, month time.Month, day int) Date {
	// Normalize through time.Date so Feb 30 etc. roll over the same way
	// the standard library does.
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// DateOf converts an instant to the calendar date it falls on in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	lt := t.In(loc)
	return Date{Year: lt.Year(), Month: lt.Month(), Day: lt.Day()}
}

// Today returns the current date in loc.
func Today(loc *time.Location) Date {
	return DateOf(time.Now(), loc)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Time().Format(dateLayout)
}

// Time returns the date at midnight UTC. Used for day arithmetic only.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	t := d.Time().AddDate(0, 0, n)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// AddMonths subtracts or adds whole months, clamping to the last day of the
// target month (Mar 31 minus one month is Feb 28/29, never Mar 2/3).
func (d Date) AddMonths(n int) Date {
	firstOfTarget := time.Date(d.Year, d.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	day := d.Day
	if day > lastDay {
		day = lastDay
	}
	return Date{Year: firstOfTarget.Year(), Month: firstOfTarget.Month(), Day: day}
}

// AddYears returns the date n years from d, clamping Feb 29 to Feb 28.
func (d Date) AddYears(n int) Date {
	return d.AddMonths(n * 12)
}

// Before reports whether d is earlier than other.
func (d Date) Before(other Date) bool {
	return d.Compare(other) < 0
}

// After reports whether d is later than other.
func (d Date) After(other Date) bool {
	return d.Compare(other) > 0
}

// Compare returns -1, 0, or 1 as d is before, equal to, or after other.
func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return cmpInt(d.Year, other.Year)
	case d.Month != other.Month:
		return cmpInt(int(d.Month), int(other.Month))
	default:
		return cmpInt(d.Day, other.Day)
	}
}

// DaysUntil returns the number of calendar days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.Time().Sub(d.Time()).Hours() / 24)
}

// MarshalJSON encodes the date as a "YYYY-MM-DD" JSON string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes a "YYYY-MM-DD" JSON string.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date JSON: %s", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
