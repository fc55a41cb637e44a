package query

import (
	"fmt"
	"time"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// MonthRange returns the half-open calendar month containing t, in loc.
func MonthRange(t time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// ParseMonth parses "YYYY-MM" into its half-open range in loc.
func ParseMonth(s string, loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(monthLayout, s, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("month %q: want YYYY-MM", s)
	}
	start, end = MonthRange(t, loc)
	return start, end, nil
}

// DayRange returns the half-open range of a day key in loc. Days shortened
// or lengthened by DST transitions are handled by the calendar arithmetic.
func DayRange(day string, loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(dayLayout, day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("day %q: want YYYY-MM-DD", day)
	}
	return t, t.AddDate(0, 0, 1), nil
}

// ParseTime accepts RFC 3339 timestamps and YYYY-MM-DD dates. A bare date
// is midnight in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dayLayout, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("time %q: want RFC 3339 or YYYY-MM-DD", s)
}

// ParseRange resolves optional from/to strings. A missing from is the
// start of the current month, a missing to is one month after from. A bare
// date in to is inclusive: the range ends at the following midnight.
func ParseRange(from, to string, now time.Time, loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.Local
	}
	if from == "" {
		start, _ = MonthRange(now, loc)
	} else if start, err = ParseTime(from, loc); err != nil {
		return time.Time{}, time.Time{}, err
	}

	switch {
	case to == "":
		end = start.AddDate(0, 1, 0)
	case len(to) == len(dayLayout):
		_, end, err = DayRange(to, loc)
	default:
		end, err = ParseTime(to, loc)
	}
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("range end %s is before start %s", to, from)
	}
	return start, end, nil
}
