package model

import "time"

// DayLayout is the calendar-day format used for comparisons and API input.
const DayLayout = "2006-01-02"

// DayOf returns the calendar day t falls on.
//
// Date values (all-day feed entries, blocks) are stored at UTC midnight and
// keep their UTC date. Timestamped values are read in loc, so a 10:00 checkout
// in Warsaw is a Warsaw day regardless of the server's own zone.
func DayOf(t time.Time, loc *time.Location) string {
	if IsDateValue(t) {
		return t.UTC().Format(DayLayout)
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// IsDateValue reports whether t sits exactly on UTC midnight.
func IsDateValue(t time.Time) bool {
	u := t.UTC()
	return u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0
}

func SameDay(a, b time.Time, loc *time.Location) bool {
	return DayOf(a, loc) == DayOf(b, loc)
}

// ParseDay parses YYYY-MM-DD into a UTC-midnight date value.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayLayout, s)
}

// DayStart returns UTC midnight of the calendar day t falls on in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	d, _ := ParseDay(DayOf(t, loc))
	return d
}

// Overlaps is the half-open interval test used for block rejection: touching
// intervals (one ends when the other starts) do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// OverlapsWindow is the inclusive window test used by fetch and sync:
// start <= to && end >= from.
func OverlapsWindow(start, end, from, to time.Time) bool {
	return !start.After(to) && !end.Before(from)
}
