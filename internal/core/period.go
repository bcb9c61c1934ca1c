package core

import "time"

// Period is a half-open time range [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// MonthBounds returns the calendar month offset months away from ref's month.
//
// Start is 00:00:00 on day 1 of that month and End is the first instant of
// the following month, both in ref's location. Year roll-over falls out of
// time.Date normalisation, so January with offset -1 is the prior December.
func MonthBounds(ref time.Time, offset int) Period {
	y, m, _ := ref.Date()
	loc := ref.Location()
	return Period{
		Start: time.Date(y, m+time.Month(offset), 1, 0, 0, 0, 0, loc),
		End:   time.Date(y, m+time.Month(offset)+1, 1, 0, 0, 0, 0, loc),
	}
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// ShortMonthName returns the three-letter English month name ("Jan").
func ShortMonthName(m time.Month) string {
	return m.String()[:3]
}
