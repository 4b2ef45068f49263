package api

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Selection is the day (or range of days) picked in the calendar.
// Only the start of a range is ever used for saving or filtering.
type Selection struct {
	start   civil.Date
	end     civil.Date
	isRange bool
}

// Single selects one day.
func Single(d civil.Date) Selection {
	return Selection{start: d, end: d}
}

// Range selects the days from start to end. The bounds are swapped if end is before start.
func Range(start, end civil.Date) Selection {
	if end.Before(start) {
		start, end = end, start
	}
	return Selection{start: start, end: end, isRange: true}
}

// Today selects the current day in loc.
func Today(loc *time.Location) Selection {
	return Single(civil.DateOf(time.Now().In(loc)))
}

// EffectiveDate returns the selected day, or the first day of a range.
func (s Selection) EffectiveDate() civil.Date {
	return s.start
}

// IsRange reports whether the selection is a range.
func (s Selection) IsRange() bool {
	return s.isRange
}

// Bounds returns the first and last selected day. Both are equal for a single day.
func (s Selection) Bounds() (start, end civil.Date) {
	return s.start, s.end
}

func (s Selection) String() string {
	if s.isRange {
		return fmt.Sprintf("%s..%s", s.start, s.end)
	}
	return s.start.String()
}
