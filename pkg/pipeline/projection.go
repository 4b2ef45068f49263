package pipeline

import (
	"slices"
	"time"

	"cloud.google.com/go/civil"

	"github.com/ArionMiles/receiptcal/pkg/api"
)

// HasRecord reports whether any record falls on day.
func HasRecord(records []api.Expense, day civil.Date) bool {
	return slices.ContainsFunc(records, func(e api.Expense) bool { return e.Date == day })
}

// RecordsOn returns the records on day in their original order. The result
// is never nil.
func RecordsOn(records []api.Expense, day civil.Date) []api.Expense {
	out := []api.Expense{}
	for _, e := range records {
		if e.Date == day {
			out = append(out, e)
		}
	}
	return out
}

// MarkedDays returns the distinct days in the given month that have at least
// one record, in ascending order.
func MarkedDays(records []api.Expense, year int, month time.Month) []civil.Date {
	var days []civil.Date
	for _, e := range records {
		if e.Date.Year == year && e.Date.Month == month && !slices.Contains(days, e.Date) {
			days = append(days, e.Date)
		}
	}
	slices.SortFunc(days, func(a, b civil.Date) int { return a.Compare(b) })
	return days
}

// DayTotal sums the amounts of the records on day.
func DayTotal(records []api.Expense, day civil.Date) int64 {
	var total int64
	for _, e := range records {
		if e.Date == day {
			total += e.Amount
		}
	}
	return total
}
