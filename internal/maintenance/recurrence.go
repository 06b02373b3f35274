package maintenance

import "time"

// upcomingWindow is how far ahead a due date counts as UPCOMING.
const upcomingWindow = 7

// Advance returns the due date following from. ONCE has no successor and
// reports false. Month-based rules keep the day of month, clamped to the
// last day of the target month (Jan 31 + 1 month = Feb 28/29).
func Advance(from time.Time, freq Frequency) (time.Time, bool) {
	from = dateOnly(from)
	switch freq {
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7), true
	case FrequencyMonthly:
		return addMonths(from, 1), true
	case FrequencyQuarterly:
		return addMonths(from, 3), true
	case FrequencyYearly:
		return addMonths(from, 12), true
	default:
		return time.Time{}, false
	}
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DueStatus classifies nextDue relative to today: OVERDUE when it has passed,
// UPCOMING when it falls within the next seven days, OK otherwise.
func DueStatus(nextDue, today time.Time) Status {
	nextDue, today = dateOnly(nextDue), dateOnly(today)
	switch {
	case nextDue.Before(today):
		return StatusOverdue
	case !nextDue.After(today.AddDate(0, 0, upcomingWindow)):
		return StatusUpcoming
	default:
		return StatusOK
	}
}
