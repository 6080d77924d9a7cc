package aggregate

import "time"

// parseDay turns a "YYYY-MM-DD" grouping key back into usage_start/
// usage_end timestamps (usage_end = usage_start + 1 day, per the data
// model's invariant 5) and the zero-padded year/month/day strings the
// output schema requires (invariant 6).
func parseDay(day string) (usageStart, usageEnd time.Time, year, month, dayStr string, ok bool) {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return time.Time{}, time.Time{}, "", "", "", false
	}
	return t, t.AddDate(0, 0, 1), t.Format("2006"), t.Format("01"), t.Format("02"), true
}
