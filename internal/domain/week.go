package domain

import "time"

// WeekStart returns the Monday 00:00 UTC of the ISO week containing t.
// It is the aggregation bucket for points and leaderboards.
func WeekStart(t time.Time) time.Time {
	d := t.UTC()
	day := int(d.Weekday())
	diff := 1 - day
	if day == 0 {
		// Sunday belongs to the week that started six days earlier.
		diff = -6
	}
	return time.Date(d.Year(), d.Month(), d.Day()+diff, 0, 0, 0, 0, time.UTC)
}
