package domain

import "time"

// CalendarEvent is a busy interval fetched from an external calendar
// provider. It exists only for conflict detection: instances live inside a
// single aggregation call and its cache entry, never in the database.
type CalendarEvent struct {
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
	CalendarID string           `json:"calendar_id"`
	Provider   CalendarProvider `json:"provider"`
	Summary    string           `json:"summary,omitempty"`
}

// Overlaps reports whether the busy interval intersects [start, end) using
// the strict overlap test: busy.Start < end AND busy.End > start.
func (e CalendarEvent) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && e.End.After(start)
}
