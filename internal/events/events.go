// Package events defines the payloads published through the outbox.
package events

import "time"

// ActivityScored is emitted after an activity has been persisted and scored.
// The anti-cheat consumer uses it to run overlap detection off the request
// path.
type ActivityScored struct {
	ActivityID      string    `json:"activity_id"`
	UserID          string    `json:"user_id"`
	Source          string    `json:"source"`
	ActivityType    string    `json:"activity_type"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int       `json:"duration_seconds"`
	DistanceMeters  int       `json:"distance_meters"`
	Steps           int       `json:"steps"`
	Points          int       `json:"points"`
	WeekStartDate   string    `json:"week_start_date"`
}

// PointsAwarded is emitted once per activity when its points entry is
// inserted. It never fires on redelivered or updated activities.
type PointsAwarded struct {
	ActivityID    string `json:"activity_id"`
	UserID        string `json:"user_id"`
	WeekStartDate string `json:"week_start_date"`
	Points        int    `json:"points"`
	Reason        string `json:"reason"`
}
