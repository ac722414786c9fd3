// Package domain defines the business logic for the fitness league service.
package domain

import (
	"encoding/json"
	"time"
)

// ActivitySource identifies where an activity record originated.
type ActivitySource string

const (
	SourceStrava ActivitySource = "strava"
	SourceManual ActivitySource = "manual"
)

// ActivityType is the canonical, provider-agnostic activity taxonomy.
type ActivityType string

const (
	TypeSteps ActivityType = "steps"
	TypeRun   ActivityType = "run"
	TypeRide  ActivityType = "ride"
	TypeSwim  ActivityType = "swim"
)

// Activity is the canonical workout record stored in PostgreSQL. Rows are
// unique on (user_id, start_time, activity_type); that triple is the
// idempotency key for redelivered provider webhooks.
type Activity struct {
	ID              string
	UserID          string
	Source          ActivitySource
	Type            ActivityType
	StartTime       time.Time
	DurationSeconds int
	DistanceMeters  int
	Steps           int
	Raw             json.RawMessage
	CreatedAt       time.Time
}

// PointsEntry records the points awarded for a single activity. Exactly one
// entry exists per activity and it is never mutated after insert.
type PointsEntry struct {
	ActivityID    string
	UserID        string
	WeekStartDate time.Time
	Points        int
	Reason        string
}

// Credential holds per-user OAuth token state for a provider. One row per
// (user, provider); mutated only by token refresh.
type Credential struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
}

// TokenPair is the result of a provider token refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// SuspectFlag is an append-only audit record raised by the overlap detector.
// It is consumed by operators, never by the scoring path.
type SuspectFlag struct {
	UserID    string
	Kind      string
	Detail    json.RawMessage
	CreatedAt time.Time
}

// ActivityWindowEntry is the slim projection the overlap detector scans.
type ActivityWindowEntry struct {
	ID              string
	StartTime       time.Time
	DurationSeconds int
}

// League is a named group of users whose points are ranked together.
type League struct {
	ID          string
	Name        string
	Description string
	CreatedBy   string
	IsPublic    bool
	CreatedAt   time.Time
}

// MemberRole is the part a user plays inside a league.
type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAdmin  MemberRole = "admin"
)

// LeaderboardRow is a computed weekly ranking entry for a league member.
type LeaderboardRow struct {
	UserID      string
	LeagueID    string
	WeekStart   time.Time
	PointsTotal int
}

// WeeklySummary bundles a user's current-week total with recent activity.
type WeeklySummary struct {
	WeekStart time.Time
	Total     int
	Recent    []Activity
}

// Cursor models the pagination token for activity listings.
type Cursor struct {
	StartTime time.Time
	ID        string
}
