// Package anticheat flags statistically suspicious activity patterns for
// operator review. Detection is advisory: it never blocks scoring and never
// reverses awarded points.
package anticheat

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"example.com/fitleague/internal/domain"
)

const (
	// minDuration is the shortest activity worth checking for overlaps.
	minDuration = time.Hour
	// windowPadding widens the candidate window on both sides.
	windowPadding = 6 * time.Hour

	// KindOverlap labels flags raised by this detector.
	KindOverlap = "overlapping_long_activities"
)

// ActivityIndex is the slice of persistence the detector reads and writes.
type ActivityIndex interface {
	ActivityStartsInWindow(ctx context.Context, userID string, from, to time.Time) ([]domain.ActivityWindowEntry, error)
	InsertSuspectFlag(ctx context.Context, flag domain.SuspectFlag) error
}

// Detector scans for temporally overlapping long activities belonging to
// the same user. The read-then-log sequence is not isolated from concurrent
// inserts; a flag may occasionally be missed or double-logged, which is
// acceptable for an audit signal.
type Detector struct {
	index ActivityIndex
	log   *zap.Logger
	now   func() time.Time
}

// NewDetector constructs a Detector.
func NewDetector(index ActivityIndex, log *zap.Logger) *Detector {
	return &Detector{index: index, log: log, now: time.Now}
}

// overlapDetail is the flag payload written for operators.
type overlapDetail struct {
	UserID          string           `json:"user_id"`
	StartTime       time.Time        `json:"start_time"`
	DurationSeconds int              `json:"duration_seconds"`
	WindowFrom      time.Time        `json:"window_from"`
	WindowTo        time.Time        `json:"window_to"`
	Overlaps        []overlapSibling `json:"overlaps"`
}

type overlapSibling struct {
	ActivityID      string    `json:"activity_id"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int       `json:"duration_seconds"`
}

// Flag checks the activity against its temporal neighbourhood and records a
// suspect flag when another activity starts within six hours of its window.
// Activities shorter than one hour are never checked. The return value is
// informational; callers do not block on it.
func (d *Detector) Flag(ctx context.Context, userID string, start time.Time, durationSeconds int) (bool, error) {
	if durationSeconds <= 0 || time.Duration(durationSeconds)*time.Second < minDuration {
		return false, nil
	}

	end := start.Add(time.Duration(durationSeconds) * time.Second)
	from := start.Add(-windowPadding)
	to := end.Add(windowPadding)

	entries, err := d.index.ActivityStartsInWindow(ctx, userID, from, to)
	if err != nil {
		return false, err
	}

	// The row under test may not have a distinguishing key yet, so exclude
	// it by start-time value rather than identity.
	overlaps := make([]overlapSibling, 0, len(entries))
	for _, e := range entries {
		if e.StartTime.Equal(start) {
			continue
		}
		overlaps = append(overlaps, overlapSibling{
			ActivityID:      e.ID,
			StartTime:       e.StartTime,
			DurationSeconds: e.DurationSeconds,
		})
	}
	if len(overlaps) == 0 {
		return false, nil
	}

	detail, err := json.Marshal(overlapDetail{
		UserID:          userID,
		StartTime:       start,
		DurationSeconds: durationSeconds,
		WindowFrom:      from,
		WindowTo:        to,
		Overlaps:        overlaps,
	})
	if err != nil {
		return false, err
	}

	flag := domain.SuspectFlag{
		UserID:    userID,
		Kind:      KindOverlap,
		Detail:    detail,
		CreatedAt: d.now().UTC(),
	}
	if err := d.index.InsertSuspectFlag(ctx, flag); err != nil {
		return false, err
	}

	d.log.Warn("suspect activity pattern flagged",
		zap.String("user_id", userID),
		zap.String("kind", KindOverlap),
		zap.Int("overlaps", len(overlaps)))

	return true, nil
}
