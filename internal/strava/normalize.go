package strava

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"example.com/fitleague/internal/domain"
)

// typeMap translates Strava's sport taxonomy into the canonical enum.
// Anything unmapped falls back to run; the default is deliberate and keeps
// unrecognized sports scorable rather than dropped.
var typeMap = map[string]domain.ActivityType{
	"Run":  domain.TypeRun,
	"Ride": domain.TypeRide,
	"Swim": domain.TypeSwim,
}

const fallbackType = domain.TypeRun

// summary is the subset of a Strava activity payload the normalizer reads.
type summary struct {
	Type           string  `json:"type"`
	Distance       float64 `json:"distance"`
	MovingTime     float64 `json:"moving_time"`
	ElapsedTime    float64 `json:"elapsed_time"`
	StartDate      string  `json:"start_date"`
	StartDateLocal string  `json:"start_date_local"`
}

// Normalize maps a raw Strava activity payload onto a canonical Activity.
// Missing or zero metric fields become zero values; the function never fails
// on absent fields, only on undecodable JSON. The full raw payload is kept
// on the record for scoring flags and auditing.
func Normalize(raw []byte) (domain.Activity, error) {
	var s summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Activity{}, fmt.Errorf("decode activity payload: %w", err)
	}

	activityType, ok := typeMap[s.Type]
	if !ok {
		activityType = fallbackType
	}

	duration := s.MovingTime
	if duration <= 0 {
		duration = s.ElapsedTime
	}

	return domain.Activity{
		Source:          domain.SourceStrava,
		Type:            activityType,
		StartTime:       parseStart(s),
		DurationSeconds: nonNegative(duration),
		DistanceMeters:  nonNegative(s.Distance),
		Raw:             json.RawMessage(raw),
	}, nil
}

func parseStart(s summary) time.Time {
	for _, candidate := range []string{s.StartDate, s.StartDateLocal} {
		if candidate == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, candidate); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

func nonNegative(v float64) int {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return int(math.Round(v))
}
