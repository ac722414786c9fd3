package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// Per-metric caps applied before any points are computed. They bound the
// influence of erroneous or adversarial reports (GPS drift, spoofed uploads).
const (
	maxSteps  = 100_000
	maxRunKm  = 100
	maxRideKm = 300
	maxSwimKm = 20
)

// runBonusThresholdKm is the distance at which a run earns a flat bonus.
const (
	runBonusThresholdKm = 5
	runBonusPoints      = 5
)

// rideFlags is the subset of a provider payload consulted when scoring rides.
type rideFlags struct {
	Trainer     bool `json:"trainer"`
	FromTrainer bool `json:"from_trainer"`
	Commute     bool `json:"commute"`
}

// Score maps an activity to an integer point value and a deterministic,
// human-readable justification. It is a pure function: the same activity
// always yields the same result, and it never returns a negative value.
func Score(a Activity) (int, string) {
	if a.Type == TypeSteps {
		steps := clampSteps(a.Steps)
		return steps / 1000, fmt.Sprintf("steps %d", steps)
	}

	km := clampDistanceKm(a.Type, toKilometers(a.DistanceMeters))
	reason := fmt.Sprintf("%s %.2fkm", a.Type, km)

	var points int
	switch a.Type {
	case TypeRun:
		points = int(math.Floor(km))
		if km >= runBonusThresholdKm {
			points += runBonusPoints
			reason += " +bonus5"
		}
	case TypeRide:
		points = int(math.Floor(km * 0.5))
		if indoorOrCommute(a.Raw) {
			points = int(math.Floor(float64(points) * 0.5))
			reason += " (reduced)"
		}
	case TypeSwim:
		points = int(math.Floor(km * 3))
	default:
		points = 0
	}

	if points < 0 {
		points = 0
	}
	return points, reason
}

func toKilometers(distanceMeters int) float64 {
	if distanceMeters <= 0 {
		return 0
	}
	return float64(distanceMeters) / 1000
}

func clampDistanceKm(t ActivityType, km float64) float64 {
	if km <= 0 {
		return 0
	}
	switch t {
	case TypeRun:
		return math.Min(km, maxRunKm)
	case TypeRide:
		return math.Min(km, maxRideKm)
	case TypeSwim:
		return math.Min(km, maxSwimKm)
	default:
		return km
	}
}

func clampSteps(steps int) int {
	if steps <= 0 {
		return 0
	}
	if steps > maxSteps {
		return maxSteps
	}
	return steps
}

// indoorOrCommute reports whether the raw provider payload marks the ride as
// a trainer/indoor session or a commute. Malformed payloads count as neither.
func indoorOrCommute(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var flags rideFlags
	if err := json.Unmarshal(raw, &flags); err != nil {
		return false
	}
	return flags.Trainer || flags.FromTrainer || flags.Commute
}
