package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScoreSteps(t *testing.T) {
	cases := []struct {
		name   string
		steps  int
		points int
		reason string
	}{
		{"zero", 0, 0, "steps 0"},
		{"negative treated as zero", -500, 0, "steps 0"},
		{"one thousand", 1000, 1, "steps 1000"},
		{"floors partial thousands", 10500, 10, "steps 10500"},
		{"clamped at hundred thousand", 250000, 100, "steps 100000"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			points, reason := Score(Activity{Type: TypeSteps, Steps: tc.steps})
			require.Equal(t, tc.points, points)
			require.Equal(t, tc.reason, reason)
		})
	}
}

func TestScoreDistance(t *testing.T) {
	cases := []struct {
		name     string
		typ      ActivityType
		distance int
		raw      string
		points   int
		reason   string
	}{
		{"run under bonus", TypeRun, 4900, "", 4, "run 4.90km"},
		{"run with bonus", TypeRun, 5200, "", 10, "run 5.20km +bonus5"},
		{"run clamped to 100km", TypeRun, 150000, "", 105, "run 100.00km +bonus5"},
		{"ride", TypeRide, 20000, "", 10, "ride 20.00km"},
		{"ride commute halved", TypeRide, 20000, `{"commute":true}`, 5, "ride 20.00km (reduced)"},
		{"ride trainer halved", TypeRide, 20000, `{"trainer":true}`, 5, "ride 20.00km (reduced)"},
		{"ride clamped to 300km", TypeRide, 400000, "", 150, "ride 300.00km"},
		{"swim", TypeSwim, 3000, "", 9, "swim 3.00km"},
		{"swim clamped to 20km", TypeSwim, 30000, "", 60, "swim 20.00km"},
		{"missing distance", TypeRun, 0, "", 0, "run 0.00km"},
		{"unknown type", ActivityType("yoga"), 10000, "", 0, "yoga 10.00km"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := Activity{Type: tc.typ, DistanceMeters: tc.distance}
			if tc.raw != "" {
				a.Raw = json.RawMessage(tc.raw)
			}
			points, reason := Score(a)
			require.Equal(t, tc.points, points)
			require.Equal(t, tc.reason, reason)
		})
	}
}

func TestScoreIsPure(t *testing.T) {
	a := Activity{
		Type:           TypeRide,
		DistanceMeters: 42195,
		Raw:            json.RawMessage(`{"commute":true,"name":"evening spin"}`),
	}

	p1, r1 := Score(a)
	p2, r2 := Score(a)
	require.Equal(t, p1, p2)
	require.Equal(t, r1, r2)
}

func TestScoreIgnoresMalformedRaw(t *testing.T) {
	points, reason := Score(Activity{
		Type:           TypeRide,
		DistanceMeters: 20000,
		Raw:            json.RawMessage(`{broken`),
	})
	require.Equal(t, 10, points)
	require.Equal(t, "ride 20.00km", reason)
}

func TestWeekStart(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			"midweek",
			time.Date(2024, time.May, 15, 14, 30, 0, 0, time.UTC),
			time.Date(2024, time.May, 13, 0, 0, 0, 0, time.UTC),
		},
		{
			"sunday rolls back to prior monday",
			time.Date(2024, time.May, 19, 23, 59, 0, 0, time.UTC),
			time.Date(2024, time.May, 13, 0, 0, 0, 0, time.UTC),
		},
		{
			"monday maps to itself",
			time.Date(2024, time.May, 13, 0, 0, 1, 0, time.UTC),
			time.Date(2024, time.May, 13, 0, 0, 0, 0, time.UTC),
		},
		{
			"year boundary",
			time.Date(2025, time.January, 1, 8, 0, 0, 0, time.UTC),
			time.Date(2024, time.December, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			"non-utc input normalised",
			time.Date(2024, time.May, 14, 1, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
			time.Date(2024, time.May, 13, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, WeekStart(tc.in))
		})
	}
}
