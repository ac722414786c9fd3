package strava

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fitleague/internal/domain"
)

func TestNormalizeMapsKnownTypes(t *testing.T) {
	cases := []struct {
		stravaType string
		want       domain.ActivityType
	}{
		{"Run", domain.TypeRun},
		{"Ride", domain.TypeRide},
		{"Swim", domain.TypeSwim},
		{"NordicSki", domain.TypeRun},
		{"", domain.TypeRun},
	}

	for _, tc := range cases {
		t.Run(tc.stravaType, func(t *testing.T) {
			raw := []byte(`{"type":"` + tc.stravaType + `","distance":1000,"moving_time":600,"start_date":"2024-05-15T06:00:00Z"}`)
			activity, err := Normalize(raw)
			require.NoError(t, err)
			require.Equal(t, tc.want, activity.Type)
		})
	}
}

func TestNormalizeFields(t *testing.T) {
	raw := []byte(`{
		"type": "Ride",
		"distance": 20123.4,
		"moving_time": 3540.8,
		"elapsed_time": 3900,
		"start_date": "2024-05-15T06:00:00Z",
		"commute": true
	}`)

	activity, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, domain.SourceStrava, activity.Source)
	require.Equal(t, 20123, activity.DistanceMeters)
	require.Equal(t, 3541, activity.DurationSeconds)
	require.Equal(t, time.Date(2024, time.May, 15, 6, 0, 0, 0, time.UTC), activity.StartTime)
	require.JSONEq(t, string(raw), string(activity.Raw))
}

func TestNormalizeFallsBackToElapsedTime(t *testing.T) {
	raw := []byte(`{"type":"Run","elapsed_time":1800,"start_date":"2024-05-15T06:00:00Z"}`)
	activity, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, 1800, activity.DurationSeconds)
}

func TestNormalizeDefensiveDefaults(t *testing.T) {
	activity, err := Normalize([]byte(`{"type":"Run"}`))
	require.NoError(t, err)
	require.Zero(t, activity.DistanceMeters)
	require.Zero(t, activity.DurationSeconds)
	require.WithinDuration(t, time.Now().UTC(), activity.StartTime, 5*time.Second)

	activity, err = Normalize([]byte(`{"type":"Run","distance":-5,"moving_time":-10}`))
	require.NoError(t, err)
	require.Zero(t, activity.DistanceMeters)
	require.Zero(t, activity.DurationSeconds)
}

func TestNormalizePrefersStartDateOverLocal(t *testing.T) {
	raw := []byte(`{"type":"Run","start_date":"2024-05-15T06:00:00Z","start_date_local":"2024-05-15T08:00:00Z"}`)
	activity, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.May, 15, 6, 0, 0, 0, time.UTC), activity.StartTime)
}

func TestNormalizeRejectsUndecodablePayload(t *testing.T) {
	_, err := Normalize([]byte(`not json`))
	require.Error(t, err)
}
