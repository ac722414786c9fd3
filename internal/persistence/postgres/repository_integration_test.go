//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/fitleague/internal/domain"
)

func setupRepository(t *testing.T, ctx context.Context) *Repository {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("fitleague"),
		postgrescontainer.WithUsername("fitleague"),
		postgrescontainer.WithPassword("fitleague"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewRepository(pool)
}

func TestMarkEventProcessedDeduplicates(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	first, err := repo.MarkEventProcessed(ctx, 12345)
	require.NoError(t, err)
	require.True(t, first)

	again, err := repo.MarkEventProcessed(ctx, 12345)
	require.NoError(t, err)
	require.False(t, again)
}

func TestSaveActivityWithPointsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	userID := uuid.NewString()
	start := time.Date(2024, time.May, 14, 7, 0, 0, 0, time.UTC)

	activity := domain.Activity{
		ID:              uuid.NewString(),
		UserID:          userID,
		Source:          domain.SourceStrava,
		Type:            domain.TypeRun,
		StartTime:       start,
		DurationSeconds: 1800,
		DistanceMeters:  5200,
		Raw:             json.RawMessage(`{"type":"Run"}`),
		CreatedAt:       time.Now().UTC(),
	}
	entry := domain.PointsEntry{
		ActivityID:    activity.ID,
		UserID:        userID,
		WeekStartDate: domain.WeekStart(start),
		Points:        10,
		Reason:        "run 5.20km +bonus5",
	}

	stored, inserted, err := repo.SaveActivityWithPoints(ctx, activity, entry)
	require.NoError(t, err)
	require.True(t, inserted)

	// Redelivery with a fresh ID collides on (user, start, type) and must
	// not award points again.
	redelivery := activity
	redelivery.ID = uuid.NewString()
	redelivery.DurationSeconds = 1805
	entry2 := entry
	entry2.ActivityID = redelivery.ID

	updated, insertedAgain, err := repo.SaveActivityWithPoints(ctx, redelivery, entry2)
	require.NoError(t, err)
	require.False(t, insertedAgain)
	require.Equal(t, stored.ID, updated.ID, "upsert must return the canonical stored ID")

	total, err := repo.WeeklyTotal(ctx, userID, domain.WeekStart(start))
	require.NoError(t, err)
	require.Equal(t, 10, total)

	acts, next, err := repo.ListActivitiesByUser(ctx, userID, nil, 10)
	require.NoError(t, err)
	require.Nil(t, next)
	require.Len(t, acts, 1)
	require.Equal(t, 1805, acts[0].DurationSeconds, "update must refresh mutable fields")
}

func TestLeaderboardOrdersByPointsThenUserID(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	start := time.Date(2024, time.May, 13, 6, 0, 0, 0, time.UTC)
	weekStart := domain.WeekStart(start)

	league := domain.League{
		ID:        uuid.NewString(),
		Name:      "integration",
		CreatedBy: "user-a",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateLeague(ctx, league, domain.RoleAdmin))
	require.NoError(t, repo.UpsertMembership(ctx, league.ID, "user-b", domain.RoleMember))
	require.NoError(t, repo.UpsertMembership(ctx, league.ID, "user-c", domain.RoleMember))

	score := func(userID string, points int, offset time.Duration) {
		activity := domain.Activity{
			ID:        uuid.NewString(),
			UserID:    userID,
			Source:    domain.SourceManual,
			Type:      domain.TypeSteps,
			StartTime: start.Add(offset),
			Steps:     points * 1000,
			Raw:       json.RawMessage(`{}`),
			CreatedAt: time.Now().UTC(),
		}
		entry := domain.PointsEntry{
			ActivityID:    activity.ID,
			UserID:        userID,
			WeekStartDate: weekStart,
			Points:        points,
			Reason:        "steps",
		}
		_, _, err := repo.SaveActivityWithPoints(ctx, activity, entry)
		require.NoError(t, err)
	}

	score("user-a", 10, 0)
	score("user-b", 25, time.Hour)
	score("user-c", 25, 2*time.Hour)

	rows, err := repo.Leaderboard(ctx, league.ID, weekStart, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "user-b", rows[0].UserID)
	require.Equal(t, "user-c", rows[1].UserID)
	require.Equal(t, "user-a", rows[2].UserID)
	require.Equal(t, 25, rows[0].PointsTotal)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
