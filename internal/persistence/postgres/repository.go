// Package postgres provides pgx-backed persistence for activities, points,
// credentials, leagues, and the transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fitleague/internal/domain"
	"example.com/fitleague/internal/events"
	"example.com/fitleague/internal/observability"
)

// Repository implements the domain store interfaces against PostgreSQL. All
// idempotency guarantees are enforced by uniqueness constraints so that
// concurrently delivered webhooks coordinate through the database rather
// than through in-process locks.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MarkEventProcessed appends the event ID to the ledger. The insert is the
// atomic dedup primitive: the unique constraint on event_id decides the
// winner under racing deliveries, and only the winner sees true.
func (r *Repository) MarkEventProcessed(ctx context.Context, eventID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, processed_at) VALUES ($1, NOW())
         ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LogWebhook appends the raw inbound payload to the audit log.
func (r *Repository) LogWebhook(ctx context.Context, source string, payload []byte) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO webhook_logs (source, payload, received_at) VALUES ($1, $2, NOW())`,
		source, payload)
	return err
}

// CredentialByProviderUser looks up the credential stored for a provider's
// own user identifier.
func (r *Repository) CredentialByProviderUser(ctx context.Context, provider, providerUserID string) (*domain.Credential, error) {
	const query = `SELECT credential_id, user_id, provider, provider_user_id, access_token, refresh_token, expires_at
        FROM credentials WHERE provider=$1 AND provider_user_id=$2`

	row := r.pool.QueryRow(ctx, query, provider, providerUserID)
	var cred domain.Credential
	if err := row.Scan(&cred.ID, &cred.UserID, &cred.Provider, &cred.ProviderUserID,
		&cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// UpdateCredentialTokens persists a refreshed token pair. Plain last-write-
// wins: concurrent refreshes may both succeed, which the provider's refresh
// token rotation grace period makes safe.
func (r *Repository) UpdateCredentialTokens(ctx context.Context, credentialID, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE credentials SET access_token=$2, refresh_token=$3, expires_at=$4, updated_at=NOW()
         WHERE credential_id=$1`,
		credentialID, accessToken, refreshToken, expiresAt)
	return err
}

// SaveActivityWithPoints upserts the activity on (user_id, start_time,
// activity_type), inserts the points entry only when the upsert genuinely
// inserted, and enqueues outbox events, all in one transaction. The points
// insert is additionally idempotent on activity_id as a second guard.
func (r *Repository) SaveActivityWithPoints(ctx context.Context, activity domain.Activity, entry domain.PointsEntry) (domain.Activity, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Activity{}, false, err
	}
	defer tx.Rollback(ctx)

	const upsert = `INSERT INTO activities (activity_id, user_id, source, activity_type, start_time, duration_seconds, distance_meters, steps, raw, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (user_id, start_time, activity_type) DO UPDATE
            SET duration_seconds = EXCLUDED.duration_seconds,
                distance_meters  = EXCLUDED.distance_meters,
                steps            = EXCLUDED.steps,
                raw              = EXCLUDED.raw
        RETURNING activity_id, created_at, (xmax = 0) AS inserted`

	row := tx.QueryRow(ctx, upsert,
		activity.ID,
		activity.UserID,
		activity.Source,
		activity.Type,
		activity.StartTime,
		activity.DurationSeconds,
		activity.DistanceMeters,
		activity.Steps,
		activity.Raw,
		activity.CreatedAt,
	)

	var inserted bool
	if err := row.Scan(&activity.ID, &activity.CreatedAt, &inserted); err != nil {
		return domain.Activity{}, false, fmt.Errorf("upsert activity: %w", err)
	}
	entry.ActivityID = activity.ID

	pointsInserted := false
	if inserted {
		tag, err := tx.Exec(ctx,
			`INSERT INTO points (activity_id, user_id, week_start_date, points, reason)
             VALUES ($1,$2,$3,$4,$5)
             ON CONFLICT (activity_id) DO NOTHING`,
			entry.ActivityID, entry.UserID, entry.WeekStartDate, entry.Points, entry.Reason)
		if err != nil {
			return domain.Activity{}, false, fmt.Errorf("insert points: %w", err)
		}
		pointsInserted = tag.RowsAffected() == 1
	}

	weekStart := entry.WeekStartDate.Format("2006-01-02")
	if err := insertOutbox(ctx, tx, activity.ID, activity.UserID, "activity.scored", events.ActivityScored{
		ActivityID:      activity.ID,
		UserID:          activity.UserID,
		Source:          string(activity.Source),
		ActivityType:    string(activity.Type),
		StartTime:       activity.StartTime,
		DurationSeconds: activity.DurationSeconds,
		DistanceMeters:  activity.DistanceMeters,
		Steps:           activity.Steps,
		Points:          entry.Points,
		WeekStartDate:   weekStart,
	}); err != nil {
		return domain.Activity{}, false, err
	}

	if pointsInserted {
		if err := insertOutbox(ctx, tx, activity.ID, activity.UserID, "points.awarded", events.PointsAwarded{
			ActivityID:    entry.ActivityID,
			UserID:        entry.UserID,
			WeekStartDate: weekStart,
			Points:        entry.Points,
			Reason:        entry.Reason,
		}); err != nil {
			return domain.Activity{}, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Activity{}, false, err
	}
	observability.RecordActivityPersisted(activity.CreatedAt)
	return activity, inserted, nil
}

const activityColumns = `activity_id, user_id, source, activity_type, start_time, duration_seconds, distance_meters, steps, raw, created_at`

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var a domain.Activity
	err := row.Scan(&a.ID, &a.UserID, &a.Source, &a.Type, &a.StartTime,
		&a.DurationSeconds, &a.DistanceMeters, &a.Steps, &a.Raw, &a.CreatedAt)
	return a, err
}

// ListActivitiesByUser returns a page of activities, newest first, with
// keyset pagination on (start_time, activity_id).
func (r *Repository) ListActivitiesByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT ` + activityColumns + ` FROM activities WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (start_time, activity_id) < ($3, $4)`
		args = append(args, cursor.StartTime, cursor.ID)
	}
	query += ` ORDER BY start_time DESC, activity_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, limit)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartTime: last.StartTime, ID: last.ID}
	}
	return results, next, nil
}

// WeeklyTotal sums the user's points for the given week bucket.
func (r *Repository) WeeklyTotal(ctx context.Context, userID string, weekStart time.Time) (int, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM points WHERE user_id=$1 AND week_start_date=$2`,
		userID, weekStart)
	var total int
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// RecentActivities returns the user's latest activities, newest first.
func (r *Repository) RecentActivities(ctx context.Context, userID string, limit int) ([]domain.Activity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE user_id=$1 ORDER BY start_time DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, limit)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// ActivityStartsInWindow returns slim projections of the user's activities
// whose start time falls inside [from, to].
func (r *Repository) ActivityStartsInWindow(ctx context.Context, userID string, from, to time.Time) ([]domain.ActivityWindowEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT activity_id, start_time, duration_seconds FROM activities
         WHERE user_id=$1 AND start_time >= $2 AND start_time <= $3`,
		userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ActivityWindowEntry
	for rows.Next() {
		var e domain.ActivityWindowEntry
		if err := rows.Scan(&e.ID, &e.StartTime, &e.DurationSeconds); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertSuspectFlag appends an advisory audit record.
func (r *Repository) InsertSuspectFlag(ctx context.Context, flag domain.SuspectFlag) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO suspect_flags (user_id, kind, detail, created_at) VALUES ($1,$2,$3,$4)`,
		flag.UserID, flag.Kind, flag.Detail, flag.CreatedAt)
	return err
}

// CreateLeague inserts the league and enrols its creator in one transaction.
func (r *Repository) CreateLeague(ctx context.Context, league domain.League, creatorRole domain.MemberRole) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO leagues (league_id, name, description, created_by, is_public, created_at)
         VALUES ($1,$2,$3,$4,$5,$6)`,
		league.ID, league.Name, league.Description, league.CreatedBy, league.IsPublic, league.CreatedAt); err != nil {
		return fmt.Errorf("insert league: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO league_members (league_id, user_id, role) VALUES ($1,$2,$3)`,
		league.ID, league.CreatedBy, creatorRole); err != nil {
		return fmt.Errorf("enrol creator: %w", err)
	}

	return tx.Commit(ctx)
}

// LeagueByID fetches a league.
func (r *Repository) LeagueByID(ctx context.Context, leagueID string) (*domain.League, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT league_id, name, description, created_by, is_public, created_at FROM leagues WHERE league_id=$1`,
		leagueID)
	var l domain.League
	if err := row.Scan(&l.ID, &l.Name, &l.Description, &l.CreatedBy, &l.IsPublic, &l.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLeagueNotFound
		}
		return nil, err
	}
	return &l, nil
}

// UpsertMembership enrols or re-roles a member; unique on (league, user).
func (r *Repository) UpsertMembership(ctx context.Context, leagueID, userID string, role domain.MemberRole) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO league_members (league_id, user_id, role) VALUES ($1,$2,$3)
         ON CONFLICT (league_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		leagueID, userID, role)
	return err
}

// RemoveMembership deletes the membership row if present.
func (r *Repository) RemoveMembership(ctx context.Context, leagueID, userID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM league_members WHERE league_id=$1 AND user_id=$2`, leagueID, userID)
	return err
}

// MembershipRole reports the user's role in the league, if any.
func (r *Repository) MembershipRole(ctx context.Context, leagueID, userID string) (domain.MemberRole, bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT role FROM league_members WHERE league_id=$1 AND user_id=$2`, leagueID, userID)
	var role domain.MemberRole
	if err := row.Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return role, true, nil
}

// Leaderboard computes the week's ranked totals for league members. Ties
// break on ascending user ID so the ordering is deterministic.
func (r *Repository) Leaderboard(ctx context.Context, leagueID string, weekStart time.Time, limit int) ([]domain.LeaderboardRow, error) {
	const query = `SELECT p.user_id, COALESCE(SUM(p.points), 0) AS points_total
        FROM points p
        JOIN league_members m ON m.user_id = p.user_id
        WHERE m.league_id = $1 AND p.week_start_date = $2
        GROUP BY p.user_id
        ORDER BY points_total DESC, p.user_id ASC
        LIMIT $3`

	rows, err := r.pool.Query(ctx, query, leagueID, weekStart, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.LeaderboardRow, 0, limit)
	for rows.Next() {
		row := domain.LeaderboardRow{LeagueID: leagueID, WeekStart: weekStart}
		if err := rows.Scan(&row.UserID, &row.PointsTotal); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"activity.scored": {
		Topic:         "activity_scored",
		SchemaSubject: "activity_scored-value",
	},
	"points.awarded": {
		Topic:         "points_awarded",
		SchemaSubject: "points_awarded-value",
	},
}

// insertOutbox enqueues an event in the same transaction as the state change
// it describes. Events partition by user so per-user ordering is preserved
// for the anti-cheat consumer.
func insertOutbox(ctx context.Context, tx pgx.Tx, activityID, userID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}
	dedupeKey := fmt.Sprintf("%s:%s", activityID, eventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		"activity",
		activityID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		userID,
		body,
		dedupeKey,
	)
	return err
}
