//go:build integration

package outbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestDLQRoundTripReplaysFailedEvent(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	activityID := uuid.NewString()
	dedupeKey := activityID + ":activity.scored"
	seedOutbox(t, ctx, pool, activityID, dedupeKey)

	registry := &stubRegistry{id: 42}

	// 1. Initial dispatch fails and routes the event to the DLQ; the
	// original row is marked published so it is not retried in place.
	failing := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(pool, failing, registry, 10*time.Millisecond, 5)
	require.NoError(t, dispatcher.processBatch(ctx))

	var dlqKey string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT dedupe_key FROM outbox_dlq`).Scan(&dlqKey))
	require.Equal(t, dedupeKey, dlqKey, "DLQ entry must carry the original dedupe key")

	var unpublished int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&unpublished))
	require.Zero(t, unpublished)

	// 2. The manager requeues the entry: a fresh outbox row must survive
	// the unique dedupe_key constraint held by the published original.
	manager := NewDLQManager(pool, 5, time.Second)
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Zero(t, dlqCount, "DLQ must be empty after a successful requeue")

	var requeuedKey string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT dedupe_key FROM outbox WHERE published_at IS NULL`).Scan(&requeuedKey))
	require.Equal(t, dedupeKey+":retry1", requeuedKey)

	// 3. The replayed row dispatches normally once Kafka recovers.
	working := &stubProducer{}
	dispatcher = NewDispatcher(pool, working, registry, 10*time.Millisecond, 5)
	samplesBefore := histogramSampleCount(t, batchDuration)
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Equal(t, samplesBefore+1, histogramSampleCount(t, batchDuration),
		"each non-empty batch must record one duration sample")

	require.Len(t, working.writes, 1)
	require.Equal(t, "activity_scored", working.writes[0].topic)

	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&unpublished))
	require.Zero(t, unpublished)
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)
	s.writes = append(s.writes, writtenBatch{topic: topic, messages: copied})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	calls []string
}

func (s *stubRegistry) EnsureSchema(_ context.Context, subject string, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, subject)
	return s.id, nil
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, activityID, dedupeKey string) {
	t.Helper()

	_, err := pool.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
         VALUES ('activity', $1, 'activity.scored', 'activity_scored', 'activity_scored-value', 'user-1', '{"activity_id":"'||$1||'"}', $2)`,
		activityID, dedupeKey)
	require.NoError(t, err)
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("fitleague"),
		postgrescontainer.WithUsername("fitleague"),
		postgrescontainer.WithPassword("fitleague"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	contents, err := os.ReadFile(resolvePath(t, "../../db/postgres/migrations/0001_init.up.sql"))
	require.NoError(t, err)

	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func histogramSampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
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
