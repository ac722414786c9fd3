package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"example.com/fitleague/internal/anticheat"
	"example.com/fitleague/internal/events"
	"example.com/fitleague/internal/observability"
)

// ScoringHandler consumes scoring events: every message is appended to the
// audit log, and "activity.scored" additionally triggers overlap detection.
type ScoringHandler struct {
	pool     *pgxpool.Pool
	detector *anticheat.Detector
	log      *zap.Logger
}

// NewScoringHandler constructs a handler backed by the provided pool and detector.
func NewScoringHandler(pool *pgxpool.Pool, detector *anticheat.Detector, log *zap.Logger) *ScoringHandler {
	return &ScoringHandler{pool: pool, detector: detector, log: log}
}

// Handle stores the event payload in activity_event_log, then dispatches on
// event type. Detection failures are logged but never fail the message: a
// missed scan is acceptable, an uncommitted offset replaying points events
// is not.
func (h *ScoringHandler) Handle(ctx context.Context, msg Message) error {
	if err := h.appendAuditLog(ctx, msg); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}

	switch msg.EventType {
	case "activity.scored":
		h.scanForOverlaps(ctx, msg)
	case "points.awarded":
		var payload events.PointsAwarded
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.log.Warn("malformed points payload", zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}
		observability.RecordPointsAwarded(payload.Points)
	}
	return nil
}

func (h *ScoringHandler) appendAuditLog(ctx context.Context, msg Message) error {
	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`INSERT INTO activity_event_log (event_type, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		msg.EventType,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		msg.Timestamp,
	)
	return err
}

func (h *ScoringHandler) scanForOverlaps(ctx context.Context, msg Message) {
	var payload events.ActivityScored
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		h.log.Warn("malformed activity payload", zap.Int64("offset", msg.Offset), zap.Error(err))
		return
	}

	flagged, err := h.detector.Flag(ctx, payload.UserID, payload.StartTime, payload.DurationSeconds)
	if err != nil {
		h.log.Error("overlap detection failed",
			zap.String("activity_id", payload.ActivityID),
			zap.String("user_id", payload.UserID),
			zap.Error(err))
		return
	}
	if flagged {
		observability.RecordSuspectFlag(anticheat.KindOverlap)
	}
}
