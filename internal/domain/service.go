package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// manualStepsLimit caps a single manual step entry.
const manualStepsLimit = 50_000

// Repository captures the persistence operations the ingestion service needs.
// All cross-request coordination happens through storage uniqueness
// constraints, never through in-process locks.
type Repository interface {
	CredentialStore

	// MarkEventProcessed records the inbound event ID and reports whether
	// this call was the first to see it. Implementations must perform a
	// single atomic insert gated by a uniqueness constraint.
	MarkEventProcessed(ctx context.Context, eventID int64) (bool, error)

	// LogWebhook appends the raw inbound payload to the webhook audit log.
	LogWebhook(ctx context.Context, source string, payload []byte) error

	// SaveActivityWithPoints upserts the activity on its idempotency key and,
	// only when the upsert genuinely inserted, records the points entry. Both
	// writes and the outbox enqueue happen in one transaction. The returned
	// activity carries the canonical stored ID.
	SaveActivityWithPoints(ctx context.Context, activity Activity, entry PointsEntry) (Activity, bool, error)

	ListActivitiesByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
	WeeklyTotal(ctx context.Context, userID string, weekStart time.Time) (int, error)
	RecentActivities(ctx context.Context, userID string, limit int) ([]Activity, error)
}

// ActivityFetcher retrieves and normalizes a provider activity by ID.
type ActivityFetcher interface {
	FetchActivity(ctx context.Context, accessToken string, activityID int64) (Activity, error)
}

// WebhookEvent is the decoded inbound provider event the service consumes.
type WebhookEvent struct {
	ObjectType string
	AspectType string
	OwnerID    int64
	ObjectID   int64
}

// Outcome summarises how a webhook event was handled.
type Outcome string

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeNoCredential Outcome = "no_credential"
	OutcomeSkipped      Outcome = "skipped"
)

// IngestionService orchestrates the webhook ingestion pipeline: dedup,
// credential freshness, detail fetch, normalization, scoring, persistence.
type IngestionService struct {
	repo     Repository
	tokens   *CredentialManager
	provider ActivityFetcher
	log      *zap.Logger
	now      func() time.Time
}

// NewIngestionService constructs an IngestionService.
func NewIngestionService(repo Repository, tokens *CredentialManager, provider ActivityFetcher, log *zap.Logger) *IngestionService {
	return &IngestionService{repo: repo, tokens: tokens, provider: provider, log: log, now: time.Now}
}

// ProcessWebhookEvent runs one provider event through the pipeline. A non-nil
// error is returned only for storage failures (the dedup gate or the scored
// write); provider-side failures are logged and absorbed so the webhook
// endpoint can acknowledge the delivery and avoid a provider retry storm.
func (s *IngestionService) ProcessWebhookEvent(ctx context.Context, evt WebhookEvent) (Outcome, error) {
	if evt.ObjectType != "activity" || (evt.AspectType != "create" && evt.AspectType != "update") {
		return OutcomeIgnored, nil
	}

	// Updates bypass the ledger: they share the object ID with the original
	// create and are made safe by the activity upsert instead.
	if evt.AspectType == "create" {
		first, err := s.repo.MarkEventProcessed(ctx, evt.ObjectID)
		if err != nil {
			return "", fmt.Errorf("event ledger: %w", err)
		}
		if !first {
			s.log.Info("duplicate event", zap.Int64("object_id", evt.ObjectID))
			return OutcomeDuplicate, nil
		}
	}

	cred, err := s.repo.CredentialByProviderUser(ctx, string(SourceStrava), fmt.Sprintf("%d", evt.OwnerID))
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return OutcomeNoCredential, nil
		}
		s.log.Error("credential lookup failed", zap.Int64("owner_id", evt.OwnerID), zap.Error(err))
		return OutcomeSkipped, nil
	}

	token, err := s.tokens.AccessToken(ctx, cred)
	if err != nil {
		s.log.Warn("token refresh failed, skipping event",
			zap.String("user_id", cred.UserID),
			zap.Int64("object_id", evt.ObjectID),
			zap.Error(err))
		return OutcomeSkipped, nil
	}

	activity, err := s.provider.FetchActivity(ctx, token, evt.ObjectID)
	if err != nil {
		s.log.Warn("activity fetch failed, skipping event",
			zap.String("user_id", cred.UserID),
			zap.Int64("object_id", evt.ObjectID),
			zap.Error(err))
		return OutcomeSkipped, nil
	}
	activity.ID = uuid.NewString()
	activity.UserID = cred.UserID
	activity.CreatedAt = s.now().UTC()

	// Storage failures past this point are integrity problems, not provider
	// noise, and must surface as a failed request.
	if _, _, _, err := s.saveAndScore(ctx, activity); err != nil {
		s.log.Error("persist scored activity failed",
			zap.String("user_id", cred.UserID),
			zap.Int64("object_id", evt.ObjectID),
			zap.Error(err))
		return "", fmt.Errorf("persist activity: %w", err)
	}

	return OutcomeProcessed, nil
}

// LogWebhook appends the raw delivery to the audit log before processing.
func (s *IngestionService) LogWebhook(ctx context.Context, source string, payload []byte) error {
	return s.repo.LogWebhook(ctx, source, payload)
}

// AddManualSteps records a manually entered step count for the given day and
// scores it through the same transactional path as provider activities. The
// bool reports whether a new activity row was inserted; a repeat submission
// for the same day resolves to the existing row and awards nothing.
func (s *IngestionService) AddManualSteps(ctx context.Context, userID string, day time.Time, steps int) (Activity, PointsEntry, bool, error) {
	if steps > manualStepsLimit {
		return Activity{}, PointsEntry{}, false, ErrManualStepsLimit
	}

	activity := Activity{
		ID:        uuid.NewString(),
		UserID:    userID,
		Source:    SourceManual,
		Type:      TypeSteps,
		StartTime: day.UTC(),
		Steps:     steps,
		Raw:       json.RawMessage(`{}`),
		CreatedAt: s.now().UTC(),
	}

	return s.saveAndScore(ctx, activity)
}

// ListActivities returns a page of the user's activities, newest first.
func (s *IngestionService) ListActivities(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return s.repo.ListActivitiesByUser(ctx, userID, cursor, limit)
}

// WeeklySummary reports the user's current-week point total and their three
// most recent activities.
func (s *IngestionService) WeeklySummary(ctx context.Context, userID string) (WeeklySummary, error) {
	weekStart := WeekStart(s.now())

	total, err := s.repo.WeeklyTotal(ctx, userID, weekStart)
	if err != nil {
		return WeeklySummary{}, err
	}
	recent, err := s.repo.RecentActivities(ctx, userID, 3)
	if err != nil {
		return WeeklySummary{}, err
	}
	return WeeklySummary{WeekStart: weekStart, Total: total, Recent: recent}, nil
}

func (s *IngestionService) saveAndScore(ctx context.Context, activity Activity) (Activity, PointsEntry, bool, error) {
	points, reason := Score(activity)
	entry := PointsEntry{
		ActivityID:    activity.ID,
		UserID:        activity.UserID,
		WeekStartDate: WeekStart(activity.StartTime),
		Points:        points,
		Reason:        reason,
	}

	stored, inserted, err := s.repo.SaveActivityWithPoints(ctx, activity, entry)
	if err != nil {
		return Activity{}, PointsEntry{}, false, err
	}
	entry.ActivityID = stored.ID

	s.log.Info("activity scored",
		zap.String("activity_id", stored.ID),
		zap.String("user_id", stored.UserID),
		zap.String("type", string(stored.Type)),
		zap.Int("points", points),
		zap.String("reason", reason),
		zap.Bool("inserted", inserted))

	return stored, entry, inserted, nil
}
