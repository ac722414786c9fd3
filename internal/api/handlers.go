// Package api exposes HTTP handlers for the ingestion and league endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"example.com/fitleague/internal/auth"
	"example.com/fitleague/internal/domain"
	"example.com/fitleague/internal/observability"
	"example.com/fitleague/internal/persistence"
)

const webhookSource = "strava"

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	ingest      *domain.IngestionService
	leagues     *domain.LeagueService
	verifyToken string
	validate    *validator.Validate
	log         *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(ingest *domain.IngestionService, leagues *domain.LeagueService, verifyToken string, log *zap.Logger) *Handler {
	return &Handler{
		ingest:      ingest,
		leagues:     leagues,
		verifyToken: verifyToken,
		validate:    validator.New(),
		log:         log,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhooks/strava", h.webhook)
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/steps", h.manualSteps)
	mux.HandleFunc("/v1/activities/summary", h.weeklySummary)
	mux.HandleFunc("/v1/leagues", h.createLeague)
	mux.HandleFunc("/v1/leagues/", h.leagueSubroutes)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verifyWebhook(w, r)
	case http.MethodPost:
		h.receiveWebhook(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// verifyWebhook answers the provider's subscription handshake. A token
// mismatch still acks with 200 so the provider does not tear down the
// subscription; it just never receives the challenge back.
func (h *Handler) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != h.verifyToken {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": query.Get("hub.challenge")})
}

// receiveWebhook ingests a provider event. The provider retries anything but
// a 2xx, so every outcome except a dedup-ledger storage failure acknowledges
// the delivery.
func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return
	}

	if err := h.ingest.LogWebhook(r.Context(), webhookSource, body); err != nil {
		h.log.Warn("webhook audit log failed", zap.Error(err))
	}

	var payload stravaWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Warn("malformed webhook payload", zap.Error(err))
		observability.RecordWebhookOutcome(string(domain.OutcomeIgnored))
		writeJSON(w, http.StatusOK, webhookAck{Status: string(domain.OutcomeIgnored)})
		return
	}

	outcome, err := h.ingest.ProcessWebhookEvent(r.Context(), domain.WebhookEvent{
		ObjectType: payload.ObjectType,
		AspectType: payload.AspectType,
		OwnerID:    payload.OwnerID,
		ObjectID:   payload.ObjectID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	observability.RecordWebhookOutcome(string(outcome))
	writeJSON(w, http.StatusOK, webhookAck{Status: string(outcome)})
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.ingest.ListActivities(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, act := range activities {
		items = append(items, toActivityView(act))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) manualSteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req ManualStepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	day, err := time.Parse("2006-01-02", req.Day)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "day must be formatted YYYY-MM-DD")
		return
	}

	activity, entry, inserted, err := h.ingest.AddManualSteps(r.Context(), claims.Subject, day, req.Steps)
	if err != nil {
		if errors.Is(err, domain.ErrManualStepsLimit) {
			writeError(w, http.StatusBadRequest, "validation_failed", "steps exceed the daily manual limit")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	// A repeat submission for the same day resolves to the existing entry
	// and must not claim that new points were awarded.
	if !inserted {
		writeJSON(w, http.StatusOK, ManualStepsResponse{
			ActivityID:    activity.ID,
			Status:        "already_recorded",
			WeekStartDate: entry.WeekStartDate.Format("2006-01-02"),
		})
		return
	}

	writeJSON(w, http.StatusCreated, ManualStepsResponse{
		ActivityID:    activity.ID,
		Status:        "recorded",
		Points:        entry.Points,
		Reason:        entry.Reason,
		WeekStartDate: entry.WeekStartDate.Format("2006-01-02"),
	})
}

func (h *Handler) weeklySummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	summary, err := h.ingest.WeeklySummary(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	recent := make([]ActivityView, 0, len(summary.Recent))
	for _, act := range summary.Recent {
		recent = append(recent, toActivityView(act))
	}
	writeJSON(w, http.StatusOK, WeeklySummaryResponse{
		WeekStartDate: summary.WeekStart.Format("2006-01-02"),
		PointsTotal:   summary.Total,
		Recent:        recent,
	})
}

func (h *Handler) createLeague(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeLeaguesWrite)
	if !ok {
		return
	}

	var req CreateLeagueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	league, err := h.leagues.CreateLeague(r.Context(), claims.Subject, req.Name, req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, LeagueView{
		LeagueID:    league.ID,
		Name:        league.Name,
		Description: league.Description,
		CreatedBy:   league.CreatedBy,
		CreatedAt:   league.CreatedAt,
	})
}

func (h *Handler) leagueSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/leagues/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing league id")
		return
	}
	leagueID := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "leaderboard" && r.Method == http.MethodGet:
		h.leaderboard(w, r, leagueID)
	case action == "join" && r.Method == http.MethodPost:
		h.joinLeague(w, r, leagueID)
	case action == "leave" && r.Method == http.MethodPost:
		h.leaveLeague(w, r, leagueID)
	case action == "promote" && r.Method == http.MethodPost:
		h.promoteMember(w, r, leagueID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown league operation")
	}
}

func (h *Handler) joinLeague(w http.ResponseWriter, r *http.Request, leagueID string) {
	claims, ok := requireScope(w, r, auth.ScopeLeaguesWrite)
	if !ok {
		return
	}

	if err := h.leagues.Join(r.Context(), leagueID, claims.Subject); err != nil {
		if errors.Is(err, domain.ErrLeagueNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "league not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

func (h *Handler) leaveLeague(w http.ResponseWriter, r *http.Request, leagueID string) {
	claims, ok := requireScope(w, r, auth.ScopeLeaguesWrite)
	if !ok {
		return
	}

	if err := h.leagues.Leave(r.Context(), leagueID, claims.Subject); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (h *Handler) promoteMember(w http.ResponseWriter, r *http.Request, leagueID string) {
	claims, ok := requireScope(w, r, auth.ScopeLeaguesWrite)
	if !ok {
		return
	}

	var req PromoteMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	if err := h.leagues.Promote(r.Context(), leagueID, claims.Subject, req.UserID); err != nil {
		if errors.Is(err, domain.ErrNotLeagueAdmin) {
			writeError(w, http.StatusForbidden, "forbidden", "league admin role required")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "promoted"})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request, leagueID string) {
	if _, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite); !ok {
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 50 {
				parsed = 50
			}
			limit = parsed
		}
	}

	weekStart, rows, err := h.leagues.Leaderboard(r.Context(), leagueID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	for rank, row := range rows {
		entries = append(entries, LeaderboardEntry{
			Rank:        rank + 1,
			UserID:      row.UserID,
			PointsTotal: row.PointsTotal,
		})
	}
	writeJSON(w, http.StatusOK, LeaderboardResponse{
		LeagueID:      leagueID,
		WeekStartDate: weekStart.Format("2006-01-02"),
		Entries:       entries,
	})
}

// requireScope loads claims from the request context and checks that at least
// one of the provided scopes is present.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

// stravaWebhookPayload mirrors the provider's push notification body.
type stravaWebhookPayload struct {
	ObjectType string `json:"object_type"`
	AspectType string `json:"aspect_type"`
	OwnerID    int64  `json:"owner_id"`
	ObjectID   int64  `json:"object_id"`
}

type webhookAck struct {
	Status string `json:"status"`
}

// ManualStepsRequest is the payload for POST /v1/activities/steps.
type ManualStepsRequest struct {
	Day   string `json:"day" validate:"required"`
	Steps int    `json:"steps" validate:"required,gt=0"`
}

// ManualStepsResponse describes the scored manual entry. Status is
// "recorded" for a fresh entry and "already_recorded" when the day already
// had one, in which case Points and Reason are omitted.
type ManualStepsResponse struct {
	ActivityID    string `json:"activity_id"`
	Status        string `json:"status"`
	Points        int    `json:"points,omitempty"`
	Reason        string `json:"reason,omitempty"`
	WeekStartDate string `json:"week_start_date"`
}

// ActivityView exposes full details about an activity.
type ActivityView struct {
	ActivityID      string    `json:"activity_id"`
	Source          string    `json:"source"`
	ActivityType    string    `json:"activity_type"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int       `json:"duration_seconds"`
	DistanceMeters  int       `json:"distance_meters"`
	Steps           int       `json:"steps"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// WeeklySummaryResponse merges the current-week total with recent entries.
type WeeklySummaryResponse struct {
	WeekStartDate string         `json:"week_start_date"`
	PointsTotal   int            `json:"points_total"`
	Recent        []ActivityView `json:"recent"`
}

// CreateLeagueRequest is the payload for POST /v1/leagues.
type CreateLeagueRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// PromoteMemberRequest names the member to promote.
type PromoteMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// LeagueView describes a league.
type LeagueView struct {
	LeagueID    string    `json:"league_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// LeaderboardEntry is one ranked row of the weekly standings.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	PointsTotal int    `json:"points_total"`
}

// LeaderboardResponse packages the weekly standings for a league.
type LeaderboardResponse struct {
	LeagueID      string             `json:"league_id"`
	WeekStartDate string             `json:"week_start_date"`
	Entries       []LeaderboardEntry `json:"entries"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(act domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:      act.ID,
		Source:          string(act.Source),
		ActivityType:    string(act.Type),
		StartTime:       act.StartTime,
		DurationSeconds: act.DurationSeconds,
		DistanceMeters:  act.DistanceMeters,
		Steps:           act.Steps,
		CreatedAt:       act.CreatedAt,
	}
}
