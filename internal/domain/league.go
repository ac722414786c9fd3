package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LeagueStore captures persistence for leagues and memberships.
type LeagueStore interface {
	CreateLeague(ctx context.Context, league League, creatorRole MemberRole) error
	LeagueByID(ctx context.Context, leagueID string) (*League, error)
	UpsertMembership(ctx context.Context, leagueID, userID string, role MemberRole) error
	RemoveMembership(ctx context.Context, leagueID, userID string) error
	MembershipRole(ctx context.Context, leagueID, userID string) (MemberRole, bool, error)

	// Leaderboard sums the week's points per member of the league, ordered by
	// total descending. Ties break on ascending user ID so rankings are
	// stable across reads.
	Leaderboard(ctx context.Context, leagueID string, weekStart time.Time, limit int) ([]LeaderboardRow, error)
}

// LeagueService manages group competitions and their weekly rankings.
type LeagueService struct {
	store LeagueStore
	now   func() time.Time
}

// NewLeagueService constructs a LeagueService.
func NewLeagueService(store LeagueStore) *LeagueService {
	return &LeagueService{store: store, now: time.Now}
}

// CreateLeague creates a league and enrols the creator as its admin.
func (s *LeagueService) CreateLeague(ctx context.Context, creatorID, name, description string) (League, error) {
	league := League{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedBy:   creatorID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateLeague(ctx, league, RoleAdmin); err != nil {
		return League{}, err
	}
	return league, nil
}

// Join enrols the user as a league member. Joining twice is a no-op.
func (s *LeagueService) Join(ctx context.Context, leagueID, userID string) error {
	if _, err := s.store.LeagueByID(ctx, leagueID); err != nil {
		return err
	}
	return s.store.UpsertMembership(ctx, leagueID, userID, RoleMember)
}

// Leave removes the user's membership.
func (s *LeagueService) Leave(ctx context.Context, leagueID, userID string) error {
	return s.store.RemoveMembership(ctx, leagueID, userID)
}

// Promote raises the target user to league admin. Only existing admins may
// promote; the target is enrolled if not already a member.
func (s *LeagueService) Promote(ctx context.Context, leagueID, requesterID, targetUserID string) error {
	role, ok, err := s.store.MembershipRole(ctx, leagueID, requesterID)
	if err != nil {
		return err
	}
	if !ok || role != RoleAdmin {
		return ErrNotLeagueAdmin
	}
	return s.store.UpsertMembership(ctx, leagueID, targetUserID, RoleAdmin)
}

// Leaderboard computes the ranked weekly standings for the league. The week
// bucket is always the Monday of the ISO week containing now; weeks never
// roll over mid-query.
func (s *LeagueService) Leaderboard(ctx context.Context, leagueID string, limit int) (time.Time, []LeaderboardRow, error) {
	weekStart := WeekStart(s.now())
	rows, err := s.store.Leaderboard(ctx, leagueID, weekStart, limit)
	if err != nil {
		return time.Time{}, nil, err
	}
	return weekStart, rows, nil
}
