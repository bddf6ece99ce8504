package service

import (
	"context"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"ctf_scoring/internal/domain/repository"
)

const (
	DefaultLeaderboardLimit = 50
	MaxLeaderboardLimit     = 500
)

type LeaderboardService struct {
	accounts repository.AccountRepository
}

func NewLeaderboardService(accounts repository.AccountRepository) *LeaderboardService {
	return &LeaderboardService{accounts: accounts}
}

func (s *LeaderboardService) Teams(ctx context.Context, limit, offset int) ([]model.LeaderboardEntry, error) {
	return s.page(ctx, model.OwnerTeam, limit, offset)
}

func (s *LeaderboardService) Users(ctx context.Context, limit, offset int) ([]model.LeaderboardEntry, error) {
	return s.page(ctx, model.OwnerUser, limit, offset)
}

// page ranks by leaderboard points, then by who got there first.
func (s *LeaderboardService) page(ctx context.Context, kind model.OwnerKind, limit, offset int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.accounts.Leaderboard(ctx, kind, limit, offset)
	if err != nil {
		return nil, common.Errorf("failed to load %s leaderboard: %w", kind, err)
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	return entries, nil
}
