package service

import (
	"context"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"ctf_scoring/internal/domain/repository"
	"errors"
)

// Stores groups the repositories the scoring services share.
type Stores struct {
	Tx         repository.Transactor
	Challenges repository.ChallengeRepository
	Accounts   repository.AccountRepository
	Ledger     repository.LedgerRepository
	Hints      repository.HintRepository
}

// Requester is the authenticated competitor behind a call. TeamID comes from
// the token and is checked against the stored user.
type Requester struct {
	UserID string
	TeamID *string
}

// resolveRequester loads the user and returns the requester with the stored team,
// plus the owner whose ledger the request reads or writes.
func resolveRequester(ctx context.Context, accounts repository.AccountRepository, r Requester, teamsEnabled bool) (Requester, model.Owner, error) {
	if r.UserID == "" {
		return Requester{}, model.Owner{}, common.ErrUnauthorized
	}
	user, err := accounts.FindUser(ctx, r.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return Requester{}, model.Owner{}, common.Errorf("user %s: %w", r.UserID, common.ErrUnauthorized)
		}
		return Requester{}, model.Owner{}, common.Errorf("failed to load user: %w", err)
	}

	if !teamsEnabled {
		return Requester{UserID: user.ID}, model.UserOwner(user.ID), nil
	}
	if r.TeamID != nil && (user.TeamID == nil || *user.TeamID != *r.TeamID) {
		return Requester{}, model.Owner{}, common.Errorf("user %s is not a member of team %s: %w", user.ID, *r.TeamID, common.ErrForbidden)
	}
	resolved := Requester{UserID: user.ID, TeamID: user.TeamID}
	if user.TeamID == nil {
		return resolved, model.UserOwner(user.ID), nil
	}
	return resolved, model.TeamOwner(*user.TeamID), nil
}

// owners lists whose totals a score row counts toward, team first.
func owners(teamID *string, userID string) []model.Owner {
	if teamID != nil {
		return []model.Owner{model.TeamOwner(*teamID), model.UserOwner(userID)}
	}
	return []model.Owner{model.UserOwner(userID)}
}

func clampPenalty(penalty, points int) int {
	if penalty < 0 {
		return 0
	}
	if points < 0 {
		points = 0
	}
	if penalty > points {
		return points
	}
	return penalty
}
