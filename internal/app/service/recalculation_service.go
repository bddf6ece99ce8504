package service

import (
	"context"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"ctf_scoring/internal/platform/metrics"
	"ctf_scoring/internal/scoring/points"
	"database/sql"
	"errors"
	"log"
	"sort"
)

// errOwnersChanged means a solve by an owner we did not lock appeared between
// planning and locking a re-pricing pass.
var errOwnersChanged = errors.New("set of solvers changed while locking")

const maxRepriceAttempts = 3

type RecalculationService struct {
	stores  Stores
	points  *points.Registry
	metrics *metrics.Scoring
}

func NewRecalculationService(stores Stores, pointsRegistry *points.Registry, scoringMetrics *metrics.Scoring) *RecalculationService {
	if scoringMetrics == nil {
		scoringMetrics = metrics.NewScoring(nil)
	}
	return &RecalculationService{stores: stores, points: pointsRegistry, metrics: scoringMetrics}
}

// Reconcile overwrites an owner's cached totals with the sum of its score rows.
func (s *RecalculationService) Reconcile(ctx context.Context, owner model.Owner) (model.Totals, error) {
	var totals model.Totals
	err := s.stores.Tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.stores.Accounts.LockOwner(ctx, tx, owner); err != nil {
			return err
		}
		var err error
		totals, err = s.stores.Ledger.SumScores(ctx, tx, owner)
		if err != nil {
			return err
		}
		return s.stores.Accounts.SetTotals(ctx, tx, owner, totals)
	})
	if err != nil {
		return model.Totals{}, common.Errorf("failed to reconcile %s: %w", owner, err)
	}
	return totals, nil
}

// ReconcileAll reconciles every team and user, one transaction each, and
// returns how many owners were rewritten.
func (s *RecalculationService) ReconcileAll(ctx context.Context) (int, error) {
	count := 0
	for _, kind := range []model.OwnerKind{model.OwnerTeam, model.OwnerUser} {
		ids, err := s.stores.Accounts.ListOwnerIDs(ctx, kind)
		if err != nil {
			return count, common.Errorf("failed to list %s ids: %w", kind, err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return count, err
			}
			if _, err := s.Reconcile(ctx, model.Owner{Kind: kind, ID: id}); err != nil {
				return count, err
			}
			count++
		}
	}
	log.Printf("INFO: Reconciled totals for %d teams and users", count)
	return count, nil
}

// RepriceChallenge brings every score of a dynamic challenge to its current
// price and moves the owners' totals by the difference. It returns the number
// of score rows changed. Static challenges are left alone.
//
// The affected teams and users are locked (sorted), then the challenge row, so
// two passes over the same challenge never interleave.
func (s *RecalculationService) RepriceChallenge(ctx context.Context, challengeID int64) (int, error) {
	ch, err := s.stores.Challenges.FindByID(ctx, nil, challengeID)
	if err != nil {
		return 0, common.Errorf("failed to load challenge %d: %w", challengeID, err)
	}
	calc, err := s.points.Calculator(ch)
	if err != nil {
		return 0, err
	}
	dynamic, ok := calc.(points.Dynamic)
	if !ok {
		return 0, nil
	}

	for attempt := 1; ; attempt++ {
		planned, err := s.stores.Ledger.ListCorrectSolveScores(ctx, nil, challengeID)
		if err != nil {
			return 0, common.Errorf("failed to list solves of challenge %d: %w", challengeID, err)
		}
		changed, err := s.repriceLocked(ctx, challengeID, dynamic, lockSet(planned))
		if errors.Is(err, errOwnersChanged) && attempt < maxRepriceAttempts {
			log.Printf("WARN: Solvers of challenge %d changed during re-pricing, retrying (attempt %d)", challengeID, attempt)
			continue
		}
		if err != nil {
			return 0, common.Errorf("failed to re-price challenge %d: %w", challengeID, err)
		}
		if changed > 0 {
			s.metrics.Repriced.Inc(int64(changed))
			log.Printf("INFO: Re-priced %d scores of challenge %d", changed, challengeID)
		}
		return changed, nil
	}
}

type ownerLocks struct {
	teams []string
	users []string
}

func (l ownerLocks) covers(ss model.SolveScore) bool {
	if ss.Score.TeamID != nil && !containsSorted(l.teams, *ss.Score.TeamID) {
		return false
	}
	if ss.Score.UserID != nil && !containsSorted(l.users, *ss.Score.UserID) {
		return false
	}
	return true
}

func containsSorted(ids []string, id string) bool {
	i := sort.SearchStrings(ids, id)
	return i < len(ids) && ids[i] == id
}

func lockSet(solves []model.SolveScore) ownerLocks {
	teams := map[string]bool{}
	users := map[string]bool{}
	for _, ss := range solves {
		if ss.Score.TeamID != nil {
			teams[*ss.Score.TeamID] = true
		}
		if ss.Score.UserID != nil {
			users[*ss.Score.UserID] = true
		}
	}
	var l ownerLocks
	for id := range teams {
		l.teams = append(l.teams, id)
	}
	for id := range users {
		l.users = append(l.users, id)
	}
	sort.Strings(l.teams)
	sort.Strings(l.users)
	return l
}

func (s *RecalculationService) repriceLocked(ctx context.Context, challengeID int64, calc points.Dynamic, locks ownerLocks) (int, error) {
	changed := 0
	err := s.stores.Tx.WithinTx(ctx, func(tx *sql.Tx) error {
		for _, id := range locks.teams {
			if _, err := s.stores.Accounts.LockOwner(ctx, tx, model.TeamOwner(id)); err != nil {
				return err
			}
		}
		for _, id := range locks.users {
			if _, err := s.stores.Accounts.LockOwner(ctx, tx, model.UserOwner(id)); err != nil {
				return err
			}
		}
		if _, err := s.stores.Challenges.LockByID(ctx, tx, challengeID); err != nil {
			return err
		}

		// Submissions hold the challenge lock until commit, so this read is stable.
		solves, err := s.stores.Ledger.ListCorrectSolveScores(ctx, tx, challengeID)
		if err != nil {
			return err
		}
		for _, ss := range solves {
			if !locks.covers(ss) {
				return errOwnersChanged
			}
		}

		for _, adj := range calc.Recalculate(solves) {
			score := adj.Solve.Score
			// The penalty was fixed at scoring time. Hints bought later are not charged.
			newPenalty := clampPenalty(score.Penalty, adj.NewPoints)
			if err := s.stores.Ledger.UpdateScore(ctx, tx, score.ID, adj.NewPoints, newPenalty); err != nil {
				return err
			}

			delta := (adj.NewPoints - newPenalty) - score.Net()
			if delta != 0 {
				leaderboardDelta := 0
				if score.Leaderboard {
					leaderboardDelta = delta
				}
				var affected []model.Owner
				if score.TeamID != nil {
					affected = append(affected, model.TeamOwner(*score.TeamID))
				}
				if score.UserID != nil {
					affected = append(affected, model.UserOwner(*score.UserID))
				}
				for _, o := range affected {
					if err := s.stores.Accounts.AdjustTotals(ctx, tx, o, delta, leaderboardDelta, nil); err != nil {
						return err
					}
				}
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}
