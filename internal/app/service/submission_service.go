package service

import (
	"context"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"ctf_scoring/internal/platform/metrics"
	"ctf_scoring/internal/platform/settings"
	"ctf_scoring/internal/scoring/flag"
	"ctf_scoring/internal/scoring/points"
	"ctf_scoring/internal/scoring/unlock"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"
)

type SubmissionService struct {
	stores   Stores
	flags    *flag.Registry
	points   *points.Registry
	settings settings.Provider
	metrics  *metrics.Scoring
	hooks    []PostCommitHook
	now      func() time.Time
}

func NewSubmissionService(
	stores Stores,
	flags *flag.Registry,
	pointsRegistry *points.Registry,
	settingsProvider settings.Provider,
	scoringMetrics *metrics.Scoring,
	hooks ...PostCommitHook,
) *SubmissionService {
	if scoringMetrics == nil {
		scoringMetrics = metrics.NewScoring(nil)
	}
	return &SubmissionService{
		stores:   stores,
		flags:    flags,
		points:   pointsRegistry,
		settings: settingsProvider,
		metrics:  scoringMetrics,
		hooks:    hooks,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (s *SubmissionService) SetClock(now func() time.Time) {
	s.now = now
}

type SubmitFlagRequest struct {
	ChallengeID int64  `json:"challenge"`
	Flag        string `json:"flag"`
}

type SubmissionResult struct {
	Correct     bool    `json:"correct"`
	Explanation *string `json:"explanation,omitempty"`
	Points      int     `json:"points,omitempty"`
	FirstBlood  bool    `json:"first_blood,omitempty"`
}

func (req SubmitFlagRequest) validate() error {
	if req.ChallengeID <= 0 {
		return common.Errorf("challenge is required: %w", common.ErrMalformedSubmission)
	}
	if strings.TrimSpace(req.Flag) == "" {
		return common.Errorf("flag is required: %w", common.ErrMalformedSubmission)
	}
	return nil
}

// SubmitFlag verifies a flag and, when it is correct, records the solve and
// awards its points. All ledger and total writes happen in one transaction that
// holds the team, user and challenge row locks, taken in that order.
func (s *SubmissionService) SubmitFlag(ctx context.Context, r Requester, req SubmitFlagRequest) (*SubmissionResult, error) {
	start := time.Now()
	defer s.metrics.Since(start)

	res, outcome, err := s.submit(ctx, r, req)
	switch {
	case err == nil && res.Correct:
		s.metrics.Correct.Inc(1)
	case err == nil:
		s.metrics.Incorrect.Inc(1)
	case common.IsRejection(err):
		s.metrics.Rejected.Inc(1)
	default:
		s.metrics.Faults.Inc(1)
		log.Printf("ERROR: Flag submission for challenge %d by user %s failed: %v", req.ChallengeID, r.UserID, err)
	}

	if outcome != nil {
		s.runHooks(ctx, *outcome)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SubmissionService) runHooks(ctx context.Context, o Outcome) {
	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range s.hooks {
		hook(hookCtx, o)
	}
}

// errTeamChanged means the user moved to another team between resolving the
// requester and locking the user row.
var errTeamChanged = errors.New("team membership changed while locking")

const maxMembershipAttempts = 3

// submit returns an outcome for every attempt that ended in a typed rejection
// or a commit, so hooks can report it.
func (s *SubmissionService) submit(ctx context.Context, r Requester, req SubmitFlagRequest) (*SubmissionResult, *Outcome, error) {
	now := s.now()
	rejected := func(err error) (*SubmissionResult, *Outcome, error) {
		return nil, &Outcome{Requester: r, ChallengeID: req.ChallengeID, At: now, Rejection: err}, err
	}

	if err := req.validate(); err != nil {
		return rejected(err)
	}

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, nil, common.Errorf("failed to read settings: %w", err)
	}
	if !snap.SubmissionOpen(now) {
		return rejected(common.ErrSubmissionDisabled)
	}

	for attempt := 1; ; attempt++ {
		res, outcome, err := s.submitOnce(ctx, r, req, snap, now)
		if !errors.Is(err, errTeamChanged) {
			return res, outcome, err
		}
		if attempt >= maxMembershipAttempts {
			return nil, nil, common.Errorf("user %s keeps changing team: %w", r.UserID, common.ErrConflict)
		}
		log.Printf("WARN: User %s changed team during submission, retrying (attempt %d)", r.UserID, attempt)
	}
}

// submitOnce resolves the requester and runs the locked transaction.
func (s *SubmissionService) submitOnce(ctx context.Context, r Requester, req SubmitFlagRequest, snap settings.Snapshot, now time.Time) (*SubmissionResult, *Outcome, error) {
	requester, owner, err := resolveRequester(ctx, s.stores.Accounts, r, snap.EnableTeams)
	if err != nil {
		return nil, nil, err
	}
	outcome := &Outcome{Requester: requester, Owner: owner, ChallengeID: req.ChallengeID, At: now}
	if snap.EnableTeams && requester.TeamID == nil {
		err := common.Errorf("user %s has no team: %w", requester.UserID, common.ErrChallengeLocked)
		outcome.Rejection = err
		return nil, outcome, err
	}

	result := &SubmissionResult{}

	err = s.stores.Tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if requester.TeamID != nil {
			if _, err := s.stores.Accounts.LockOwner(ctx, tx, model.TeamOwner(*requester.TeamID)); err != nil {
				return common.Errorf("failed to lock team: %w", err)
			}
		}
		standing, err := s.stores.Accounts.LockOwner(ctx, tx, model.UserOwner(requester.UserID))
		if err != nil {
			return common.Errorf("failed to lock user: %w", err)
		}
		if snap.EnableTeams && !sameTeam(standing.TeamID, requester.TeamID) {
			return errTeamChanged
		}
		ch, err := s.stores.Challenges.LockByID(ctx, tx, req.ChallengeID)
		if err != nil {
			return common.Errorf("failed to lock challenge: %w", err)
		}
		if ch.Hidden {
			return common.Errorf("challenge %d: %w", ch.ID, common.ErrNotFound)
		}

		solved, err := s.stores.Ledger.HasCorrectSolve(ctx, tx, ch.ID, requester.TeamID, requester.UserID)
		if err != nil {
			return common.Errorf("failed to check existing solve: %w", err)
		}
		if solved {
			return common.ErrAlreadySolved
		}

		unlocked, err := s.isUnlocked(ctx, tx, requester, owner, ch, snap.EnableTeams)
		if err != nil {
			return err
		}
		if !unlocked {
			return common.ErrChallengeLocked
		}

		if ch.AttemptLimit != nil && *ch.AttemptLimit > 0 {
			attempts, err := s.stores.Ledger.CountAttempts(ctx, tx, ch.ID, owner)
			if err != nil {
				return common.Errorf("failed to count attempts: %w", err)
			}
			if attempts >= *ch.AttemptLimit {
				return common.ErrAttemptLimitReached
			}
		}

		verifier, err := s.flags.Verifier(ch, flag.Env{FlagPrefix: snap.FlagPrefix})
		if err != nil {
			return err
		}
		if !verifier.Check(req.Flag, flag.Context{UserID: requester.UserID, TeamID: requester.TeamID}) {
			if snap.EnableTrackIncorrectSubmissions {
				miss := &model.Solve{
					TeamID:      requester.TeamID,
					ChallengeID: ch.ID,
					SolvedBy:    requester.UserID,
					Flag:        req.Flag,
					Timestamp:   now,
				}
				if err := s.stores.Ledger.CreateSolve(ctx, tx, miss); err != nil {
					return common.Errorf("failed to record incorrect attempt: %w", err)
				}
				outcome.Solve = miss
			}
			return nil
		}

		return s.award(ctx, tx, requester, owner, ch, req.Flag, snap, now, outcome, result)
	})

	if err != nil {
		if common.IsRejection(err) {
			outcome.Rejection = err
			return nil, outcome, err
		}
		return nil, nil, err
	}
	return result, outcome, nil
}

func sameTeam(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *SubmissionService) isUnlocked(ctx context.Context, tx *sql.Tx, requester Requester, owner model.Owner, ch *model.Challenge, teamsEnabled bool) (bool, error) {
	var ids []int64
	if strings.TrimSpace(ch.UnlockRequirements) != "" {
		var err error
		ids, err = s.stores.Ledger.SolvedChallengeIDs(ctx, tx, owner)
		if err != nil {
			return false, common.Errorf("failed to load solved challenges: %w", err)
		}
	}
	who := &unlock.Requester{UserID: requester.UserID, TeamID: requester.TeamID}
	return unlock.EvaluateFor(who, teamsEnabled, ch.UnlockRequirements, unlock.SolvedSet(ids)), nil
}

// award prices a verified solve and appends it to the ledger.
func (s *SubmissionService) award(
	ctx context.Context,
	tx *sql.Tx,
	requester Requester,
	owner model.Owner,
	ch *model.Challenge,
	submitted string,
	snap settings.Snapshot,
	now time.Time,
	outcome *Outcome,
	result *SubmissionResult,
) error {
	calc, err := s.points.Calculator(ch)
	if err != nil {
		return err
	}
	_, outcome.Dynamic = calc.(points.Dynamic)

	prior, err := s.stores.Ledger.CountCorrectSolves(ctx, tx, ch.ID)
	if err != nil {
		return common.Errorf("failed to count solves: %w", err)
	}
	raw := calc.ComputePoints(prior)

	hintPenalty, err := s.stores.Hints.SumPenalty(ctx, tx, ch.ID, owner)
	if err != nil {
		return common.Errorf("failed to sum hint penalties: %w", err)
	}
	penalty := clampPenalty(hintPenalty, raw)
	leaderboard := snap.InScoringWindow(now)

	metadata, _ := json.Marshal(map[string]interface{}{"challenge_id": ch.ID})
	userID := requester.UserID
	score := &model.Score{
		TeamID:      requester.TeamID,
		UserID:      &userID,
		Reason:      model.ScoreReasonChallenge,
		Points:      raw,
		Penalty:     penalty,
		Leaderboard: leaderboard,
		Timestamp:   now,
		Metadata:    metadata,
	}
	if err := s.stores.Ledger.CreateScore(ctx, tx, score); err != nil {
		return common.Errorf("failed to create score: %w", err)
	}

	firstBlood := false
	if !ch.HasFirstBlood() {
		firstBlood, err = s.stores.Challenges.SetFirstBlood(ctx, tx, ch.ID, requester.TeamID, requester.UserID)
		if err != nil {
			return common.Errorf("failed to set first blood: %w", err)
		}
	}

	solve := &model.Solve{
		TeamID:      requester.TeamID,
		ChallengeID: ch.ID,
		SolvedBy:    requester.UserID,
		Flag:        submitted,
		Correct:     true,
		FirstBlood:  firstBlood,
		ScoreID:     &score.ID,
		Timestamp:   now,
	}
	if err := s.stores.Ledger.CreateSolve(ctx, tx, solve); err != nil {
		if errors.Is(err, common.ErrAlreadySolved) {
			return common.ErrAlreadySolved
		}
		return common.Errorf("failed to create solve: %w", err)
	}

	net := score.Net()
	leaderboardNet := 0
	var lastScore *time.Time
	if leaderboard {
		leaderboardNet = net
		lastScore = &now
	}
	for _, o := range owners(requester.TeamID, requester.UserID) {
		if err := s.stores.Accounts.AdjustTotals(ctx, tx, o, net, leaderboardNet, lastScore); err != nil {
			return common.Errorf("failed to update totals: %w", err)
		}
	}

	outcome.Correct = true
	outcome.Solve = solve
	outcome.Score = score
	result.Correct = true
	result.Explanation = ch.PostScoreExplanation
	result.Points = net
	result.FirstBlood = firstBlood
	return nil
}

type CheckFlagResult struct {
	Correct bool `json:"correct"`
}

// CheckFlag runs the gate, unlock and verification steps without taking locks
// or writing anything. It does not reject challenges that are already solved.
func (s *SubmissionService) CheckFlag(ctx context.Context, r Requester, req SubmitFlagRequest) (*CheckFlagResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, common.Errorf("failed to read settings: %w", err)
	}
	if !snap.SubmissionOpen(s.now()) {
		return nil, common.ErrSubmissionDisabled
	}

	requester, owner, err := resolveRequester(ctx, s.stores.Accounts, r, snap.EnableTeams)
	if err != nil {
		return nil, err
	}
	ch, err := s.stores.Challenges.FindByID(ctx, nil, req.ChallengeID)
	if err != nil {
		return nil, common.Errorf("failed to load challenge: %w", err)
	}
	if ch.Hidden {
		return nil, common.Errorf("challenge %d: %w", ch.ID, common.ErrNotFound)
	}

	unlocked, err := s.isUnlocked(ctx, nil, requester, owner, ch, snap.EnableTeams)
	if err != nil {
		return nil, err
	}
	if !unlocked {
		return nil, common.ErrChallengeLocked
	}

	verifier, err := s.flags.Verifier(ch, flag.Env{FlagPrefix: snap.FlagPrefix})
	if err != nil {
		return nil, err
	}
	ok := verifier.Check(req.Flag, flag.Context{UserID: requester.UserID, TeamID: requester.TeamID})
	return &CheckFlagResult{Correct: ok}, nil
}
