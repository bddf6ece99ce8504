// Package memstore is an in-memory implementation of the repository interfaces
// and the Transactor, for service tests that do not need Postgres.
//
// Transactions are serialized, which is stronger than row locking but gives the
// same guarantees for the code under test. A failed transaction restores the
// state captured when it began.
package memstore

import (
	"context"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"ctf_scoring/internal/domain/repository"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type state struct {
	challenges map[int64]model.Challenge
	teams      map[string]model.Team
	users      map[string]model.User
	scores     map[int64]model.Score
	solves     map[int64]model.Solve
	hintUses   []model.HintUse

	nextChallengeID int64
	nextScoreID     int64
	nextSolveID     int64
}

func (s *state) clone() state {
	c := state{
		challenges:      make(map[int64]model.Challenge, len(s.challenges)),
		teams:           make(map[string]model.Team, len(s.teams)),
		users:           make(map[string]model.User, len(s.users)),
		scores:          make(map[int64]model.Score, len(s.scores)),
		solves:          make(map[int64]model.Solve, len(s.solves)),
		hintUses:        append([]model.HintUse(nil), s.hintUses...),
		nextChallengeID: s.nextChallengeID,
		nextScoreID:     s.nextScoreID,
		nextSolveID:     s.nextSolveID,
	}
	for k, v := range s.challenges {
		c.challenges[k] = v
	}
	for k, v := range s.teams {
		c.teams[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.scores {
		c.scores[k] = v
	}
	for k, v := range s.solves {
		c.solves[k] = v
	}
	return c
}

var (
	_ repository.Transactor          = (*Store)(nil)
	_ repository.ChallengeRepository = (*Store)(nil)
	_ repository.AccountRepository   = (*Store)(nil)
	_ repository.LedgerRepository    = (*Store)(nil)
	_ repository.HintRepository      = (*Store)(nil)
)

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state

	failures map[string]error
	txCount  int
}

func New() *Store {
	return &Store{
		st: state{
			challenges: make(map[int64]model.Challenge),
			teams:      make(map[string]model.Team),
			users:      make(map[string]model.User),
			scores:     make(map[int64]model.Score),
			solves:     make(map[int64]model.Solve),
		},
		failures: make(map[string]error),
	}
}

// FailOnce makes the next call to the named method return err.
func (s *Store) FailOnce(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

// injected must be called with mu held.
func (s *Store) injected(method string) error {
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return fmt.Errorf("memstore.%s: %w", method, err)
	}
	return nil
}

// Transactions reports how many transactions have committed.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	saved := s.st.clone()
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.st = saved
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.txCount++
	s.mu.Unlock()
	return nil
}

// Seeding and inspection helpers.

func (s *Store) AddTeam(name string) model.Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := model.Team{ID: uuid.NewString(), Name: name, CreatedAt: time.Now()}
	s.st.teams[t.ID] = t
	return t
}

func (s *Store) AddUser(username string, teamID *string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := model.User{ID: uuid.NewString(), Username: username, TeamID: teamID, Role: model.RoleUser, CreatedAt: time.Now()}
	s.st.users[u.ID] = u
	return u
}

func (s *Store) AddChallenge(ch model.Challenge) model.Challenge {
	if err := s.Create(context.Background(), nil, &ch); err != nil {
		panic(err)
	}
	return ch
}

func (s *Store) AddHintUse(h model.HintUse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.ID = int64(len(s.st.hintUses) + 1)
	s.st.hintUses = append(s.st.hintUses, h)
}

func (s *Store) Team(id string) model.Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.teams[id]
}

func (s *Store) User(id string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.users[id]
}

func (s *Store) Challenge(id int64) model.Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.challenges[id]
}

// Scores returns every score row ordered by id.
func (s *Store) Scores() []model.Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Score, 0, len(s.st.scores))
	for _, sc := range s.st.scores {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Solves returns every solve row ordered by id.
func (s *Store) Solves() []model.Solve {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Solve, 0, len(s.st.solves))
	for _, sv := range s.st.solves {
		out = append(out, sv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetTeamTotals overwrites a team's cached totals, simulating drift.
func (s *Store) SetTeamTotals(id string, points, leaderboardPoints int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.st.teams[id]
	t.Points, t.LeaderboardPoints = points, leaderboardPoints
	s.st.teams[id] = t
}

// MoveUser changes a user's team.
func (s *Store) MoveUser(id string, teamID *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.st.users[id]
	u.TeamID = teamID
	s.st.users[id] = u
}

// ChallengeRepository

func (s *Store) Create(_ context.Context, _ *sql.Tx, ch *model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("Create"); err != nil {
		return err
	}
	for _, existing := range s.st.challenges {
		if existing.Slug == ch.Slug {
			return fmt.Errorf("challenge with this slug already exists: %w", common.ErrConflict)
		}
	}
	s.st.nextChallengeID++
	ch.ID = s.st.nextChallengeID
	ch.CreatedAt = time.Now()
	ch.UpdatedAt = ch.CreatedAt
	s.st.challenges[ch.ID] = *ch
	return nil
}

func (s *Store) FindByID(_ context.Context, _ *sql.Tx, id int64) (*model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("FindByID"); err != nil {
		return nil, err
	}
	ch, ok := s.st.challenges[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &ch, nil
}

func (s *Store) LockByID(ctx context.Context, tx *sql.Tx, id int64) (*model.Challenge, error) {
	s.mu.Lock()
	err := s.injected("LockByID")
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, tx, id)
}

func (s *Store) SetFirstBlood(_ context.Context, _ *sql.Tx, id int64, teamID *string, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("SetFirstBlood"); err != nil {
		return false, err
	}
	ch, ok := s.st.challenges[id]
	if !ok || ch.HasFirstBlood() {
		return false, nil
	}
	uid := userID
	ch.FirstBloodTeamID = teamID
	ch.FirstBloodUserID = &uid
	s.st.challenges[id] = ch
	return true, nil
}

func (s *Store) List(_ context.Context, includeHidden bool) ([]model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Challenge
	for _, ch := range s.st.challenges {
		if ch.Hidden && !includeHidden {
			continue
		}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AccountRepository

func (s *Store) FindUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &u, nil
}

func (s *Store) LockOwner(_ context.Context, _ *sql.Tx, owner model.Owner) (*model.Standing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("LockOwner"); err != nil {
		return nil, err
	}
	switch owner.Kind {
	case model.OwnerTeam:
		t, ok := s.st.teams[owner.ID]
		if !ok {
			return nil, fmt.Errorf("team %s: %w", owner.ID, common.ErrNotFound)
		}
		return &model.Standing{Owner: owner, Points: t.Points, LeaderboardPoints: t.LeaderboardPoints, LastScore: t.LastScore}, nil
	case model.OwnerUser:
		u, ok := s.st.users[owner.ID]
		if !ok {
			return nil, fmt.Errorf("user %s: %w", owner.ID, common.ErrNotFound)
		}
		return &model.Standing{Owner: owner, Points: u.Points, LeaderboardPoints: u.LeaderboardPoints, LastScore: u.LastScore, TeamID: u.TeamID}, nil
	}
	return nil, fmt.Errorf("unknown owner kind %q: %w", owner.Kind, common.ErrBadRequest)
}

func (s *Store) AdjustTotals(_ context.Context, _ *sql.Tx, owner model.Owner, points, leaderboardPoints int, lastScore *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("AdjustTotals"); err != nil {
		return err
	}
	switch owner.Kind {
	case model.OwnerTeam:
		t := s.st.teams[owner.ID]
		t.Points += points
		t.LeaderboardPoints += leaderboardPoints
		if lastScore != nil {
			ts := *lastScore
			t.LastScore = &ts
		}
		s.st.teams[owner.ID] = t
	case model.OwnerUser:
		u := s.st.users[owner.ID]
		u.Points += points
		u.LeaderboardPoints += leaderboardPoints
		if lastScore != nil {
			ts := *lastScore
			u.LastScore = &ts
		}
		s.st.users[owner.ID] = u
	}
	return nil
}

func (s *Store) SetTotals(_ context.Context, _ *sql.Tx, owner model.Owner, totals model.Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("SetTotals"); err != nil {
		return err
	}
	switch owner.Kind {
	case model.OwnerTeam:
		t := s.st.teams[owner.ID]
		t.Points, t.LeaderboardPoints = totals.Points, totals.LeaderboardPoints
		s.st.teams[owner.ID] = t
	case model.OwnerUser:
		u := s.st.users[owner.ID]
		u.Points, u.LeaderboardPoints = totals.Points, totals.LeaderboardPoints
		s.st.users[owner.ID] = u
	}
	return nil
}

func (s *Store) ListOwnerIDs(_ context.Context, kind model.OwnerKind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	if kind == model.OwnerTeam {
		for id := range s.st.teams {
			ids = append(ids, id)
		}
	} else {
		for id := range s.st.users {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Leaderboard(_ context.Context, kind model.OwnerKind, limit, offset int) ([]model.LeaderboardEntry, error) {
	s.mu.Lock()
	var entries []model.LeaderboardEntry
	if kind == model.OwnerTeam {
		for _, t := range s.st.teams {
			entries = append(entries, model.LeaderboardEntry{ID: t.ID, Name: t.Name, LeaderboardPoints: t.LeaderboardPoints, LastScore: t.LastScore})
		}
	} else {
		for _, u := range s.st.users {
			entries = append(entries, model.LeaderboardEntry{ID: u.ID, Name: u.Username, LeaderboardPoints: u.LeaderboardPoints, LastScore: u.LastScore})
		}
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.LeaderboardPoints != b.LeaderboardPoints {
			return a.LeaderboardPoints > b.LeaderboardPoints
		}
		switch {
		case a.LastScore != nil && b.LastScore != nil && !a.LastScore.Equal(*b.LastScore):
			return a.LastScore.Before(*b.LastScore)
		case a.LastScore != nil && b.LastScore == nil:
			return true
		case a.LastScore == nil && b.LastScore != nil:
			return false
		}
		return a.ID < b.ID
	})

	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = offset + i + 1
	}
	return entries, nil
}

// LedgerRepository

func (s *Store) CreateScore(_ context.Context, _ *sql.Tx, sc *model.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateScore"); err != nil {
		return err
	}
	ceiling := sc.Points
	if ceiling < 0 {
		ceiling = 0
	}
	if sc.Penalty < 0 || sc.Penalty > ceiling {
		return fmt.Errorf("memstore.CreateScore: penalty %d out of range for %d points", sc.Penalty, sc.Points)
	}
	s.st.nextScoreID++
	sc.ID = s.st.nextScoreID
	s.st.scores[sc.ID] = *sc
	return nil
}

func (s *Store) CreateSolve(_ context.Context, _ *sql.Tx, sv *model.Solve) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateSolve"); err != nil {
		return err
	}
	if sv.Correct {
		for _, existing := range s.st.solves {
			if !existing.Correct || existing.ChallengeID != sv.ChallengeID {
				continue
			}
			sameTeam := sv.TeamID != nil && existing.TeamID != nil && *sv.TeamID == *existing.TeamID
			if sameTeam || existing.SolvedBy == sv.SolvedBy {
				return fmt.Errorf("memstore.CreateSolve: %w", common.ErrAlreadySolved)
			}
		}
	}
	s.st.nextSolveID++
	sv.ID = s.st.nextSolveID
	s.st.solves[sv.ID] = *sv
	return nil
}

func (s *Store) HasCorrectSolve(_ context.Context, _ *sql.Tx, challengeID int64, teamID *string, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("HasCorrectSolve"); err != nil {
		return false, err
	}
	for _, sv := range s.st.solves {
		if !sv.Correct || sv.ChallengeID != challengeID {
			continue
		}
		if teamID != nil && sv.TeamID != nil && *sv.TeamID == *teamID {
			return true, nil
		}
		if sv.SolvedBy == userID {
			return true, nil
		}
	}
	return false, nil
}

func solveOwnedBy(sv model.Solve, owner model.Owner) bool {
	if owner.Kind == model.OwnerTeam {
		return sv.TeamID != nil && *sv.TeamID == owner.ID
	}
	return sv.SolvedBy == owner.ID
}

func (s *Store) SolvedChallengeIDs(_ context.Context, _ *sql.Tx, owner model.Owner) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, sv := range s.st.solves {
		if sv.Correct && solveOwnedBy(sv, owner) {
			ids = append(ids, sv.ChallengeID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) CountAttempts(_ context.Context, _ *sql.Tx, challengeID int64, owner model.Owner) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sv := range s.st.solves {
		if sv.ChallengeID == challengeID && solveOwnedBy(sv, owner) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountCorrectSolves(_ context.Context, _ *sql.Tx, challengeID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sv := range s.st.solves {
		if sv.ChallengeID == challengeID && sv.Correct {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListCorrectSolveScores(_ context.Context, _ *sql.Tx, challengeID int64) ([]model.SolveScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ListCorrectSolveScores"); err != nil {
		return nil, err
	}
	var out []model.SolveScore
	for _, sv := range s.st.solves {
		if sv.ChallengeID != challengeID || !sv.Correct || sv.ScoreID == nil {
			continue
		}
		sc, ok := s.st.scores[*sv.ScoreID]
		if !ok {
			continue
		}
		out = append(out, model.SolveScore{Solve: sv, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Solve, out[j].Solve
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *Store) UpdateScore(_ context.Context, _ *sql.Tx, scoreID int64, points, penalty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("UpdateScore"); err != nil {
		return err
	}
	sc, ok := s.st.scores[scoreID]
	if !ok {
		return fmt.Errorf("score %d: %w", scoreID, common.ErrNotFound)
	}
	sc.Points, sc.Penalty = points, penalty
	s.st.scores[scoreID] = sc
	return nil
}

func (s *Store) SumScores(_ context.Context, _ *sql.Tx, owner model.Owner) (model.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t model.Totals
	for _, sc := range s.st.scores {
		var id *string
		if owner.Kind == model.OwnerTeam {
			id = sc.TeamID
		} else {
			id = sc.UserID
		}
		if id == nil || *id != owner.ID {
			continue
		}
		t.Points += sc.Net()
		if sc.Leaderboard {
			t.LeaderboardPoints += sc.Net()
		}
	}
	return t, nil
}

// HintRepository

func (s *Store) SumPenalty(_ context.Context, _ *sql.Tx, challengeID int64, owner model.Owner) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, h := range s.st.hintUses {
		if h.ChallengeID != challengeID {
			continue
		}
		if owner.Kind == model.OwnerTeam && h.TeamID != nil && *h.TeamID == owner.ID {
			total += h.Penalty
		}
		if owner.Kind == model.OwnerUser && h.UserID == owner.ID {
			total += h.Penalty
		}
	}
	return total, nil
}
