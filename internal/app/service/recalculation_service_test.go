package service

import (
	"context"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type solver struct {
	team model.Team
	user model.User
}

func (s solver) requester() Requester {
	return Requester{UserID: s.user.ID, TeamID: &s.team.ID}
}

func (f *fixture) addSolvers(names ...string) []solver {
	out := []solver{{team: f.team, user: f.alice}}
	for _, name := range names {
		team := f.store.AddTeam(name)
		out = append(out, solver{team: team, user: f.store.AddUser(name+"-captain", &team.ID)})
	}
	return out
}

func TestRepriceChallenge_BringsEveryoneToCurrentPrice(t *testing.T) {
	f := newFixture(t)
	ch := f.decaying("rsa", "ractf{rsa}", 500, 100, 0.8)
	solvers := f.addSolvers("segfaults", "off-by-ones")
	ctx := context.Background()

	var awarded []int
	for _, s := range solvers {
		res, err := f.submit.SubmitFlag(ctx, s.requester(), SubmitFlagRequest{ChallengeID: ch.ID, Flag: "ractf{rsa}"})
		require.NoError(t, err)
		awarded = append(awarded, res.Points)
	}
	assert.Equal(t, []int{500, 500, 420}, awarded)
	assert.Len(t, f.reprice.ids, 3)

	changed, err := f.recalc.RepriceChallenge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	assert.Equal(t, int64(2), f.metrics.Repriced.Count())

	for _, s := range solvers {
		team := f.store.Team(s.team.ID)
		assert.Equal(t, 420, team.Points, s.team.Name)
		assert.Equal(t, 420, team.LeaderboardPoints, s.team.Name)
		assert.Equal(t, 420, f.store.User(s.user.ID).Points, s.team.Name)
	}
	for _, sc := range f.store.Scores() {
		assert.Equal(t, 420, sc.Points)
	}

	// A second pass finds nothing to do.
	changed, err = f.recalc.RepriceChallenge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
	assert.Equal(t, 420, f.store.Team(f.team.ID).Points)
}

func TestRepriceChallenge_KeepsPenaltyWithinPoints(t *testing.T) {
	f := newFixture(t)
	ch := f.decaying("rsa", "ractf{rsa}", 500, 100, 0.8)
	solvers := f.addSolvers("segfaults", "off-by-ones")
	ctx := context.Background()

	hinted := solvers[1]
	f.store.AddHintUse(model.HintUse{HintID: 1, TeamID: &hinted.team.ID, UserID: hinted.user.ID, ChallengeID: ch.ID, Penalty: 450})

	for _, s := range solvers {
		_, err := f.submit.SubmitFlag(ctx, s.requester(), SubmitFlagRequest{ChallengeID: ch.ID, Flag: "ractf{rsa}"})
		require.NoError(t, err)
	}
	assert.Equal(t, 50, f.store.Team(hinted.team.ID).Points)

	_, err := f.recalc.RepriceChallenge(ctx, ch.ID)
	require.NoError(t, err)

	for _, sc := range f.store.Scores() {
		assert.True(t, sc.Penalty >= 0 && sc.Penalty <= sc.Points)
	}
	assert.Equal(t, 0, f.store.Team(hinted.team.ID).Points)
	assert.Equal(t, 0, f.store.User(hinted.user.ID).Points)
	assert.Equal(t, 420, f.store.Team(solvers[0].team.ID).Points)
}

func TestRepriceChallenge_IgnoresHintsUsedAfterSolve(t *testing.T) {
	f := newFixture(t)
	ch := f.decaying("rsa", "ractf{rsa}", 500, 100, 0.8)
	solvers := f.addSolvers("segfaults", "off-by-ones")
	ctx := context.Background()

	_, err := f.submit.SubmitFlag(ctx, solvers[0].requester(), SubmitFlagRequest{ChallengeID: ch.ID, Flag: "ractf{rsa}"})
	require.NoError(t, err)
	f.store.AddHintUse(model.HintUse{HintID: 1, TeamID: &f.team.ID, UserID: f.alice.ID, ChallengeID: ch.ID, Penalty: 100})
	for _, s := range solvers[1:] {
		_, err := f.submit.SubmitFlag(ctx, s.requester(), SubmitFlagRequest{ChallengeID: ch.ID, Flag: "ractf{rsa}"})
		require.NoError(t, err)
	}

	_, err = f.recalc.RepriceChallenge(ctx, ch.ID)
	require.NoError(t, err)

	for _, sc := range f.store.Scores() {
		if sc.TeamID != nil && *sc.TeamID == f.team.ID {
			assert.Equal(t, 420, sc.Points)
			assert.Equal(t, 0, sc.Penalty)
		}
	}
	assert.Equal(t, 420, f.store.Team(f.team.ID).Points)
	assert.Equal(t, 420, f.store.User(f.alice.ID).Points)
}

func TestRepriceChallenge_OffLeaderboardScores(t *testing.T) {
	f := newFixture(t)
	ch := f.decaying("rsa", "ractf{rsa}", 500, 100, 0.8)
	solvers := f.addSolvers("segfaults", "off-by-ones")
	ctx := context.Background()

	f.settings.Values.EnableScoring = false
	for _, s := range solvers {
		_, err := f.submit.SubmitFlag(ctx, s.requester(), SubmitFlagRequest{ChallengeID: ch.ID, Flag: "ractf{rsa}"})
		require.NoError(t, err)
	}

	_, err := f.recalc.RepriceChallenge(ctx, ch.ID)
	require.NoError(t, err)

	team := f.store.Team(f.team.ID)
	assert.Equal(t, 420, team.Points)
	assert.Equal(t, 0, team.LeaderboardPoints)
}

func TestRepriceChallenge_StaticAndMissing(t *testing.T) {
	f := newFixture(t)
	ch := f.plaintext("warmup", "ractf{hello}", 100)
	ctx := context.Background()

	_, err := f.submit.SubmitFlag(ctx, f.requester, SubmitFlagRequest{ChallengeID: ch.ID, Flag: "ractf{hello}"})
	require.NoError(t, err)

	changed, err := f.recalc.RepriceChallenge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	_, err = f.recalc.RepriceChallenge(ctx, 404)
	require.True(t, errors.Is(err, common.ErrNotFound))
}

func TestRepriceChallenge_FailureLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	ch := f.decaying("rsa", "ractf{rsa}", 500, 100, 0.8)
	solvers := f.addSolvers("segfaults", "off-by-ones")
	ctx := context.Background()
	for _, s := range solvers {
		_, err := f.submit.SubmitFlag(ctx, s.requester(), SubmitFlagRequest{ChallengeID: ch.ID, Flag: "ractf{rsa}"})
		require.NoError(t, err)
	}
	before := f.store.Scores()

	boom := errors.New("deadlock detected")
	f.store.FailOnce("AdjustTotals", boom)
	_, err := f.recalc.RepriceChallenge(ctx, ch.ID)
	require.True(t, errors.Is(err, boom))

	assert.Equal(t, before, f.store.Scores())
	assert.Equal(t, 500, f.store.Team(f.team.ID).Points)
	assert.Equal(t, int64(0), f.metrics.Repriced.Count())
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	a := f.plaintext("one", "ractf{1}", 100)
	b := f.plaintext("two", "ractf{2}", 250)
	ctx := context.Background()

	_, err := f.submit.SubmitFlag(ctx, f.requester, SubmitFlagRequest{ChallengeID: a.ID, Flag: "ractf{1}"})
	require.NoError(t, err)
	f.settings.Values.EnableScoring = false
	bob := Requester{UserID: f.bob.ID, TeamID: &f.team.ID}
	_, err = f.submit.SubmitFlag(ctx, bob, SubmitFlagRequest{ChallengeID: b.ID, Flag: "ractf{2}"})
	require.NoError(t, err)

	f.store.SetTeamTotals(f.team.ID, 9999, 9999)

	totals, err := f.recalc.Reconcile(ctx, model.TeamOwner(f.team.ID))
	require.NoError(t, err)
	assert.Equal(t, model.Totals{Points: 350, LeaderboardPoints: 100}, totals)

	team := f.store.Team(f.team.ID)
	assert.Equal(t, 350, team.Points)
	assert.Equal(t, 100, team.LeaderboardPoints)

	_, err = f.recalc.Reconcile(ctx, model.TeamOwner("missing"))
	require.True(t, errors.Is(err, common.ErrNotFound))
}

func TestReconcileAll(t *testing.T) {
	f := newFixture(t)
	ch := f.plaintext("one", "ractf{1}", 100)
	f.addSolvers("segfaults")
	ctx := context.Background()

	_, err := f.submit.SubmitFlag(ctx, f.requester, SubmitFlagRequest{ChallengeID: ch.ID, Flag: "ractf{1}"})
	require.NoError(t, err)
	f.store.SetTeamTotals(f.team.ID, 0, 0)

	count, err := f.recalc.ReconcileAll(ctx)
	require.NoError(t, err)
	// two teams, plus alice, bob, mallory and the segfaults captain
	assert.Equal(t, 6, count)
	assert.Equal(t, 100, f.store.Team(f.team.ID).Points)
	assert.Equal(t, 100, f.store.User(f.alice.ID).Points)
}

func TestReconcileAll_AgreesWithIncrementalTotals(t *testing.T) {
	f := newFixture(t)
	warmup := f.plaintext("warmup", "ractf{hello}", 100)
	rsa := f.decaying("rsa", "ractf{rsa}", 500, 100, 0.8)
	solvers := f.addSolvers("segfaults", "off-by-ones")
	ctx := context.Background()

	f.store.AddHintUse(model.HintUse{HintID: 1, TeamID: &solvers[1].team.ID, UserID: solvers[1].user.ID, ChallengeID: rsa.ID, Penalty: 75})
	_, err := f.submit.SubmitFlag(ctx, solvers[2].requester(), SubmitFlagRequest{ChallengeID: rsa.ID, Flag: "ractf{nope}"})
	require.NoError(t, err)
	for _, s := range solvers {
		_, err := f.submit.SubmitFlag(ctx, s.requester(), SubmitFlagRequest{ChallengeID: rsa.ID, Flag: "ractf{rsa}"})
		require.NoError(t, err)
	}
	bob := Requester{UserID: f.bob.ID, TeamID: &f.team.ID}
	_, err = f.submit.SubmitFlag(ctx, bob, SubmitFlagRequest{ChallengeID: warmup.ID, Flag: "ractf{hello}"})
	require.NoError(t, err)
	f.settings.Values.EnableScoring = false
	_, err = f.submit.SubmitFlag(ctx, solvers[1].requester(), SubmitFlagRequest{ChallengeID: warmup.ID, Flag: "ractf{hello}"})
	require.NoError(t, err)

	_, err = f.recalc.RepriceChallenge(ctx, rsa.ID)
	require.NoError(t, err)

	teams := map[string]model.Team{}
	users := map[string]model.User{f.bob.ID: f.store.User(f.bob.ID), f.stranger.ID: f.store.User(f.stranger.ID)}
	for _, s := range solvers {
		teams[s.team.ID] = f.store.Team(s.team.ID)
		users[s.user.ID] = f.store.User(s.user.ID)
	}

	_, err = f.recalc.ReconcileAll(ctx)
	require.NoError(t, err)

	for id, want := range teams {
		got := f.store.Team(id)
		assert.Equal(t, want.Points, got.Points, want.Name)
		assert.Equal(t, want.LeaderboardPoints, got.LeaderboardPoints, want.Name)
	}
	for id, want := range users {
		got := f.store.User(id)
		assert.Equal(t, want.Points, got.Points, want.Username)
		assert.Equal(t, want.LeaderboardPoints, got.LeaderboardPoints, want.Username)
	}
	assert.Equal(t, 520, teams[f.team.ID].Points)
	assert.Equal(t, 420-75+100, teams[solvers[1].team.ID].Points)
}
