package api

import (
	"bytes"
	"ctf_scoring/internal/app/service"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/common/security"
	"ctf_scoring/internal/domain/model"
	"ctf_scoring/internal/platform/metrics"
	"ctf_scoring/internal/platform/settings"
	"ctf_scoring/internal/scoring/flag"
	"ctf_scoring/internal/scoring/points"
	"ctf_scoring/internal/testkit/memstore"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler   http.Handler
	auth      *jwtauth.JWTAuth
	store     *memstore.Store
	team      model.Team
	user      model.User
	challenge model.Challenge
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memstore.New()
	stores := service.Stores{Tx: store, Challenges: store, Accounts: store, Ledger: store, Hints: store}
	provider := settings.NewStatic(settings.Snapshot{
		EnableFlagSubmission:            true,
		EnableScoring:                   true,
		EnableTrackIncorrectSubmissions: true,
		EnableTeams:                     true,
		FlagPrefix:                      "ractf",
	})
	flags := flag.NewRegistry()
	pointsRegistry := points.NewRegistry()
	scoringMetrics := metrics.NewScoring(nil)

	services := Services{
		Challenges:    service.NewChallengeService(stores, flags, pointsRegistry, provider, nil),
		Submissions:   service.NewSubmissionService(stores, flags, pointsRegistry, provider, scoringMetrics),
		Recalculation: service.NewRecalculationService(stores, pointsRegistry, scoringMetrics),
		Leaderboard:   service.NewLeaderboardService(store),
	}
	auth := security.NewTokenAuth("test-secret")

	team := store.AddTeam("null pointers")
	user := store.AddUser("alice", &team.ID)
	ch := store.AddChallenge(model.Challenge{
		Name: "warmup", Slug: "warmup", Category: "misc", Score: 100,
		FlagType: model.FlagTypePlaintext, FlagMetadata: json.RawMessage(`{"flag":"ractf{hello}"}`),
		PointsType: model.PointsTypeBasic,
	})

	return &testServer{
		handler:   NewRouter(auth, services, scoringMetrics),
		auth:      auth,
		store:     store,
		team:      team,
		user:      user,
		challenge: ch,
	}
}

func (s *testServer) token(t *testing.T, role string) string {
	t.Helper()
	tok, err := security.GenerateToken(s.auth, s.user.ID, &s.team.ID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "submissions.correct")
}

func TestSubmitFlagEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, model.RoleUser)
	body := map[string]interface{}{"challenge": s.challenge.ID, "flag": "ractf{hello}"}

	rec := s.do(t, http.MethodPost, "/api/v1/challenges/submit_flag", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/challenges/submit_flag", token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res service.SubmissionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Correct)
	assert.Equal(t, 100, res.Points)
	assert.True(t, res.FirstBlood)

	rec = s.do(t, http.MethodPost, "/api/v1/challenges/submit_flag", token, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errResp common.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "already_solved", errResp.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/challenges/submit_flag", token, map[string]interface{}{"challenge": s.challenge.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckFlagEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, model.RoleUser)

	rec := s.do(t, http.MethodPost, "/api/v1/challenges/check_flag", token, map[string]interface{}{"challenge": s.challenge.ID, "flag": "ractf{nope}"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"correct":false}`, rec.Body.String())
	assert.Empty(t, s.store.Solves())
}

func TestChallengeEndpoints(t *testing.T) {
	s := newTestServer(t)
	user := s.token(t, model.RoleUser)
	admin := s.token(t, model.RoleAdmin)

	rec := s.do(t, http.MethodGet, "/api/v1/challenges", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []model.ChallengeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.True(t, views[0].Unlocked)

	rec = s.do(t, http.MethodGet, "/api/v1/challenges/1", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "ractf{hello}")

	rec = s.do(t, http.MethodGet, "/api/v1/challenges/abc", user, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	create := map[string]interface{}{
		"name":          "Second",
		"score":         200,
		"flag_type":     "plaintext",
		"flag_metadata": map[string]string{"flag": "ractf{two}"},
	}
	rec = s.do(t, http.MethodPost, "/api/v1/challenges", user, create)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/challenges", admin, create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created service.CreateChallengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "second", created.Challenge.Slug)
	assert.Empty(t, created.Issues)

	rec = s.do(t, http.MethodGet, "/api/v1/challenges/1/self_check", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"issues":[]}`, rec.Body.String())
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t)
	user := s.token(t, model.RoleUser)
	admin := s.token(t, model.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/api/v1/challenges/submit_flag", user, map[string]interface{}{"challenge": s.challenge.ID, "flag": "ractf{hello}"})
	require.Equal(t, http.StatusOK, rec.Code)
	s.store.SetTeamTotals(s.team.ID, 0, 0)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/recalculate", user, map[string]interface{}{"all": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/recalculate", admin, map[string]interface{}{"all": true, "team": s.team.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/recalculate", admin, map[string]interface{}{"team": s.team.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"points":100,"leaderboard_points":100}`, rec.Body.String())
	assert.Equal(t, 100, s.store.Team(s.team.ID).Points)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/recalculate", admin, map[string]interface{}{"all": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reconciled":2}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/admin/reprice/1", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"adjusted":0}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/admin/reprice/99", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaderboardEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, model.RoleUser)

	rec := s.do(t, http.MethodPost, "/api/v1/challenges/submit_flag", token, map[string]interface{}{"challenge": s.challenge.ID, "flag": "ractf{hello}"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/leaderboard/teams?limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.LeaderboardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, s.team.ID, entries[0].ID)
	assert.Equal(t, 100, entries[0].LeaderboardPoints)
	assert.Equal(t, 1, entries[0].Rank)
}
