package service

import (
	"context"
	"ctf_scoring/internal/domain/model"
	"ctf_scoring/internal/domain/repository"
	"ctf_scoring/internal/platform/metrics"
	"ctf_scoring/internal/platform/settings"
	"ctf_scoring/internal/scoring/flag"
	"ctf_scoring/internal/scoring/points"
	"ctf_scoring/internal/testkit/memstore"
	"encoding/json"
	"sync"
	"testing"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func openSettings() settings.Snapshot {
	return settings.Snapshot{
		EnableFlagSubmission:            true,
		EnableScoring:                   true,
		EnableTrackIncorrectSubmissions: true,
		EnableTeams:                     true,
		FlagPrefix:                      "ractf",
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.SubmissionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.SubmissionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingScheduler struct {
	mu  sync.Mutex
	ids []int64
}

func (s *recordingScheduler) Enqueue(_ context.Context, challengeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, challengeID)
	return nil
}

type recordingInvalidator struct {
	mu     sync.Mutex
	owners []model.Owner
}

func (c *recordingInvalidator) Invalidate(_ context.Context, owners ...model.Owner) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners = append(c.owners, owners...)
	return nil
}

type fixture struct {
	store     *memstore.Store
	settings  *settings.Static
	metrics   *metrics.Scoring
	events    *recordingPublisher
	reprice   *recordingScheduler
	listings  *recordingInvalidator
	submit    *SubmissionService
	recalc    *RecalculationService
	team      model.Team
	alice     model.User
	bob       model.User
	stranger  model.User
	requester Requester
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		settings: settings.NewStatic(openSettings()),
		metrics:  metrics.NewScoring(gometrics.NewRegistry()),
		events:   &recordingPublisher{},
		reprice:  &recordingScheduler{},
		listings: &recordingInvalidator{},
	}
	stores := f.stores()
	f.submit = NewSubmissionService(stores, flag.NewRegistry(), points.NewRegistry(), f.settings, f.metrics,
		PublishEventsHook(f.events),
		InvalidateListingHook(f.listings),
		ScheduleRepriceHook(f.reprice),
	)
	f.submit.SetClock(func() time.Time { return fixedNow })
	f.recalc = NewRecalculationService(stores, points.NewRegistry(), f.metrics)

	f.team = f.store.AddTeam("null pointers")
	f.alice = f.store.AddUser("alice", &f.team.ID)
	f.bob = f.store.AddUser("bob", &f.team.ID)
	f.stranger = f.store.AddUser("mallory", nil)
	f.requester = Requester{UserID: f.alice.ID, TeamID: &f.team.ID}
	return f
}

// movingAccounts moves a user to the next team in moves right after each
// lookup of that user, the way a concurrent team change lands between
// resolving a requester and locking its rows.
type movingAccounts struct {
	repository.AccountRepository
	store  *memstore.Store
	userID string
	moves  []*string
}

func (a *movingAccounts) FindUser(ctx context.Context, id string) (*model.User, error) {
	u, err := a.AccountRepository.FindUser(ctx, id)
	if err == nil && id == a.userID && len(a.moves) > 0 {
		a.store.MoveUser(id, a.moves[0])
		a.moves = a.moves[1:]
	}
	return u, err
}

// withAccounts builds a submission service over the fixture's store with a
// different account repository.
func (f *fixture) withAccounts(accounts repository.AccountRepository) *SubmissionService {
	stores := f.stores()
	stores.Accounts = accounts
	svc := NewSubmissionService(stores, flag.NewRegistry(), points.NewRegistry(), f.settings, f.metrics)
	svc.SetClock(func() time.Time { return fixedNow })
	return svc
}

func (f *fixture) stores() Stores {
	return Stores{Tx: f.store, Challenges: f.store, Accounts: f.store, Ledger: f.store, Hints: f.store}
}

func (f *fixture) plaintext(name, value string, score int) model.Challenge {
	meta, _ := json.Marshal(map[string]string{"flag": value})
	return f.store.AddChallenge(model.Challenge{
		Name:         name,
		Slug:         name,
		Category:     "misc",
		Score:        score,
		FlagType:     model.FlagTypePlaintext,
		FlagMetadata: meta,
		PointsType:   model.PointsTypeBasic,
	})
}

func (f *fixture) decaying(name, value string, score, minPoints int, decay float64) model.Challenge {
	meta, _ := json.Marshal(map[string]string{"flag": value})
	pointsMeta, _ := json.Marshal(map[string]interface{}{"decay_constant": decay, "min_points": minPoints})
	return f.store.AddChallenge(model.Challenge{
		Name:           name,
		Slug:           name,
		Category:       "crypto",
		Score:          score,
		FlagType:       model.FlagTypePlaintext,
		FlagMetadata:   meta,
		PointsType:     model.PointsTypeDecay,
		PointsMetadata: pointsMeta,
	})
}

func intPtr(v int) *int { return &v }
