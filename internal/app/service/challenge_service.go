package service

import (
	"context"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"ctf_scoring/internal/platform/settings"
	"ctf_scoring/internal/scoring/flag"
	"ctf_scoring/internal/scoring/points"
	"ctf_scoring/internal/scoring/unlock"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/gosimple/slug"
)

// ListingCache stores per-owner challenge listings.
type ListingCache interface {
	Get(ctx context.Context, owner model.Owner) ([]model.ChallengeView, bool, error)
	Set(ctx context.Context, owner model.Owner, views []model.ChallengeView) error
	InvalidateAll(ctx context.Context) error
}

type ChallengeService struct {
	stores   Stores
	flags    *flag.Registry
	points   *points.Registry
	settings settings.Provider
	cache    ListingCache // optional
}

func NewChallengeService(stores Stores, flags *flag.Registry, pointsRegistry *points.Registry, settingsProvider settings.Provider, cache ListingCache) *ChallengeService {
	return &ChallengeService{
		stores:   stores,
		flags:    flags,
		points:   pointsRegistry,
		settings: settingsProvider,
		cache:    cache,
	}
}

type CreateChallengeRequest struct {
	Name                 string          `json:"name"`
	Slug                 string          `json:"slug"`
	Category             string          `json:"category"`
	Description          string          `json:"description"`
	Score                int             `json:"score"`
	UnlockRequirements   string          `json:"unlock_requirements"`
	FlagType             string          `json:"flag_type"`
	FlagMetadata         json.RawMessage `json:"flag_metadata"`
	PointsType           string          `json:"points_type"`
	PointsMetadata       json.RawMessage `json:"points_metadata"`
	AttemptLimit         *int            `json:"attempt_limit"`
	PostScoreExplanation *string         `json:"post_score_explanation"`
	Hidden               bool            `json:"hidden"`
}

type CreateChallengeResponse struct {
	Challenge *model.Challenge    `json:"challenge"`
	Issues    []model.ConfigIssue `json:"issues"`
}

// CreateChallenge stores a new challenge and self-checks it. Issues do not
// block creation, they are returned so the author can fix them.
func (s *ChallengeService) CreateChallenge(ctx context.Context, req CreateChallengeRequest) (*CreateChallengeResponse, error) {
	if strings.TrimSpace(req.Name) == "" || req.FlagType == "" {
		return nil, common.Errorf("name and flag_type are required: %w", common.ErrValidation)
	}
	if req.Score < 0 {
		return nil, common.Errorf("score must not be negative: %w", common.ErrValidation)
	}
	if req.AttemptLimit != nil && *req.AttemptLimit < 0 {
		return nil, common.Errorf("attempt_limit must not be negative: %w", common.ErrValidation)
	}
	if !s.flags.Has(req.FlagType) {
		return nil, common.Errorf("unknown flag_type %q: %w", req.FlagType, common.ErrValidation)
	}
	if req.PointsType == "" {
		req.PointsType = model.PointsTypeBasic
	}
	if !s.points.Has(req.PointsType) {
		return nil, common.Errorf("unknown points_type %q: %w", req.PointsType, common.ErrValidation)
	}

	slugSource := req.Slug
	if slugSource == "" {
		slugSource = req.Name
	}
	ch := &model.Challenge{
		Name:                 strings.TrimSpace(req.Name),
		Slug:                 slug.Make(slugSource),
		Category:             req.Category,
		Description:          req.Description,
		Score:                req.Score,
		UnlockRequirements:   strings.TrimSpace(req.UnlockRequirements),
		FlagType:             req.FlagType,
		FlagMetadata:         req.FlagMetadata,
		PointsType:           req.PointsType,
		PointsMetadata:       req.PointsMetadata,
		AttemptLimit:         req.AttemptLimit,
		PostScoreExplanation: req.PostScoreExplanation,
		Hidden:               req.Hidden,
	}
	if err := s.stores.Challenges.Create(ctx, nil, ch); err != nil {
		return nil, common.Errorf("failed to create challenge: %w", err)
	}
	log.Printf("INFO: Challenge %d (%s) created", ch.ID, ch.Slug)

	issues, err := s.selfCheck(ctx, ch)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		log.Printf("WARN: Challenge %d has %d configuration issues", ch.ID, len(issues))
	}

	if s.cache != nil {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			log.Printf("WARN: Failed to invalidate challenge listings: %v", err)
		}
	}
	return &CreateChallengeResponse{Challenge: ch, Issues: issues}, nil
}

// GetChallenge returns a challenge. Competitors never see hidden challenges,
// flag metadata or the post-solve explanation.
func (s *ChallengeService) GetChallenge(ctx context.Context, id int64, isAdmin bool) (*model.Challenge, error) {
	ch, err := s.stores.Challenges.FindByID(ctx, nil, id)
	if err != nil {
		return nil, common.Errorf("failed to get challenge: %w", err)
	}
	if isAdmin {
		return ch, nil
	}
	if ch.Hidden {
		return nil, common.Errorf("challenge %d: %w", id, common.ErrNotFound)
	}
	ch.FlagMetadata = nil
	ch.PostScoreExplanation = nil
	return ch, nil
}

// RunSelfCheck reports every configuration problem on a challenge. An empty
// result means the challenge is ready to be released.
func (s *ChallengeService) RunSelfCheck(ctx context.Context, id int64) ([]model.ConfigIssue, error) {
	ch, err := s.stores.Challenges.FindByID(ctx, nil, id)
	if err != nil {
		return nil, common.Errorf("failed to get challenge: %w", err)
	}
	return s.selfCheck(ctx, ch)
}

func (s *ChallengeService) selfCheck(ctx context.Context, ch *model.Challenge) ([]model.ConfigIssue, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, common.Errorf("failed to read settings: %w", err)
	}

	issues := []model.ConfigIssue{}
	if ch.Score < 0 {
		issues = append(issues, model.ConfigIssue{Field: "score", Message: "score must not be negative"})
	}

	if verifier, err := s.flags.Verifier(ch, flag.Env{FlagPrefix: snap.FlagPrefix}); err != nil {
		issues = append(issues, model.ConfigIssue{Field: "flag_type", Message: fmt.Sprintf("unknown flag type %q", ch.FlagType)})
	} else {
		issues = append(issues, verifier.SelfCheck()...)
	}

	if calc, err := s.points.Calculator(ch); err != nil {
		issues = append(issues, model.ConfigIssue{Field: "points_type", Message: fmt.Sprintf("unknown points type %q", ch.PointsType)})
	} else {
		issues = append(issues, calc.SelfCheck()...)
	}

	if ch.UnlockRequirements != "" {
		unlockIssues, err := s.checkUnlockRequirements(ctx, ch)
		if err != nil {
			return nil, err
		}
		issues = append(issues, unlockIssues...)
	}
	return issues, nil
}

func (s *ChallengeService) checkUnlockRequirements(ctx context.Context, ch *model.Challenge) ([]model.ConfigIssue, error) {
	all, err := s.stores.Challenges.List(ctx, true)
	if err != nil {
		return nil, common.Errorf("failed to list challenges: %w", err)
	}
	known := mapset.NewThreadUnsafeSet()
	for _, c := range all {
		known.Add(c.ID)
	}

	var issues []model.ConfigIssue
	depth := 0
	for _, token := range strings.Fields(ch.UnlockRequirements) {
		if token == "AND" || token == "OR" {
			if depth < 2 {
				issues = append(issues, model.ConfigIssue{Field: "unlock_requirements", Message: token + " needs two operands"})
				continue
			}
			depth--
			continue
		}
		id, err := strconv.ParseInt(token, 10, 64)
		switch {
		case err != nil:
			issues = append(issues, model.ConfigIssue{Field: "unlock_requirements", Message: fmt.Sprintf("%q is not a challenge id or operator", token)})
			continue
		case id == ch.ID:
			issues = append(issues, model.ConfigIssue{Field: "unlock_requirements", Message: "challenge requires itself"})
		case !known.Contains(id):
			issues = append(issues, model.ConfigIssue{Field: "unlock_requirements", Message: fmt.Sprintf("challenge %d does not exist", id)})
		}
		depth++
	}
	if depth > 1 {
		issues = append(issues, model.ConfigIssue{Field: "unlock_requirements", Message: "expression leaves more than one value, only the last is used"})
	}
	return issues, nil
}

// ListForRequester returns every visible challenge with the requester's unlock
// and solve state. Listings are cached per owner until the owner next scores.
func (s *ChallengeService) ListForRequester(ctx context.Context, r Requester) ([]model.ChallengeView, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, common.Errorf("failed to read settings: %w", err)
	}
	requester, owner, err := resolveRequester(ctx, s.stores.Accounts, r, snap.EnableTeams)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		views, ok, err := s.cache.Get(ctx, owner)
		if err != nil {
			log.Printf("WARN: Failed to read challenge listing for %s from cache: %v", owner, err)
		} else if ok {
			return views, nil
		}
	}

	challenges, err := s.stores.Challenges.List(ctx, false)
	if err != nil {
		return nil, common.Errorf("failed to list challenges: %w", err)
	}
	ids, err := s.stores.Ledger.SolvedChallengeIDs(ctx, nil, owner)
	if err != nil {
		return nil, common.Errorf("failed to load solved challenges: %w", err)
	}
	solved := unlock.SolvedSet(ids)
	who := &unlock.Requester{UserID: requester.UserID, TeamID: requester.TeamID}

	views := make([]model.ChallengeView, 0, len(challenges))
	for i := range challenges {
		ch := &challenges[i]
		views = append(views, model.ChallengeView{
			ID:         ch.ID,
			Name:       ch.Name,
			Slug:       ch.Slug,
			Category:   ch.Category,
			Score:      ch.Score,
			Unlocked:   unlock.EvaluateFor(who, snap.EnableTeams, ch.UnlockRequirements, solved),
			Solved:     solved.Contains(ch.ID),
			FirstBlood: tookFirstBlood(ch, owner),
		})
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, owner, views); err != nil {
			log.Printf("WARN: Failed to cache challenge listing for %s: %v", owner, err)
		}
	}
	return views, nil
}

func tookFirstBlood(ch *model.Challenge, owner model.Owner) bool {
	if owner.Kind == model.OwnerTeam {
		return ch.FirstBloodTeamID != nil && *ch.FirstBloodTeamID == owner.ID
	}
	return ch.FirstBloodUserID != nil && *ch.FirstBloodUserID == owner.ID
}
