package service

import (
	"context"
	"ctf_scoring/internal/domain/model"
	"log"
	"time"

	"github.com/google/uuid"
)

// Outcome describes a finished submission. It is handed to post-commit hooks.
type Outcome struct {
	Requester   Requester
	Owner       model.Owner
	ChallengeID int64
	Correct     bool
	Rejection   error // typed rejection, nil when the flag was verified
	Solve       *model.Solve
	Score       *model.Score
	Dynamic     bool // the challenge's points depend on its solve count
	At          time.Time
}

// PostCommitHook runs once a submission has finished, after its transaction
// committed or rolled back with a typed rejection. Rejections caught before the
// transaction are reported too. Hooks are best effort: failures are logged and
// never change the result.
type PostCommitHook func(ctx context.Context, o Outcome)

type EventPublisher interface {
	Publish(ctx context.Context, ev model.SubmissionEvent) error
}

type ListingInvalidator interface {
	Invalidate(ctx context.Context, owners ...model.Owner) error
}

type RepriceScheduler interface {
	Enqueue(ctx context.Context, challengeID int64) error
}

// InvalidateListingHook drops the cached challenge listing of whoever scored.
func InvalidateListingHook(cache ListingInvalidator) PostCommitHook {
	return func(ctx context.Context, o Outcome) {
		if !o.Correct {
			return
		}
		targets := []model.Owner{o.Owner}
		if o.Owner.Kind == model.OwnerTeam {
			targets = append(targets, model.UserOwner(o.Requester.UserID))
		}
		if err := cache.Invalidate(ctx, targets...); err != nil {
			log.Printf("WARN: Failed to invalidate challenge listing for %s: %v", o.Owner, err)
		}
	}
}

// PublishEventsHook emits flag_submitted followed by flag_scored or flag_rejected.
func PublishEventsHook(pub EventPublisher) PostCommitHook {
	return func(ctx context.Context, o Outcome) {
		base := model.SubmissionEvent{
			TeamID:      o.Requester.TeamID,
			UserID:      o.Requester.UserID,
			ChallengeID: o.ChallengeID,
			At:          o.At,
		}
		events := []model.SubmissionEvent{base}
		events[0].Type = model.EventFlagSubmitted

		final := base
		if o.Correct {
			final.Type = model.EventFlagScored
			if o.Solve != nil {
				final.SolveID = &o.Solve.ID
				final.FirstBlood = o.Solve.FirstBlood
			}
			if o.Score != nil {
				final.ScoreID = &o.Score.ID
				final.Points = o.Score.Net()
			}
		} else {
			final.Type = model.EventFlagRejected
			if o.Solve != nil {
				final.SolveID = &o.Solve.ID
			}
		}
		events = append(events, final)

		for _, ev := range events {
			ev.ID = uuid.NewString()
			if err := pub.Publish(ctx, ev); err != nil {
				log.Printf("WARN: Failed to publish %s event for challenge %d: %v", ev.Type, o.ChallengeID, err)
			}
		}
	}
}

// ScheduleRepriceHook queues a re-pricing pass after a dynamic challenge is solved.
func ScheduleRepriceHook(scheduler RepriceScheduler) PostCommitHook {
	return func(ctx context.Context, o Outcome) {
		if !o.Correct || !o.Dynamic {
			return
		}
		if err := scheduler.Enqueue(ctx, o.ChallengeID); err != nil {
			log.Printf("WARN: Failed to schedule re-pricing of challenge %d: %v", o.ChallengeID, err)
		}
	}
}
