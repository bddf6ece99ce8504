// Package settings exposes the competition toggles that administrators change
// while the event is running.
package settings

import (
	"context"
	"ctf_scoring/internal/platform/config"
	"time"
)

const (
	KeyEnableFlagSubmission                 = "enable_flag_submission"
	KeyEnableFlagSubmissionAfterCompetition = "enable_flag_submission_after_competition"
	KeyEnableScoring                        = "enable_scoring"
	KeyEnableTrackIncorrectSubmissions      = "enable_track_incorrect_submissions"
	KeyEnableTeams                          = "enable_teams"
	KeyFlagPrefix                           = "flag_prefix"
	KeyStartTime                            = "start_time"
	KeyEndTime                              = "end_time"
)

// Snapshot is the set of toggles read once per operation.
// StartTime and EndTime are epoch seconds, 0 meaning unbounded.
type Snapshot struct {
	EnableFlagSubmission                 bool
	EnableFlagSubmissionAfterCompetition bool
	EnableScoring                        bool
	EnableTrackIncorrectSubmissions      bool
	EnableTeams                          bool
	FlagPrefix                           string
	StartTime                            int64
	EndTime                              int64
}

type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

func FromConfig(c config.Competition) Snapshot {
	return Snapshot{
		EnableFlagSubmission:                 c.EnableFlagSubmission,
		EnableFlagSubmissionAfterCompetition: c.EnableFlagSubmissionAfterCompetition,
		EnableScoring:                        c.EnableScoring,
		EnableTrackIncorrectSubmissions:      c.EnableTrackIncorrectSubmissions,
		EnableTeams:                          c.EnableTeams,
		FlagPrefix:                           c.FlagPrefix,
		StartTime:                            c.StartTime,
		EndTime:                              c.EndTime,
	}
}

func (s Snapshot) ended(now time.Time) bool {
	return s.EndTime != 0 && now.Unix() >= s.EndTime
}

// SubmissionOpen reports whether flags may be submitted at now.
func (s Snapshot) SubmissionOpen(now time.Time) bool {
	if !s.EnableFlagSubmission {
		return false
	}
	return !s.ended(now) || s.EnableFlagSubmissionAfterCompetition
}

// InScoringWindow reports whether an award made at now counts for the leaderboard.
func (s Snapshot) InScoringWindow(now time.Time) bool {
	if !s.EnableScoring {
		return false
	}
	if s.StartTime != 0 && now.Unix() < s.StartTime {
		return false
	}
	return !s.ended(now)
}

// Static always returns the same snapshot.
type Static struct {
	Values Snapshot
}

func NewStatic(values Snapshot) *Static {
	return &Static{Values: values}
}

func (s *Static) Snapshot(context.Context) (Snapshot, error) {
	return s.Values, nil
}
