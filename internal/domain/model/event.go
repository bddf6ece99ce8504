package model

import "time"

const (
	EventFlagSubmitted = "flag_submitted"
	EventFlagRejected  = "flag_rejected"
	EventFlagScored    = "flag_scored"
)

// SubmissionEvent is published after a submission's transaction has committed.
type SubmissionEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	TeamID      *string   `json:"team_id,omitempty"`
	UserID      string    `json:"user_id"`
	ChallengeID int64     `json:"challenge_id"`
	SolveID     *int64    `json:"solve_id,omitempty"`
	ScoreID     *int64    `json:"score_id,omitempty"`
	Points      int       `json:"points,omitempty"`
	FirstBlood  bool      `json:"first_blood,omitempty"`
	At          time.Time `json:"at"`
}
