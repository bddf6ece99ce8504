package model

import (
	"encoding/json"
	"time"
)

const ScoreReasonChallenge = "challenge_solve"

// Score is an append-only ledger row. Totals are a projection of these rows.
type Score struct {
	ID          int64           `json:"id"`
	TeamID      *string         `json:"team_id,omitempty"`
	UserID      *string         `json:"user_id,omitempty"`
	Reason      string          `json:"reason"`
	Points      int             `json:"points"`
	Penalty     int             `json:"penalty"`
	Leaderboard bool            `json:"leaderboard"`
	Timestamp   time.Time       `json:"timestamp"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Net is the amount this row contributes to its owners' totals.
func (s *Score) Net() int { return s.Points - s.Penalty }

type Solve struct {
	ID          int64     `json:"id"`
	TeamID      *string   `json:"team_id,omitempty"`
	ChallengeID int64     `json:"challenge_id"`
	SolvedBy    string    `json:"solved_by"`
	Flag        string    `json:"flag"`
	Correct     bool      `json:"correct"`
	FirstBlood  bool      `json:"first_blood"`
	ScoreID     *int64    `json:"score_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SolveScore pairs a correct solve with the score row it produced.
type SolveScore struct {
	Solve Solve `json:"solve"`
	Score Score `json:"score"`
}

type HintUse struct {
	ID          int64     `json:"id"`
	HintID      int64     `json:"hint_id"`
	TeamID      *string   `json:"team_id,omitempty"`
	UserID      string    `json:"user_id"`
	ChallengeID int64     `json:"challenge_id"`
	Penalty     int       `json:"penalty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Totals is the sum of an owner's ledger rows.
type Totals struct {
	Points            int `json:"points"`
	LeaderboardPoints int `json:"leaderboard_points"`
}
