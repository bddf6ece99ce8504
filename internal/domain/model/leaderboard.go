package model

import "time"

type LeaderboardEntry struct {
	Rank              int        `json:"rank"`
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	LeaderboardPoints int        `json:"leaderboard_points"`
	LastScore         *time.Time `json:"last_score,omitempty"`
}
