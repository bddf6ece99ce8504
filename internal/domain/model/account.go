package model

import (
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type OwnerKind string

const (
	OwnerTeam OwnerKind = "team"
	OwnerUser OwnerKind = "user"
)

// Owner identifies whose running totals a ledger entry counts toward.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func TeamOwner(id string) Owner { return Owner{Kind: OwnerTeam, ID: id} }
func UserOwner(id string) Owner { return Owner{Kind: OwnerUser, ID: id} }

func (o Owner) String() string { return string(o.Kind) + ":" + o.ID }

type Team struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Points            int        `json:"points"`
	LeaderboardPoints int        `json:"leaderboard_points"`
	LastScore         *time.Time `json:"last_score,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type User struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	TeamID            *string    `json:"team_id,omitempty"`
	Role              string     `json:"role"`
	Points            int        `json:"points"`
	LeaderboardPoints int        `json:"leaderboard_points"`
	LastScore         *time.Time `json:"last_score,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Standing is the cached running total of a team or user.
type Standing struct {
	Owner             Owner      `json:"owner"`
	Points            int        `json:"points"`
	LeaderboardPoints int        `json:"leaderboard_points"`
	LastScore         *time.Time `json:"last_score,omitempty"`
	TeamID            *string    `json:"team_id,omitempty"` // users only
}
