package model

import (
	"encoding/json"
	"time"
)

const (
	FlagTypePlaintext = "plaintext"
	FlagTypeHashed    = "hashed"
	FlagTypeRegex     = "regex"
	FlagTypeLenient   = "lenient"
	FlagTypeMap       = "map"
	FlagTypeLongText  = "long_text"

	PointsTypeBasic = "basic"
	PointsTypeDecay = "decay"
)

type Challenge struct {
	ID                   int64           `json:"id"`
	Name                 string          `json:"name"`
	Slug                 string          `json:"slug"`
	Category             string          `json:"category"`
	Description          string          `json:"description"`
	Score                int             `json:"score"`
	UnlockRequirements   string          `json:"unlock_requirements"`
	FlagType             string          `json:"flag_type"`
	FlagMetadata         json.RawMessage `json:"flag_metadata,omitempty"` // Admin only view
	PointsType           string          `json:"points_type"`
	PointsMetadata       json.RawMessage `json:"points_metadata,omitempty"`
	FirstBloodTeamID     *string         `json:"first_blood_team_id,omitempty"`
	FirstBloodUserID     *string         `json:"first_blood_user_id,omitempty"`
	AttemptLimit         *int            `json:"attempt_limit,omitempty"`
	PostScoreExplanation *string         `json:"post_score_explanation,omitempty"`
	Hidden               bool            `json:"hidden"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// HasFirstBlood reports whether the first correct solve was already attributed.
func (c *Challenge) HasFirstBlood() bool {
	return c.FirstBloodTeamID != nil || c.FirstBloodUserID != nil
}

// ChallengeView is what a competitor sees in a challenge listing.
type ChallengeView struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Category   string `json:"category"`
	Score      int    `json:"score"`
	Unlocked   bool   `json:"unlocked"`
	Solved     bool   `json:"solved"`
	FirstBlood bool   `json:"first_blood"`
}

// ConfigIssue is a single problem found while self-checking challenge metadata.
type ConfigIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
