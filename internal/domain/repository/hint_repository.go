package repository

import (
	"context"
	"ctf_scoring/internal/domain/model"
	"database/sql"
	"fmt"
)

// HintRepository is a read-only view of hint usage recorded by the hints subsystem.
type HintRepository interface {
	SumPenalty(ctx context.Context, tx *sql.Tx, challengeID int64, owner model.Owner) (int, error)
}

type pgHintRepository struct {
	db *sql.DB
}

func NewPgHintRepository(db *sql.DB) HintRepository {
	return &pgHintRepository{db: db}
}

func (r *pgHintRepository) SumPenalty(ctx context.Context, tx *sql.Tx, challengeID int64, owner model.Owner) (int, error) {
	column := "user_id"
	if owner.Kind == model.OwnerTeam {
		column = "team_id"
	}
	query := `SELECT COALESCE(SUM(penalty), 0) FROM hint_uses WHERE challenge_id = $1 AND ` + column + ` = $2`
	var total int
	if err := conn(r.db, tx).QueryRowContext(ctx, query, challengeID, owner.ID).Scan(&total); err != nil {
		return 0, fmt.Errorf("pgHintRepository.SumPenalty: %w", err)
	}
	return total, nil
}
