package repository

import (
	"context"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"database/sql"
	"errors"
	"fmt"
)

type ChallengeRepository interface {
	Create(ctx context.Context, tx *sql.Tx, ch *model.Challenge) error
	FindByID(ctx context.Context, tx *sql.Tx, id int64) (*model.Challenge, error)
	// LockByID reads the challenge and holds its row lock until tx ends.
	LockByID(ctx context.Context, tx *sql.Tx, id int64) (*model.Challenge, error)
	// SetFirstBlood records the first solver. It reports false when first blood
	// was already taken, and never overwrites it.
	SetFirstBlood(ctx context.Context, tx *sql.Tx, id int64, teamID *string, userID string) (bool, error)
	List(ctx context.Context, includeHidden bool) ([]model.Challenge, error)
}

type pgChallengeRepository struct {
	db *sql.DB
}

func NewPgChallengeRepository(db *sql.DB) ChallengeRepository {
	return &pgChallengeRepository{db: db}
}

const challengeColumns = `id, name, slug, category, description, score, unlock_requirements,
	flag_type, flag_metadata, points_type, points_metadata, first_blood_team_id, first_blood_user_id,
	attempt_limit, post_score_explanation, hidden, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChallenge(row rowScanner) (*model.Challenge, error) {
	ch := &model.Challenge{}
	var flagMeta, pointsMeta []byte
	err := row.Scan(
		&ch.ID, &ch.Name, &ch.Slug, &ch.Category, &ch.Description, &ch.Score, &ch.UnlockRequirements,
		&ch.FlagType, &flagMeta, &ch.PointsType, &pointsMeta, &ch.FirstBloodTeamID, &ch.FirstBloodUserID,
		&ch.AttemptLimit, &ch.PostScoreExplanation, &ch.Hidden, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ch.FlagMetadata = flagMeta
	ch.PointsMetadata = pointsMeta
	return ch, nil
}

func jsonOrEmpty(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func (r *pgChallengeRepository) Create(ctx context.Context, tx *sql.Tx, ch *model.Challenge) error {
	query := `INSERT INTO challenges (name, slug, category, description, score, unlock_requirements,
	              flag_type, flag_metadata, points_type, points_metadata, attempt_limit, post_score_explanation, hidden)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	          RETURNING id, created_at, updated_at`
	err := conn(r.db, tx).QueryRowContext(ctx, query,
		ch.Name, ch.Slug, ch.Category, ch.Description, ch.Score, ch.UnlockRequirements,
		ch.FlagType, jsonOrEmpty(ch.FlagMetadata), ch.PointsType, jsonOrEmpty(ch.PointsMetadata),
		ch.AttemptLimit, ch.PostScoreExplanation, ch.Hidden,
	).Scan(&ch.ID, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return fmt.Errorf("challenge with this slug already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgChallengeRepository.Create: %w", err)
	}
	return nil
}

func (r *pgChallengeRepository) FindByID(ctx context.Context, tx *sql.Tx, id int64) (*model.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`
	ch, err := scanChallenge(conn(r.db, tx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgChallengeRepository.FindByID: %w", err)
	}
	return ch, nil
}

func (r *pgChallengeRepository) LockByID(ctx context.Context, tx *sql.Tx, id int64) (*model.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1 FOR UPDATE`
	ch, err := scanChallenge(conn(r.db, tx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgChallengeRepository.LockByID: %w", err)
	}
	return ch, nil
}

func (r *pgChallengeRepository) SetFirstBlood(ctx context.Context, tx *sql.Tx, id int64, teamID *string, userID string) (bool, error) {
	query := `UPDATE challenges SET first_blood_team_id = $1, first_blood_user_id = $2, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $3 AND first_blood_team_id IS NULL AND first_blood_user_id IS NULL`
	res, err := conn(r.db, tx).ExecContext(ctx, query, teamID, userID, id)
	if err != nil {
		return false, fmt.Errorf("pgChallengeRepository.SetFirstBlood: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgChallengeRepository.SetFirstBlood: %w", err)
	}
	return n == 1, nil
}

func (r *pgChallengeRepository) List(ctx context.Context, includeHidden bool) ([]model.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE hidden = FALSE OR $1 ORDER BY category, score, id`
	rows, err := r.db.QueryContext(ctx, query, includeHidden)
	if err != nil {
		return nil, fmt.Errorf("pgChallengeRepository.List: %w", err)
	}
	defer rows.Close()

	var out []model.Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("pgChallengeRepository.List: scan: %w", err)
		}
		out = append(out, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgChallengeRepository.List: %w", err)
	}
	return out, nil
}
