package repository

import (
	"context"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"database/sql"
	"fmt"
)

// LedgerRepository reads and appends Score and Solve rows.
type LedgerRepository interface {
	CreateScore(ctx context.Context, tx *sql.Tx, s *model.Score) error
	// CreateSolve fails with ErrAlreadySolved when a unique index on correct
	// solves rejects the row.
	CreateSolve(ctx context.Context, tx *sql.Tx, s *model.Solve) error
	// HasCorrectSolve reports a correct solve of the challenge by the team, or by
	// the user on any team.
	HasCorrectSolve(ctx context.Context, tx *sql.Tx, challengeID int64, teamID *string, userID string) (bool, error)
	SolvedChallengeIDs(ctx context.Context, tx *sql.Tx, owner model.Owner) ([]int64, error)
	CountAttempts(ctx context.Context, tx *sql.Tx, challengeID int64, owner model.Owner) (int, error)
	CountCorrectSolves(ctx context.Context, tx *sql.Tx, challengeID int64) (int, error)
	ListCorrectSolveScores(ctx context.Context, tx *sql.Tx, challengeID int64) ([]model.SolveScore, error)
	UpdateScore(ctx context.Context, tx *sql.Tx, scoreID int64, points, penalty int) error
	SumScores(ctx context.Context, tx *sql.Tx, owner model.Owner) (model.Totals, error)
}

type pgLedgerRepository struct {
	db *sql.DB
}

func NewPgLedgerRepository(db *sql.DB) LedgerRepository {
	return &pgLedgerRepository{db: db}
}

// solveOwnerColumn is the solves column that identifies the owner.
func solveOwnerColumn(owner model.Owner) string {
	if owner.Kind == model.OwnerTeam {
		return "team_id"
	}
	return "solved_by"
}

func scoreOwnerColumn(owner model.Owner) string {
	if owner.Kind == model.OwnerTeam {
		return "team_id"
	}
	return "user_id"
}

func (r *pgLedgerRepository) CreateScore(ctx context.Context, tx *sql.Tx, s *model.Score) error {
	query := `INSERT INTO scores (team_id, user_id, reason, points, penalty, leaderboard, timestamp, metadata)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING id`
	err := conn(r.db, tx).QueryRowContext(ctx, query,
		s.TeamID, s.UserID, s.Reason, s.Points, s.Penalty, s.Leaderboard, s.Timestamp, jsonOrEmpty(s.Metadata),
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("pgLedgerRepository.CreateScore: %w", err)
	}
	return nil
}

func (r *pgLedgerRepository) CreateSolve(ctx context.Context, tx *sql.Tx, s *model.Solve) error {
	query := `INSERT INTO solves (team_id, challenge_id, solved_by, flag, correct, first_blood, score_id, timestamp)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING id`
	err := conn(r.db, tx).QueryRowContext(ctx, query,
		s.TeamID, s.ChallengeID, s.SolvedBy, s.Flag, s.Correct, s.FirstBlood, s.ScoreID, s.Timestamp,
	).Scan(&s.ID)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return fmt.Errorf("pgLedgerRepository.CreateSolve: %w", common.ErrAlreadySolved)
		}
		return fmt.Errorf("pgLedgerRepository.CreateSolve: %w", err)
	}
	return nil
}

func (r *pgLedgerRepository) HasCorrectSolve(ctx context.Context, tx *sql.Tx, challengeID int64, teamID *string, userID string) (bool, error) {
	query := `SELECT EXISTS (
	              SELECT 1 FROM solves
	              WHERE challenge_id = $1 AND correct
	                AND (($2::text IS NOT NULL AND team_id = $2) OR solved_by = $3))`
	var exists bool
	if err := conn(r.db, tx).QueryRowContext(ctx, query, challengeID, teamID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("pgLedgerRepository.HasCorrectSolve: %w", err)
	}
	return exists, nil
}

func (r *pgLedgerRepository) SolvedChallengeIDs(ctx context.Context, tx *sql.Tx, owner model.Owner) ([]int64, error) {
	query := `SELECT challenge_id FROM solves WHERE correct AND ` + solveOwnerColumn(owner) + ` = $1`
	rows, err := conn(r.db, tx).QueryContext(ctx, query, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.SolvedChallengeIDs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgLedgerRepository.SolvedChallengeIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.SolvedChallengeIDs: %w", err)
	}
	return ids, nil
}

func (r *pgLedgerRepository) CountAttempts(ctx context.Context, tx *sql.Tx, challengeID int64, owner model.Owner) (int, error) {
	query := `SELECT COUNT(*) FROM solves WHERE challenge_id = $1 AND ` + solveOwnerColumn(owner) + ` = $2`
	var n int
	if err := conn(r.db, tx).QueryRowContext(ctx, query, challengeID, owner.ID).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgLedgerRepository.CountAttempts: %w", err)
	}
	return n, nil
}

func (r *pgLedgerRepository) CountCorrectSolves(ctx context.Context, tx *sql.Tx, challengeID int64) (int, error) {
	var n int
	err := conn(r.db, tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM solves WHERE challenge_id = $1 AND correct`, challengeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pgLedgerRepository.CountCorrectSolves: %w", err)
	}
	return n, nil
}

func (r *pgLedgerRepository) ListCorrectSolveScores(ctx context.Context, tx *sql.Tx, challengeID int64) ([]model.SolveScore, error) {
	query := `SELECT s.id, s.team_id, s.challenge_id, s.solved_by, s.flag, s.correct, s.first_blood, s.score_id, s.timestamp,
	                 sc.id, sc.team_id, sc.user_id, sc.reason, sc.points, sc.penalty, sc.leaderboard, sc.timestamp
	          FROM solves s
	          JOIN scores sc ON sc.id = s.score_id
	          WHERE s.challenge_id = $1 AND s.correct
	          ORDER BY s.timestamp, s.id`
	rows, err := conn(r.db, tx).QueryContext(ctx, query, challengeID)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.ListCorrectSolveScores: %w", err)
	}
	defer rows.Close()

	var out []model.SolveScore
	for rows.Next() {
		var ss model.SolveScore
		if err := rows.Scan(
			&ss.Solve.ID, &ss.Solve.TeamID, &ss.Solve.ChallengeID, &ss.Solve.SolvedBy, &ss.Solve.Flag,
			&ss.Solve.Correct, &ss.Solve.FirstBlood, &ss.Solve.ScoreID, &ss.Solve.Timestamp,
			&ss.Score.ID, &ss.Score.TeamID, &ss.Score.UserID, &ss.Score.Reason, &ss.Score.Points,
			&ss.Score.Penalty, &ss.Score.Leaderboard, &ss.Score.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("pgLedgerRepository.ListCorrectSolveScores: scan: %w", err)
		}
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.ListCorrectSolveScores: %w", err)
	}
	return out, nil
}

func (r *pgLedgerRepository) UpdateScore(ctx context.Context, tx *sql.Tx, scoreID int64, points, penalty int) error {
	_, err := conn(r.db, tx).ExecContext(ctx, `UPDATE scores SET points = $1, penalty = $2 WHERE id = $3`, points, penalty, scoreID)
	if err != nil {
		return fmt.Errorf("pgLedgerRepository.UpdateScore: %w", err)
	}
	return nil
}

func (r *pgLedgerRepository) SumScores(ctx context.Context, tx *sql.Tx, owner model.Owner) (model.Totals, error) {
	query := `SELECT COALESCE(SUM(points - penalty), 0),
	                 COALESCE(SUM(points - penalty) FILTER (WHERE leaderboard), 0)
	          FROM scores WHERE ` + scoreOwnerColumn(owner) + ` = $1`
	var t model.Totals
	if err := conn(r.db, tx).QueryRowContext(ctx, query, owner.ID).Scan(&t.Points, &t.LeaderboardPoints); err != nil {
		return model.Totals{}, fmt.Errorf("pgLedgerRepository.SumScores: %w", err)
	}
	return t, nil
}
