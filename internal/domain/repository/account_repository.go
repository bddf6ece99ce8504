package repository

import (
	"context"
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AccountRepository owns the cached running totals of teams and users.
type AccountRepository interface {
	FindUser(ctx context.Context, id string) (*model.User, error)
	// LockOwner reads the owner's totals and holds its row lock until tx ends.
	// For users it also reads the current team.
	LockOwner(ctx context.Context, tx *sql.Tx, owner model.Owner) (*model.Standing, error)
	// AdjustTotals adds to points and leaderboard_points. lastScore, when set,
	// replaces last_score.
	AdjustTotals(ctx context.Context, tx *sql.Tx, owner model.Owner, points, leaderboardPoints int, lastScore *time.Time) error
	SetTotals(ctx context.Context, tx *sql.Tx, owner model.Owner, totals model.Totals) error
	ListOwnerIDs(ctx context.Context, kind model.OwnerKind) ([]string, error)
	Leaderboard(ctx context.Context, kind model.OwnerKind, limit, offset int) ([]model.LeaderboardEntry, error)
}

type pgAccountRepository struct {
	db *sql.DB
}

func NewPgAccountRepository(db *sql.DB) AccountRepository {
	return &pgAccountRepository{db: db}
}

func ownerTable(kind model.OwnerKind) (table, nameColumn string, err error) {
	switch kind {
	case model.OwnerTeam:
		return "teams", "name", nil
	case model.OwnerUser:
		return "users", "username", nil
	}
	return "", "", fmt.Errorf("unknown owner kind %q: %w", kind, common.ErrBadRequest)
}

func (r *pgAccountRepository) FindUser(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT id, username, team_id, role, points, leaderboard_points, last_score, created_at
	          FROM users WHERE id = $1`
	u := &model.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.TeamID, &u.Role, &u.Points, &u.LeaderboardPoints, &u.LastScore, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgAccountRepository.FindUser: %w", err)
	}
	return u, nil
}

func (r *pgAccountRepository) LockOwner(ctx context.Context, tx *sql.Tx, owner model.Owner) (*model.Standing, error) {
	table, _, err := ownerTable(owner.Kind)
	if err != nil {
		return nil, err
	}
	s := &model.Standing{Owner: owner}
	columns := `points, leaderboard_points, last_score`
	dest := []interface{}{&s.Points, &s.LeaderboardPoints, &s.LastScore}
	if owner.Kind == model.OwnerUser {
		columns += `, team_id`
		dest = append(dest, &s.TeamID)
	}
	query := `SELECT ` + columns + ` FROM ` + table + ` WHERE id = $1 FOR UPDATE`
	err = conn(r.db, tx).QueryRowContext(ctx, query, owner.ID).Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", owner.Kind, owner.ID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgAccountRepository.LockOwner: %w", err)
	}
	return s, nil
}

func (r *pgAccountRepository) AdjustTotals(ctx context.Context, tx *sql.Tx, owner model.Owner, points, leaderboardPoints int, lastScore *time.Time) error {
	table, _, err := ownerTable(owner.Kind)
	if err != nil {
		return err
	}
	query := `UPDATE ` + table + ` SET points = points + $1, leaderboard_points = leaderboard_points + $2,
	              last_score = COALESCE($3, last_score)
	          WHERE id = $4`
	if _, err := conn(r.db, tx).ExecContext(ctx, query, points, leaderboardPoints, lastScore, owner.ID); err != nil {
		return fmt.Errorf("pgAccountRepository.AdjustTotals: %w", err)
	}
	return nil
}

func (r *pgAccountRepository) SetTotals(ctx context.Context, tx *sql.Tx, owner model.Owner, totals model.Totals) error {
	table, _, err := ownerTable(owner.Kind)
	if err != nil {
		return err
	}
	query := `UPDATE ` + table + ` SET points = $1, leaderboard_points = $2 WHERE id = $3`
	if _, err := conn(r.db, tx).ExecContext(ctx, query, totals.Points, totals.LeaderboardPoints, owner.ID); err != nil {
		return fmt.Errorf("pgAccountRepository.SetTotals: %w", err)
	}
	return nil
}

func (r *pgAccountRepository) ListOwnerIDs(ctx context.Context, kind model.OwnerKind) ([]string, error) {
	table, _, err := ownerTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pgAccountRepository.ListOwnerIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgAccountRepository.ListOwnerIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *pgAccountRepository) Leaderboard(ctx context.Context, kind model.OwnerKind, limit, offset int) ([]model.LeaderboardEntry, error) {
	table, nameColumn, err := ownerTable(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, ` + nameColumn + `, leaderboard_points, last_score FROM ` + table + `
	          ORDER BY leaderboard_points DESC, last_score ASC NULLS LAST, id
	          LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pgAccountRepository.Leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	rank := offset
	for rows.Next() {
		rank++
		e := model.LeaderboardEntry{Rank: rank}
		if err := rows.Scan(&e.ID, &e.Name, &e.LeaderboardPoints, &e.LastScore); err != nil {
			return nil, fmt.Errorf("pgAccountRepository.Leaderboard: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgAccountRepository.Leaderboard: %w", err)
	}
	return entries, nil
}
