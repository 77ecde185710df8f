package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kioku-ai/kioku/pkg/types"
)

const goalColumns = `id, title, description, deadline, priority, status, progress, created_at, updated_at`

// UpsertProfileAttribute writes the value for a key, replacing any previous
// value and stamping updated_at.
func (s *Store) UpsertProfileAttribute(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_attributes (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return storeErr("upsert profile attribute", err)
	}
	return nil
}

// GetProfileAttributes returns attributes for the given keys, or every
// attribute when keys is empty.
func (s *Store) GetProfileAttributes(ctx context.Context, keys []string) ([]*types.ProfileAttribute, error) {
	query := `SELECT key, value, updated_at FROM profile_attributes`
	args := []interface{}{}
	if len(keys) > 0 {
		query += ` WHERE key = ANY($1)`
		args = append(args, pq.Array(keys))
	}
	query += ` ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("get profile attributes", err)
	}
	defer rows.Close()

	var out []*types.ProfileAttribute
	for rows.Next() {
		var a types.ProfileAttribute
		if err := rows.Scan(&a.Key, &a.Value, &a.UpdatedAt); err != nil {
			return nil, storeErr("scan profile attribute", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate profile attributes", err)
	}
	return out, nil
}

// CreateGoal inserts a new goal, assigning its ID and timestamps.
func (s *Store) CreateGoal(ctx context.Context, g *types.Goal) error {
	if g.Priority == "" {
		g.Priority = types.PriorityMedium
	}
	if g.Status == "" {
		g.Status = types.GoalActive
	}
	if err := g.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO goals (title, description, deadline, priority, status, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		g.Title, g.Description, nullableTime(g.Deadline),
		string(g.Priority), string(g.Status), g.Progress, g.CreatedAt, g.UpdatedAt).Scan(&g.ID)
	if err != nil {
		return storeErr("create goal", err)
	}
	return nil
}

// GetGoal retrieves a goal by ID.
func (s *Store) GetGoal(ctx context.Context, id int64) (*types.Goal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1`, id)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: goal %d", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, storeErr("get goal", err)
	}
	return g, nil
}

// FindActiveGoalByTitle returns the active goal matching title exactly.
func (s *Store) FindActiveGoalByTitle(ctx context.Context, title string) (*types.Goal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+goalColumns+` FROM goals WHERE status = 'active' AND title = $1 LIMIT 1`, title)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: active goal %q", types.ErrNotFound, title)
	}
	if err != nil {
		return nil, storeErr("find goal by title", err)
	}
	return g, nil
}

// UpdateGoal rewrites a goal's mutable fields.
func (s *Store) UpdateGoal(ctx context.Context, g *types.Goal) error {
	if err := g.Validate(); err != nil {
		return err
	}

	g.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE goals
		SET title = $1, description = $2, deadline = $3, priority = $4, status = $5, progress = $6, updated_at = $7
		WHERE id = $8`,
		g.Title, g.Description, nullableTime(g.Deadline),
		string(g.Priority), string(g.Status), g.Progress, g.UpdatedAt, g.ID)
	if err != nil {
		return storeErr("update goal", err)
	}
	return requireRow(res, "goal", g.ID)
}

// ListGoals returns goals filtered by status ("" means all).
func (s *Store) ListGoals(ctx context.Context, status types.GoalStatus) ([]*types.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals`
	args := []interface{}{}
	if status != "" {
		if _, err := types.ParseGoalStatus(string(status)); err != nil {
			return nil, err
		}
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += `
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
		         deadline NULLS LAST, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list goals", err)
	}
	defer rows.Close()

	var out []*types.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, storeErr("scan goal", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate goals", err)
	}
	return out, nil
}

func scanGoal(row rowScanner) (*types.Goal, error) {
	var g types.Goal
	var priority, status string
	var deadline sql.NullTime
	if err := row.Scan(&g.ID, &g.Title, &g.Description, &deadline,
		&priority, &status, &g.Progress, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Priority = types.Priority(priority)
	g.Status = types.GoalStatus(status)
	g.Deadline = timePtr(deadline)
	return &g, nil
}
