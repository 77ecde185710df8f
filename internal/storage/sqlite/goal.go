package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kioku-ai/kioku/pkg/types"
)

const goalColumns = `id, title, description, deadline, priority, status, progress, created_at, updated_at`

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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (title, description, deadline, priority, status, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Title, g.Description, nullableTime(g.Deadline),
		string(g.Priority), string(g.Status), g.Progress, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return storeErr("create goal", err)
	}
	g.ID, err = res.LastInsertId()
	if err != nil {
		return storeErr("goal id", err)
	}
	return nil
}

// GetGoal retrieves a goal by ID.
func (s *Store) GetGoal(ctx context.Context, id int64) (*types.Goal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
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
		SELECT `+goalColumns+` FROM goals WHERE status = 'active' AND title = ? LIMIT 1`, title)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: active goal %q", types.ErrNotFound, title)
	}
	if err != nil {
		return nil, storeErr("find goal by title", err)
	}
	return g, nil
}

// UpdateGoal rewrites a goal's mutable fields. Validation happens before
// the write, so a bad value leaves the row unchanged.
func (s *Store) UpdateGoal(ctx context.Context, g *types.Goal) error {
	if err := g.Validate(); err != nil {
		return err
	}

	g.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE goals
		SET title = ?, description = ?, deadline = ?, priority = ?, status = ?, progress = ?, updated_at = ?
		WHERE id = ?`,
		g.Title, g.Description, nullableTime(g.Deadline),
		string(g.Priority), string(g.Status), g.Progress, g.UpdatedAt, g.ID)
	if err != nil {
		return storeErr("update goal", err)
	}
	return requireRow(res, "goal", g.ID)
}

// ListGoals returns goals filtered by status ("" means all), high priority
// and nearest deadline first.
func (s *Store) ListGoals(ctx context.Context, status types.GoalStatus) ([]*types.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals`
	args := []interface{}{}
	if status != "" {
		if _, err := types.ParseGoalStatus(string(status)); err != nil {
			return nil, err
		}
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += `
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
		         deadline IS NULL, deadline, id`

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

// scanGoal reads one row in goalColumns order.
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
