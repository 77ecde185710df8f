package sqlite

import (
	"context"
	"time"

	"github.com/kioku-ai/kioku/pkg/types"
)

// CreateReminder inserts a new pending reminder.
func (s *Store) CreateReminder(ctx context.Context, r *types.Reminder) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Status == "" {
		r.Status = types.ReminderPending
	}
	r.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (content, remind_at, recurrence, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.Content, r.RemindAt.UTC(), string(r.Recurrence), string(r.Status), r.CreatedAt)
	if err != nil {
		return storeErr("create reminder", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return storeErr("reminder id", err)
	}
	return nil
}

// ListDueReminders returns pending reminders with remind_at at or before now.
func (s *Store) ListDueReminders(ctx context.Context, now time.Time) ([]*types.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, remind_at, recurrence, status, created_at
		FROM reminders
		WHERE status = 'pending' AND remind_at <= ?
		ORDER BY remind_at`, now.UTC())
	if err != nil {
		return nil, storeErr("list due reminders", err)
	}
	defer rows.Close()

	var out []*types.Reminder
	for rows.Next() {
		var r types.Reminder
		var recurrence, status string
		if err := rows.Scan(&r.ID, &r.Content, &r.RemindAt, &recurrence, &status, &r.CreatedAt); err != nil {
			return nil, storeErr("scan reminder", err)
		}
		r.Recurrence = types.Recurrence(recurrence)
		r.Status = types.ReminderStatus(status)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate reminders", err)
	}
	return out, nil
}

// UpdateReminderStatus transitions a reminder. A non-zero nextAt reschedules
// a recurring reminder back to pending at that time instead.
func (s *Store) UpdateReminderStatus(ctx context.Context, id int64, status types.ReminderStatus, nextAt time.Time) error {
	var (
		query string
		args  []interface{}
	)
	if !nextAt.IsZero() {
		query = `UPDATE reminders SET status = 'pending', remind_at = ? WHERE id = ?`
		args = []interface{}{nextAt.UTC(), id}
	} else {
		query = `UPDATE reminders SET status = ? WHERE id = ?`
		args = []interface{}{string(status), id}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("update reminder status", err)
	}
	return requireRow(res, "reminder", id)
}
