package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kioku-ai/kioku/pkg/types"
)

const sessionColumns = `id, started_at, ended_at, summary, window_start`

// OpenSession closes any currently open session and starts a new one inside
// one transaction.
func (s *Store) OpenSession(ctx context.Context) (*types.Session, error) {
	session := &types.Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET ended_at = $1 WHERE ended_at IS NULL`, session.StartedAt); err != nil {
			return storeErr("close previous session", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, started_at, window_start) VALUES ($1, $2, 0)`,
			session.ID, session.StartedAt); err != nil {
			return storeErr("open session", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetOpenSession returns the open session, or ErrNotFound when none is.
func (s *Store) GetOpenSession(ctx context.Context) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE ended_at IS NULL`)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no open session", types.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get open session", err)
	}
	return session, nil
}

// CloseSession stamps ended_at on an open session.
func (s *Store) CloseSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return storeErr("close session", err)
	}
	return requireRow(res, "open session", id)
}

// SetSessionSummary stores the consolidation summary for a session.
func (s *Store) SetSessionSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET summary = $1 WHERE id = $2`, summary, id)
	if err != nil {
		return storeErr("set session summary", err)
	}
	return requireRow(res, "session", id)
}

// ListClosedSessionsWithoutSummary returns sessions awaiting consolidation.
func (s *Store) ListClosedSessionsWithoutSummary(ctx context.Context, limit int) ([]*types.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE ended_at IS NOT NULL AND summary IS NULL
		ORDER BY ended_at`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr("list unsummarised sessions", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, storeErr("scan session", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate sessions", err)
	}
	return out, nil
}

// ListSummarizedSessions returns closed sessions that already carry a
// summary, oldest first.
func (s *Store) ListSummarizedSessions(ctx context.Context, limit int) ([]*types.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE ended_at IS NOT NULL AND summary IS NOT NULL
		ORDER BY ended_at`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr("list summarised sessions", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, storeErr("scan session", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate sessions", err)
	}
	return out, nil
}

// AppendTurn inserts a turn at the end of a session.
func (s *Store) AppendTurn(ctx context.Context, t *types.ConversationTurn) error {
	if !types.ValidRole(t.Role) {
		return fmt.Errorf("%w: unknown role %q", types.ErrConstraintViolation, t.Role)
	}
	if t.Content == "" {
		return fmt.Errorf("%w: turn content is empty", types.ErrConstraintViolation)
	}

	t.CreatedAt = time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO turns (session_id, role, content, created_at, archived)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id`,
		t.SessionID, string(t.Role), t.Content, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return storeErr("append turn", err)
	}
	return nil
}

// ListTurns returns a session's turns in insertion order.
func (s *Store) ListTurns(ctx context.Context, sessionID string, includeArchived bool) ([]*types.ConversationTurn, error) {
	query := `
		SELECT id, session_id, role, content, created_at, archived
		FROM turns WHERE session_id = $1`
	if !includeArchived {
		query += ` AND NOT archived`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, storeErr("list turns", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// ListWindowTurns returns the non-archived turns inside the session's
// active context window.
func (s *Store) ListWindowTurns(ctx context.Context, sessionID string) ([]*types.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.session_id, t.role, t.content, t.created_at, t.archived
		FROM turns t
		JOIN sessions sess ON sess.id = t.session_id
		WHERE t.session_id = $1 AND NOT t.archived AND t.id >= sess.window_start
		ORDER BY t.id`, sessionID)
	if err != nil {
		return nil, storeErr("list window turns", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// ArchiveTurns flags a session's turns created before the cutoff.
func (s *Store) ArchiveTurns(ctx context.Context, sessionID string, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE turns SET archived = TRUE
		WHERE session_id = $1 AND created_at < $2 AND NOT archived`,
		sessionID, before)
	if err != nil {
		return 0, storeErr("archive turns", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("archive turns count", err)
	}
	return int(n), nil
}

// GetWindowStart returns the session's persisted window pointer.
func (s *Store) GetWindowStart(ctx context.Context, sessionID string) (int64, error) {
	var start int64
	err := s.db.QueryRowContext(ctx,
		`SELECT window_start FROM sessions WHERE id = $1`, sessionID).Scan(&start)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
	}
	if err != nil {
		return 0, storeErr("get window start", err)
	}
	return start, nil
}

// SetWindowStart advances the window pointer; backward moves are rejected.
func (s *Store) SetWindowStart(ctx context.Context, sessionID string, turnID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET window_start = $1 WHERE id = $2 AND window_start <= $1`,
		turnID, sessionID)
	if err != nil {
		return storeErr("set window start", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("set window start", err)
	}
	if n == 0 {
		if _, err := s.GetWindowStart(ctx, sessionID); err != nil {
			return err
		}
		return fmt.Errorf("%w: window pointer cannot move backward to %d", types.ErrConstraintViolation, turnID)
	}
	return nil
}

// CreateReminder inserts a new pending reminder.
func (s *Store) CreateReminder(ctx context.Context, r *types.Reminder) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Status == "" {
		r.Status = types.ReminderPending
	}
	r.CreatedAt = time.Now().UTC()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reminders (content, remind_at, recurrence, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		r.Content, r.RemindAt.UTC(), string(r.Recurrence), string(r.Status), r.CreatedAt).Scan(&r.ID)
	if err != nil {
		return storeErr("create reminder", err)
	}
	return nil
}

// ListDueReminders returns pending reminders with remind_at at or before now.
func (s *Store) ListDueReminders(ctx context.Context, now time.Time) ([]*types.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, remind_at, recurrence, status, created_at
		FROM reminders
		WHERE status = 'pending' AND remind_at <= $1
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

// UpdateReminderStatus transitions a reminder, rescheduling recurring ones
// when nextAt is non-zero.
func (s *Store) UpdateReminderStatus(ctx context.Context, id int64, status types.ReminderStatus, nextAt time.Time) error {
	var (
		query string
		args  []interface{}
	)
	if !nextAt.IsZero() {
		query = `UPDATE reminders SET status = 'pending', remind_at = $1 WHERE id = $2`
		args = []interface{}{nextAt.UTC(), id}
	} else {
		query = `UPDATE reminders SET status = $1 WHERE id = $2`
		args = []interface{}{string(status), id}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("update reminder status", err)
	}
	return requireRow(res, "reminder", id)
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var endedAt sql.NullTime
	var summary sql.NullString
	if err := row.Scan(&session.ID, &session.StartedAt, &endedAt, &summary, &session.WindowStart); err != nil {
		return nil, err
	}
	session.EndedAt = timePtr(endedAt)
	if summary.Valid {
		session.Summary = &summary.String
	}
	return &session, nil
}

func scanTurns(rows *sql.Rows) ([]*types.ConversationTurn, error) {
	var out []*types.ConversationTurn
	for rows.Next() {
		var t types.ConversationTurn
		var role string
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &t.CreatedAt, &t.Archived); err != nil {
			return nil, storeErr("scan turn", err)
		}
		t.Role = types.Role(role)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate turns", err)
	}
	return out, nil
}
