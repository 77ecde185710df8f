package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kioku-ai/kioku/pkg/types"
)

const sessionColumns = `id, started_at, ended_at, summary, window_start`

// OpenSession closes any currently open session and starts a new one. The
// two writes share a transaction so the single-open-session invariant holds
// even if the process dies between them.
func (s *Store) OpenSession(ctx context.Context) (*types.Session, error) {
	session := &types.Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET ended_at = ? WHERE ended_at IS NULL`, session.StartedAt); err != nil {
			return storeErr("close previous session", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, started_at, window_start) VALUES (?, ?, 0)`,
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
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return storeErr("close session", err)
	}
	return requireRow(res, "open session", id)
}

// SetSessionSummary stores the consolidation summary for a session.
func (s *Store) SetSessionSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return storeErr("set session summary", err)
	}
	return requireRow(res, "session", id)
}

// ListClosedSessionsWithoutSummary returns sessions awaiting consolidation,
// oldest first.
func (s *Store) ListClosedSessionsWithoutSummary(ctx context.Context, limit int) ([]*types.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE ended_at IS NOT NULL AND summary IS NULL
		ORDER BY ended_at`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, role, content, created_at, archived)
		VALUES (?, ?, ?, ?, 0)`,
		t.SessionID, string(t.Role), t.Content, t.CreatedAt)
	if err != nil {
		return storeErr("append turn", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return storeErr("turn id", err)
	}
	return nil
}

// ListTurns returns a session's turns in insertion order.
func (s *Store) ListTurns(ctx context.Context, sessionID string, includeArchived bool) ([]*types.ConversationTurn, error) {
	query := `
		SELECT id, session_id, role, content, created_at, archived
		FROM turns WHERE session_id = ?`
	if !includeArchived {
		query += ` AND archived = 0`
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
		JOIN sessions s ON s.id = t.session_id
		WHERE t.session_id = ? AND t.archived = 0 AND t.id >= s.window_start
		ORDER BY t.id`, sessionID)
	if err != nil {
		return nil, storeErr("list window turns", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// ArchiveTurns flags a session's turns created before the cutoff and
// returns how many were archived.
func (s *Store) ArchiveTurns(ctx context.Context, sessionID string, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE turns SET archived = 1
		WHERE session_id = ? AND created_at < ? AND archived = 0`,
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
		`SELECT window_start FROM sessions WHERE id = ?`, sessionID).Scan(&start)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
	}
	if err != nil {
		return 0, storeErr("get window start", err)
	}
	return start, nil
}

// SetWindowStart advances the window pointer. The guard in the WHERE clause
// makes backward moves a no-op, reported as ErrConstraintViolation.
func (s *Store) SetWindowStart(ctx context.Context, sessionID string, turnID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET window_start = ? WHERE id = ? AND window_start <= ?`,
		turnID, sessionID, turnID)
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

// scanSession reads one row in sessionColumns order.
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
