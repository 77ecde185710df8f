// Package storage defines the persistence boundary for the kioku memory
// subsystem. Backends implement Store; everything above the line talks to
// the interface and matches errors with errors.Is against the pkg/types
// sentinels.
package storage

import (
	"context"
	"time"

	"github.com/kioku-ai/kioku/pkg/types"
)

// Store is the full persistence surface. A backend must make every write
// atomic: a call either fully commits or leaves the database untouched.
type Store interface {
	MemoryStore
	ProfileStore
	GoalStore
	SessionStore
	ReminderStore

	// Close releases the underlying database handle.
	Close() error
}

// MemoryStore manages long-term memory records.
type MemoryStore interface {
	// CreateMemory inserts a new record, assigning its ID and timestamps.
	// Returns ErrConstraintViolation when validation fails; nothing is
	// written in that case.
	CreateMemory(ctx context.Context, m *types.MemoryRecord) error

	// GetMemory retrieves a record by ID. Returns ErrNotFound if absent.
	GetMemory(ctx context.Context, id string) (*types.MemoryRecord, error)

	// SearchMemories returns the candidate set for a text query, ordered by
	// the backend's match rank. The ranker re-scores and truncates; opts
	// must already carry a positive limit.
	SearchMemories(ctx context.Context, opts SearchOptions) ([]*types.MemoryRecord, error)

	// ListMemories returns non-archived records, optionally filtered by
	// category, ordered by created_at descending.
	ListMemories(ctx context.Context, category types.Category, limit int) ([]*types.MemoryRecord, error)

	// TouchMemory atomically increments access_count and stamps
	// last_accessed_at. Returns ErrNotFound if the record is absent.
	TouchMemory(ctx context.Context, id string) error

	// UpdateMemory rewrites content, importance and access_count for an
	// existing record and bumps updated_at. Returns ErrNotFound if absent.
	UpdateMemory(ctx context.Context, m *types.MemoryRecord) error

	// ArchiveMemory soft-archives a record, removing it from search.
	ArchiveMemory(ctx context.Context, id string) error

	// CountMemories reports the number of non-archived records.
	CountMemories(ctx context.Context) (int, error)
}

// ProfileStore manages user profile attributes.
type ProfileStore interface {
	// UpsertProfileAttribute writes the value for a key, inserting or
	// replacing, and stamps updated_at.
	UpsertProfileAttribute(ctx context.Context, key, value string) error

	// GetProfileAttributes returns attributes for the given keys, or all
	// attributes when keys is empty. Missing keys are silently skipped.
	GetProfileAttributes(ctx context.Context, keys []string) ([]*types.ProfileAttribute, error)
}

// GoalStore manages goals.
type GoalStore interface {
	// CreateGoal inserts a new goal, assigning its ID and timestamps.
	CreateGoal(ctx context.Context, g *types.Goal) error

	// GetGoal retrieves a goal by ID. Returns ErrNotFound if absent.
	GetGoal(ctx context.Context, id int64) (*types.Goal, error)

	// FindActiveGoalByTitle returns the active goal with an exact title
	// match, or ErrNotFound. Used for extraction dedupe.
	FindActiveGoalByTitle(ctx context.Context, title string) (*types.Goal, error)

	// UpdateGoal rewrites a goal's mutable fields and bumps updated_at.
	// Returns ErrNotFound if absent, ErrConstraintViolation on bad values;
	// either way no row changes.
	UpdateGoal(ctx context.Context, g *types.Goal) error

	// ListGoals returns goals filtered by status ("" means all), ordered by
	// priority then deadline.
	ListGoals(ctx context.Context, status types.GoalStatus) ([]*types.Goal, error)
}

// SessionStore manages sessions, their turns and the context window pointer.
type SessionStore interface {
	// OpenSession closes any currently open session and starts a new one.
	OpenSession(ctx context.Context) (*types.Session, error)

	// GetOpenSession returns the open session, or ErrNotFound when none is.
	GetOpenSession(ctx context.Context) (*types.Session, error)

	// CloseSession stamps ended_at on an open session.
	CloseSession(ctx context.Context, id string) error

	// SetSessionSummary stores the consolidation summary for a session.
	SetSessionSummary(ctx context.Context, id, summary string) error

	// ListClosedSessionsWithoutSummary returns closed sessions still
	// awaiting consolidation, oldest first.
	ListClosedSessionsWithoutSummary(ctx context.Context, limit int) ([]*types.Session, error)

	// ListSummarizedSessions returns closed sessions that already carry a
	// summary, oldest first. Only these are eligible for turn archival.
	ListSummarizedSessions(ctx context.Context, limit int) ([]*types.Session, error)

	// AppendTurn inserts a turn at the end of a session, assigning its ID.
	AppendTurn(ctx context.Context, t *types.ConversationTurn) error

	// ListTurns returns a session's turns in insertion order. Archived
	// turns are excluded unless includeArchived is set.
	ListTurns(ctx context.Context, sessionID string, includeArchived bool) ([]*types.ConversationTurn, error)

	// ListWindowTurns returns the turns inside the active context window:
	// those with id >= the session's window pointer, non-archived,
	// insertion order.
	ListWindowTurns(ctx context.Context, sessionID string) ([]*types.ConversationTurn, error)

	// ArchiveTurns flags a session's turns created before the cutoff.
	// Returns the number of turns archived.
	ArchiveTurns(ctx context.Context, sessionID string, before time.Time) (int, error)

	// GetWindowStart returns the session's persisted window pointer.
	GetWindowStart(ctx context.Context, sessionID string) (int64, error)

	// SetWindowStart advances the window pointer. Attempts to move it
	// backward return ErrConstraintViolation and leave it unchanged.
	SetWindowStart(ctx context.Context, sessionID string, turnID int64) error
}

// ReminderStore manages time-based reminders.
type ReminderStore interface {
	// CreateReminder inserts a new pending reminder.
	CreateReminder(ctx context.Context, r *types.Reminder) error

	// ListDueReminders returns pending reminders with remind_at <= now.
	ListDueReminders(ctx context.Context, now time.Time) ([]*types.Reminder, error)

	// UpdateReminderStatus transitions a reminder, optionally rescheduling
	// recurring ones. Returns ErrNotFound if absent.
	UpdateReminderStatus(ctx context.Context, id int64, status types.ReminderStatus, nextAt time.Time) error
}
