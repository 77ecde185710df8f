package types

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ValidRole reports whether r is a recognised turn author.
func ValidRole(r Role) bool {
	return r == RoleUser || r == RoleAssistant
}

// Session groups the turns of one conversation. At most one session per
// store is open (EndedAt == nil) at a time; closed sessions gain a summary
// during consolidation.
type Session struct {
	ID        string     `json:"id"` // UUID
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Summary   *string    `json:"summary,omitempty"`

	// WindowStart is the id of the first turn inside the active context
	// window. Zero means the window begins at the session's first turn.
	// It only ever moves forward.
	WindowStart int64 `json:"window_start,omitempty"`
}

// Open reports whether the session is still accepting turns.
func (s *Session) Open() bool {
	return s.EndedAt == nil
}

// ConversationTurn is one message in a session. Turns are append-only;
// archival sets a flag, it never deletes the row.
type ConversationTurn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Archived  bool      `json:"archived"`
}
