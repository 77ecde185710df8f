package types

import (
	"fmt"
	"time"
)

// Priority orders goals for display and ranking.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalArchived  GoalStatus = "archived"
)

// ParsePriority validates a priority string. Empty input defaults to medium.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), nil
	case "":
		return PriorityMedium, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrConstraintViolation, s)
}

// ParseGoalStatus validates a status string. Empty input is rejected so
// callers must be explicit about transitions.
func ParseGoalStatus(s string) (GoalStatus, error) {
	switch GoalStatus(s) {
	case GoalActive, GoalCompleted, GoalArchived:
		return GoalStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown goal status %q", ErrConstraintViolation, s)
}

// Goal is a user objective tracked across conversations.
type Goal struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"` // Date precision; nil when open-ended
	Priority    Priority   `json:"priority"`
	Status      GoalStatus `json:"status"`
	Progress    int        `json:"progress"` // Percent complete in [0, 100]
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks the goal's invariants before it reaches the store.
func (g *Goal) Validate() error {
	if g.Title == "" {
		return fmt.Errorf("%w: goal title is empty", ErrConstraintViolation)
	}
	if _, err := ParsePriority(string(g.Priority)); err != nil {
		return err
	}
	if _, err := ParseGoalStatus(string(g.Status)); err != nil {
		return err
	}
	if g.Progress < 0 || g.Progress > 100 {
		return fmt.Errorf("%w: progress %d outside [0,100]", ErrConstraintViolation, g.Progress)
	}
	return nil
}
