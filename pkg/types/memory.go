package types

import (
	"fmt"
	"time"
)

// Category classifies a long-term memory record.
type Category string

const (
	CategoryFact        Category = "fact"
	CategoryPreference  Category = "preference"
	CategoryPersonality Category = "personality"
	CategorySkill       Category = "skill"
	CategoryGoal        Category = "goal"
)

// ValidCategory reports whether c is one of the recognised categories.
// Unknown values are rejected, never coerced to a default.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryFact, CategoryPreference, CategoryPersonality, CategorySkill, CategoryGoal:
		return true
	}
	return false
}

// MemoryRecord is a single unit of extracted long-term memory.
type MemoryRecord struct {
	ID             string     `json:"id"`                         // ULID, assigned by the store
	Content        string     `json:"content"`                    // Natural-language statement
	Category       Category   `json:"category"`                   // One of the Category constants
	Importance     float64    `json:"importance"`                 // Salience in [0.0, 1.0]
	AccessCount    int        `json:"access_count"`               // Times returned by a search
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"` // Most recent retrieval, nil if never
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Archived       bool       `json:"archived,omitempty"` // Soft-archived records are excluded from search
}

// Validate checks the record's invariants before it reaches the store.
func (m *MemoryRecord) Validate() error {
	if m.Content == "" {
		return fmt.Errorf("%w: memory content is empty", ErrConstraintViolation)
	}
	if !ValidCategory(m.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrConstraintViolation, m.Category)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("%w: importance %.3f outside [0,1]", ErrConstraintViolation, m.Importance)
	}
	return nil
}
