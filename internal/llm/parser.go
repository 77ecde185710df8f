package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kioku-ai/kioku/pkg/types"
)

// MemoryEntry is one memory candidate in an extraction response.
type MemoryEntry struct {
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Importance float64 `json:"importance"`
}

// GoalEntry is one goal candidate in an extraction response.
type GoalEntry struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Deadline    string `json:"deadline,omitempty"` // YYYY-MM-DD or empty
	Priority    string `json:"priority,omitempty"`
}

// ProfileEntry is one profile attribute in an extraction response.
type ProfileEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ExtractionResponse is the full shape the extraction prompt asks for.
// Absent arrays mean nothing was found, which is a valid outcome.
type ExtractionResponse struct {
	Memories []MemoryEntry  `json:"memories"`
	Goals    []GoalEntry    `json:"goals"`
	Profile  []ProfileEntry `json:"profile"`
}

// Empty reports whether the response carries no candidates at all.
func (r *ExtractionResponse) Empty() bool {
	return len(r.Memories) == 0 && len(r.Goals) == 0 && len(r.Profile) == 0
}

// ParseExtractionResponse parses the model's extraction output. Malformed
// JSON or a non-object payload yields ErrExtractionParse; semantic checks
// (category, importance range) are the caller's concern.
func ParseExtractionResponse(raw string) (*ExtractionResponse, error) {
	cleaned := extractJSON(raw)

	var resp ExtractionResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrExtractionParse, err)
	}
	return &resp, nil
}

// ParseSummaryResponse returns the plain-text summary from a summary
// completion, trimming any markdown fencing the model added.
func ParseSummaryResponse(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty summary", types.ErrExtractionParse)
	}
	return s, nil
}

// extractJSON pulls the first complete JSON object out of text that may
// carry markdown fences or prose around it, which small local models add
// despite instructions.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // let the JSON parser produce the error
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return text[start : i+1]
			}
		}
	}

	return text
}
