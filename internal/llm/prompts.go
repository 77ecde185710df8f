package llm

import (
	"fmt"
	"strings"

	"github.com/kioku-ai/kioku/pkg/types"
)

// BuildExtractionPrompt asks the model to mine one completed exchange for
// durable information. The response contract matches ExtractionResponse;
// empty arrays are the expected answer for small talk.
func BuildExtractionPrompt(userMessage, assistantMessage string) string {
	return fmt.Sprintf(`You analyze one exchange from a conversation and extract information worth remembering long-term about the user.

Extract only durable facts, not transient chit-chat. Respond with JSON only, no other text, in exactly this shape:

{
  "memories": [{"content": "...", "category": "...", "importance": 0.0}],
  "goals": [{"title": "...", "description": "...", "deadline": "YYYY-MM-DD", "priority": "low|medium|high"}],
  "profile": [{"key": "...", "value": "..."}]
}

Rules:
- "category" must be one of: fact, preference, personality, skill, goal.
- "importance" is a number between 0.0 and 1.0.
- "memories" content must be a short standalone statement about the user.
- "goals" are objectives the user states or clearly implies; omit "deadline" when none was given.
- "profile" keys are stable attributes such as name, occupation, location.
- Use empty arrays when nothing qualifies.

User: %s
Assistant: %s

JSON:`, userMessage, assistantMessage)
}

// BuildSummaryPrompt asks the model for a session summary used during
// consolidation. Plain text, a few sentences.
func BuildSummaryPrompt(turns []*types.ConversationTurn) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation in 2-4 sentences. Focus on what the user said about themselves, decisions made and topics discussed. Respond with the summary text only.\n\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	b.WriteString("\nSummary:")
	return b.String()
}
