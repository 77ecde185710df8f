package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/pkg/types"
)

func TestParseExtractionResponse(t *testing.T) {
	raw := `{
		"memories": [{"content": "user is a teacher", "category": "fact", "importance": 0.9}],
		"goals": [{"title": "visit Kyoto", "priority": "low"}],
		"profile": [{"key": "occupation", "value": "teacher"}]
	}`

	resp, err := ParseExtractionResponse(raw)
	require.NoError(t, err)
	require.Len(t, resp.Memories, 1)
	assert.Equal(t, "user is a teacher", resp.Memories[0].Content)
	assert.Equal(t, "fact", resp.Memories[0].Category)
	assert.Len(t, resp.Goals, 1)
	assert.Len(t, resp.Profile, 1)
	assert.False(t, resp.Empty())
}

func TestParseExtractionResponseWithMarkdownFences(t *testing.T) {
	raw := "Here is what I found:\n```json\n{\"memories\": [], \"goals\": [], \"profile\": []}\n```\nHope that helps!"

	resp, err := ParseExtractionResponse(raw)
	require.NoError(t, err)
	assert.True(t, resp.Empty())
}

func TestParseExtractionResponseMalformed(t *testing.T) {
	for _, raw := range []string{
		"I could not find anything.",
		`{"memories": [`,
		`[1, 2, 3]`,
	} {
		_, err := ParseExtractionResponse(raw)
		assert.True(t, errors.Is(err, types.ErrExtractionParse), "input %q: got %v", raw, err)
	}
}

func TestExtractJSONBraceMatching(t *testing.T) {
	raw := `prefix {"a": "brace } in string", "b": {"c": 1}} suffix`
	assert.Equal(t, `{"a": "brace } in string", "b": {"c": 1}}`, extractJSON(raw))
}

func TestParseSummaryResponse(t *testing.T) {
	s, err := ParseSummaryResponse("```\nThe user planned a trip.\n```")
	require.NoError(t, err)
	assert.Equal(t, "The user planned a trip.", s)

	_, err = ParseSummaryResponse("   ")
	assert.True(t, errors.Is(err, types.ErrExtractionParse))
}
