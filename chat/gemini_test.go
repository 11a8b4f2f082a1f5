package chat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGeminiContentsMapsRoles(t *testing.T) {
	history := []Message{
		{Role: RoleAssistant, Content: DefaultGreeting},
		{Role: RoleUser, Content: "What is Aether?"},
		{Role: RoleAssistant, Content: ""},
	}
	contents := geminiContents(history, "Tell me more")

	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[0].Role)
	assert.Equal(t, "user", contents[1].Role)
	assert.Equal(t, "user", contents[2].Role)
	require.Len(t, contents[2].Parts, 1)
	assert.Equal(t, "Tell me more", contents[2].Parts[0].Text)
}

func TestGeminiSources(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			GroundingMetadata: &genai.GroundingMetadata{
				GroundingChunks: []*genai.GroundingChunk{
					{Web: &genai.GroundingChunkWeb{Title: "Edge", URI: "https://edge.example"}},
					{Web: &genai.GroundingChunkWeb{Title: "Dup", URI: "https://edge.example"}},
					{},
				},
			},
		}},
	}
	got := geminiSources(resp)
	require.Len(t, got, 1)
	assert.Equal(t, Source{Title: "Edge", URL: "https://edge.example"}, got[0])
	assert.Nil(t, geminiSources(&genai.GenerateContentResponse{}))
}

func TestClassifyGenAIError(t *testing.T) {
	err := classifyGenAIError(fmt.Errorf("stream: %w", genai.APIError{Code: 429, Message: "quota"}))
	assert.True(t, IsRateLimited(err))

	err = classifyGenAIError(genai.APIError{Code: 500, Message: "internal"})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindUnavailable, ce.Kind)
	assert.Equal(t, 500, ce.Status)

	err = classifyGenAIError(errors.New("dial tcp: refused"))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, ce.Status)
	assert.False(t, IsRateLimited(err))
}
