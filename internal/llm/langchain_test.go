package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

type fakeContentGenerator struct {
	got  []llms.MessageContent
	resp *llms.ContentResponse
	err  error
}

func (f *fakeContentGenerator) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.got = messages
	return f.resp, f.err
}

func TestLangChainGateway_Complete(t *testing.T) {
	fake := &fakeContentGenerator{resp: &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: "from langchain"}},
	}}
	gw := NewLangChainGatewayWithModel(fake, LangChainConfig{Backend: "ollama", Model: "llama3"}, nil)

	text, err := gw.Complete(context.Background(), Request{
		System: "system prompt",
		Messages: []models.ConversationMessage{
			{Role: models.RoleUser, Content: "question"},
			{Role: models.RoleAssistant, Content: "answer"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "from langchain", text)

	require.Len(t, fake.got, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, fake.got[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, fake.got[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, fake.got[2].Role)
}

func TestLangChainGateway_Errors(t *testing.T) {
	t.Run("empty response", func(t *testing.T) {
		gw := NewLangChainGatewayWithModel(&fakeContentGenerator{resp: &llms.ContentResponse{}}, LangChainConfig{}, nil)
		_, err := gw.Complete(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})

	t.Run("rate limit text is transient", func(t *testing.T) {
		gw := NewLangChainGatewayWithModel(&fakeContentGenerator{err: errors.New("Rate limit reached for requests")}, LangChainConfig{}, nil)
		_, err := gw.Complete(context.Background(), Request{})
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})
}

func TestNewLangChainGateway_UnknownBackend(t *testing.T) {
	_, err := NewLangChainGateway(LangChainConfig{Backend: "cohere"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported langchain backend")
}
