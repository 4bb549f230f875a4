package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

func newOpenAITestServer(t *testing.T, status int, body string, inspect func(r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestOpenAIGateway_Complete(t *testing.T) {
	okBody := `{"id":"cmpl-1","object":"chat.completion","model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"hello back"},"finish_reason":"stop"}]}`

	t.Run("maps roles and returns content", func(t *testing.T) {
		server := newOpenAITestServer(t, http.StatusOK, okBody, func(r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			var payload struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "gpt-test", payload.Model)
			require.Len(t, payload.Messages, 3)
			assert.Equal(t, "system", payload.Messages[0].Role)
			assert.Equal(t, "user", payload.Messages[1].Role)
			assert.Equal(t, "assistant", payload.Messages[2].Role)
		})
		defer server.Close()

		gw := NewOpenAIGateway(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1", Model: "gpt-test"}, nil)
		text, err := gw.Complete(context.Background(), Request{
			System: "you are a planner",
			Messages: []models.ConversationMessage{
				{Role: models.RoleUser, Content: "build a todo app"},
				{Role: models.RoleAssistant, Content: "ok"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "hello back", text)
	})

	t.Run("server error is transient", func(t *testing.T) {
		server := newOpenAITestServer(t, http.StatusBadGateway, `{"error":{"message":"upstream","type":"server_error"}}`, nil)
		defer server.Close()

		gw := NewOpenAIGateway(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1", Model: "gpt-test"}, nil)
		_, err := gw.Complete(context.Background(), Request{})
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})

	t.Run("bad request is not transient", func(t *testing.T) {
		server := newOpenAITestServer(t, http.StatusBadRequest, `{"error":{"message":"bad model","type":"invalid_request_error"}}`, nil)
		defer server.Close()

		gw := NewOpenAIGateway(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1", Model: "gpt-test"}, nil)
		_, err := gw.Complete(context.Background(), Request{})
		require.Error(t, err)
		assert.False(t, IsTransient(err))
	})

	t.Run("no choices", func(t *testing.T) {
		server := newOpenAITestServer(t, http.StatusOK, `{"id":"x","choices":[]}`, nil)
		defer server.Close()

		gw := NewOpenAIGateway(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1", Model: "gpt-test"}, nil)
		_, err := gw.Complete(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})
}
