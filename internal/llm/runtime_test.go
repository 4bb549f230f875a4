package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

func TestNewRuntimeGateway(t *testing.T) {
	gw := NewRuntimeGateway(RuntimeConfig{}, nil)

	assert.NotNil(t, gw.httpClient)
	assert.NotNil(t, gw.guard)
	assert.Contains(t, gw.baseURL, "generation-runtime")
	assert.Equal(t, 120*time.Second, gw.httpClient.Timeout)
}

func TestRuntimeGateway_Complete(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse func(w http.ResponseWriter, r *http.Request)
		expectedError  string
		transient      bool
		expectedText   string
	}{
		{
			name: "successful_generation",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/v1/generate", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var req RuntimeGenerateRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "test-model", req.Model)
				assert.Equal(t, "be terse", req.System)
				require.Len(t, req.Messages, 1)
				assert.Equal(t, "user", req.Messages[0].Role)

				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(RuntimeGenerateResponse{Text: "generated", FinishReason: "stop"})
			},
			expectedText: "generated",
		},
		{
			name: "server_error_is_transient",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("overloaded"))
			},
			expectedError: "runtime returned status 503",
			transient:     true,
		},
		{
			name: "client_error_is_not_transient",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("unknown model"))
			},
			expectedError: "runtime returned status 400",
		},
		{
			name: "invalid_json_response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte("invalid json"))
			},
			expectedError: "failed to decode response",
		},
		{
			name: "empty_text",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(RuntimeGenerateResponse{})
			},
			expectedError: ErrEmptyCompletion.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResponse))
			defer server.Close()

			gw := NewRuntimeGateway(RuntimeConfig{BaseURL: server.URL, Model: "test-model"}, nil)

			text, err := gw.Complete(context.Background(), Request{
				System:   "be terse",
				Messages: []models.ConversationMessage{{Role: models.RoleUser, Content: "hello"}},
			})

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Equal(t, tt.transient, IsTransient(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedText, text)
		})
	}
}

func TestRuntimeGateway_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected bool
	}{
		{name: "healthy", status: http.StatusOK, expected: true},
		{name: "unhealthy", status: http.StatusServiceUnavailable, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			gw := NewRuntimeGateway(RuntimeConfig{BaseURL: server.URL}, nil)
			assert.Equal(t, tt.expected, gw.IsHealthy(context.Background()))
		})
	}
}

func TestRuntimeGateway_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	gw := NewRuntimeGateway(RuntimeConfig{BaseURL: server.URL}, nil)
	for i := 0; i < 6; i++ {
		_, err := gw.Complete(context.Background(), Request{})
		require.Error(t, err)
	}
	assert.Equal(t, int32(6), calls.Load())

	_, err := gw.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(6), calls.Load(), "open breaker must not reach the server")
	assert.False(t, gw.IsHealthy(context.Background()))
}

func TestRuntimeGateway_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(RuntimeGenerateResponse{Text: "late"})
	}))
	defer server.Close()

	gw := NewRuntimeGateway(RuntimeConfig{BaseURL: server.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gw.Complete(ctx, Request{})
	require.Error(t, err)
	assert.False(t, IsTransient(err), "caller deadline is not retryable")
}
