package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/config"
)

func newManager(t *testing.T) *JWTManager {
	t.Helper()
	jm, err := NewJWTManager(config.JWTConfig{Secret: "test-secret", TokenTTL: time.Hour, Issuer: "codegen-orchestrator"})
	require.NoError(t, err)
	return jm
}

func TestNewJWTManager_RequiresSecret(t *testing.T) {
	_, err := NewJWTManager(config.JWTConfig{})
	assert.ErrorIs(t, err, ErrNoSigningKey)
}

func TestJWTManager_RoundTrip(t *testing.T) {
	jm := newManager(t)
	ctx := context.Background()

	token, expires, err := jm.GenerateToken(ctx, "user-1", "ada@example.com", []string{"user"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := jm.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, []string{"user"}, claims.Roles)
	assert.NotEmpty(t, claims.ID)
}

func TestJWTManager_Rejects(t *testing.T) {
	jm := newManager(t)
	ctx := context.Background()

	other, err := NewJWTManager(config.JWTConfig{Secret: "other-secret", Issuer: "codegen-orchestrator"})
	require.NoError(t, err)
	foreign, _, err := other.GenerateToken(ctx, "user-1", "", nil)
	require.NoError(t, err)

	wrongIssuer, err := NewJWTManager(config.JWTConfig{Secret: "test-secret", Issuer: "someone-else"})
	require.NoError(t, err)
	misissued, _, err := wrongIssuer.GenerateToken(ctx, "user-1", "", nil)
	require.NoError(t, err)

	expired := newManager(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, err := expired.GenerateToken(ctx, "user-1", "", nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong key", foreign},
		{"wrong issuer", misissued},
		{"expired", stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jm.ValidateToken(ctx, tt.token)
			assert.Error(t, err)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jm := newManager(t)
	token, _, err := jm.GenerateToken(context.Background(), "user-1", "ada@example.com", []string{"user"})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/me", RequireAuth(jm, nil), func(c *gin.Context) {
		id, _ := UserID(c)
		c.String(http.StatusOK, id)
	})
	router.GET("/admin", RequireAuth(jm, nil), RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"bearer header", "/me", "Bearer " + token, http.StatusOK, "user-1"},
		{"query token", "/me?token=" + token, "", http.StatusOK, "user-1"},
		{"missing", "/me", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/me", "Basic abc", http.StatusUnauthorized, ""},
		{"invalid token", "/me", "Bearer nope", http.StatusUnauthorized, ""},
		{"missing role", "/admin", "Bearer " + token, http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}
