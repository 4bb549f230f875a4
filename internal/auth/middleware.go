package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

var middlewareTracer = otel.Tracer("auth-middleware")

// Gin context keys set by RequireAuth
const (
	UserIDKey    = "user_id"
	UserEmailKey = "user_email"
	UserRolesKey = "user_roles"
	ClaimsKey    = "claims"
)

// tokenQueryParam carries the token for browser websocket clients, which
// cannot set headers on the upgrade request.
const tokenQueryParam = "token"

// RequireAuth validates the bearer token and stores the caller in the gin
// context. Requests without a valid token are rejected with 401.
func RequireAuth(jwtManager *JWTManager, logger *logging.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(c *gin.Context) {
		ctx, span := middlewareTracer.Start(c.Request.Context(), "auth.require_auth")
		defer span.End()

		token, ok := extractToken(c)
		if !ok {
			span.SetAttributes(attribute.Bool("auth.token_present", false))
			abort(c, http.StatusUnauthorized, "Missing or invalid authorization header")
			return
		}
		span.SetAttributes(attribute.Bool("auth.token_present", true))

		claims, err := jwtManager.ValidateToken(ctx, token)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.Bool("auth.token_valid", false))
			logger.Warn(ctx, "Invalid token", zap.Error(err), zap.String("path", c.Request.URL.Path))
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		span.SetAttributes(
			attribute.Bool("auth.token_valid", true),
			attribute.String("user.id", claims.UserID),
		)

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserEmailKey, claims.Email)
		c.Set(UserRolesKey, claims.Roles)
		c.Set(ClaimsKey, claims)

		logger.Debug(ctx, "User authenticated",
			zap.String("user_id", claims.UserID),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method))
		c.Next()
	}
}

// RequireRole rejects callers without role. It must run after RequireAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := middlewareTracer.Start(c.Request.Context(), "auth.require_role")
		defer span.End()
		span.SetAttributes(attribute.String("required.role", role))

		roles := c.GetStringSlice(UserRolesKey)
		for _, r := range roles {
			if r == role {
				span.SetAttributes(attribute.Bool("auth.role_authorized", true))
				c.Next()
				return
			}
		}
		span.SetAttributes(attribute.Bool("auth.role_authorized", false))
		abort(c, http.StatusForbidden, "Insufficient permissions")
	}
}

// UserID returns the authenticated caller set by RequireAuth.
func UserID(c *gin.Context) (string, bool) {
	id := c.GetString(UserIDKey)
	return id, id != ""
}

func extractToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		token := strings.TrimSpace(c.Query(tokenQueryParam))
		return token, token != ""
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func abort(c *gin.Context, status int, message string) {
	code := models.ErrCodeUnauthorized
	if status == http.StatusForbidden {
		code = models.ErrCodeForbidden
	}
	c.AbortWithStatusJSON(status, models.ErrorResponse{Error: message, Code: code})
}
