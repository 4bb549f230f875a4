// Package auth issues and validates the bearer tokens that guard the API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/config"
)

const keyID = "default"

// ErrNoSigningKey is returned when no JWT secret is configured.
var ErrNoSigningKey = errors.New("jwt secret is required")

// JWTManager signs and validates HS256 tokens.
type JWTManager struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	tracer     trace.Tracer
	now        func() time.Time
}

// Claims identifies the caller of an API request.
type Claims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewJWTManager creates a manager from the jwt config section.
func NewJWTManager(cfg config.JWTConfig) (*JWTManager, error) {
	if !cfg.Secret.IsSet() {
		return nil, ErrNoSigningKey
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTManager{
		signingKey: []byte(cfg.Secret.Value()),
		issuer:     cfg.Issuer,
		ttl:        ttl,
		tracer:     otel.Tracer("jwt-manager"),
		now:        time.Now,
	}, nil
}

// TTL is the lifetime of issued tokens.
func (jm *JWTManager) TTL() time.Duration {
	return jm.ttl
}

// GenerateToken issues a token for the user and returns it with its expiry.
func (jm *JWTManager) GenerateToken(ctx context.Context, userID, email string, roles []string) (string, time.Time, error) {
	_, span := jm.tracer.Start(ctx, "jwt.generate_token")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	now := jm.now()
	expires := now.Add(jm.ttl)
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    jm.issuer,
			Subject:   userID,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(jm.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	span.SetAttributes(attribute.String("jwt.id", claims.ID))
	return signed, expires, nil
}

// ValidateToken parses a token and checks signature, expiry and issuer.
func (jm *JWTManager) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	_, span := jm.tracer.Start(ctx, "jwt.validate_token")
	defer span.End()

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(jm.now),
	}
	if jm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(jm.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if kid, ok := token.Header["kid"].(string); ok && kid != keyID {
			span.SetAttributes(attribute.String("jwt.kid_mismatch", kid))
		}
		return jm.signingKey, nil
	}, opts...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	span.SetAttributes(attribute.String("user.id", claims.UserID))
	return claims, nil
}
