package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/getsentry/sentry-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// AuthClient defines the interface for authentication operations
type AuthClient interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
	ExtractTokenFromRequest(r *http.Request) (string, error)
}

// UserContextKey is the key used to store claims in the request context
type UserContextKey string

const UserKey UserContextKey = "user"

// Claims are the token claims made available to handlers
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	Scope string `json:"scope,omitempty"`
}

// JWKSAuthClient validates RS256/ES256 tokens against a remote JWKS
type JWKSAuthClient struct {
	config *Config
	jwks   keyfunc.Keyfunc
}

// NewJWKSAuthClient builds a client whose key set refreshes in the
// background until ctx is cancelled.
func NewJWKSAuthClient(ctx context.Context, config *Config) (*JWKSAuthClient, error) {
	if config == nil {
		return nil, fmt.Errorf("auth config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	refresh := config.RefreshInterval
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}

	override := keyfunc.Override{
		Client:          &http.Client{Timeout: 5 * time.Second},
		HTTPTimeout:     5 * time.Second,
		RefreshInterval: refresh,
		RefreshErrorHandlerFunc: func(url string) func(ctx context.Context, err error) {
			return func(ctx context.Context, err error) {
				log.Error().Err(err).Str("jwks_url", url).Msg("JWKS refresh failed")
			}
		},
	}

	jwks, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{config.JWKSURL}, override)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise JWKS: %w", err)
	}

	return &JWKSAuthClient{config: config, jwks: jwks}, nil
}

// ExtractTokenFromRequest extracts a bearer token from the Authorization header
func (c *JWKSAuthClient) ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("missing or invalid Authorization header")
	}
	return strings.TrimSpace(token), nil
}

// ValidateToken checks the signature, expiry, issuer and audience of token
func (c *JWKSAuthClient) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("request context cancelled: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Name,
			jwt.SigningMethodES256.Name,
		}),
		jwt.WithExpirationRequired(),
	}
	if c.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, c.jwks.Keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if len(c.config.Audience) > 0 {
		audiences, err := claims.GetAudience()
		if err != nil {
			return nil, fmt.Errorf("failed to read audience: %w", err)
		}
		if !slices.ContainsFunc(audiences, func(aud string) bool {
			return slices.Contains(c.config.Audience, aud)
		}) {
			return nil, fmt.Errorf("token has unexpected audience: %v", audiences)
		}
	}

	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// claims in the request context
func Middleware(client AuthClient) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := client.ExtractTokenFromRequest(r)
			if err != nil {
				writeAuthError(w, "Missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := client.ValidateToken(r.Context(), tokenString)
			if err != nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("JWT validation failed")

				message := "Invalid authentication token"
				switch {
				case errors.Is(err, jwt.ErrTokenExpired):
					message = "Authentication token has expired"
				case errors.Is(err, jwt.ErrTokenSignatureInvalid):
					message = "Invalid token signature"
					sentry.CaptureException(err)
				case errors.Is(err, jwt.ErrTokenUnverifiable):
					sentry.CaptureException(err)
				}

				writeAuthError(w, message, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromContext extracts claims from the request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserKey).(*Claims)
	return claims, ok
}

// writeAuthError writes an error body matching the API's error envelope.
// The request ID is taken from the response header set by the request ID
// middleware.
func writeAuthError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"status":     statusCode,
		"message":    message,
		"code":       "UNAUTHORISED",
		"request_id": w.Header().Get("X-Request-ID"),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode unauthorised response")
	}
}
