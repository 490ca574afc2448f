// Package mw contains HTTP middleware for the flipdeck-api.
package mw

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/jmylchreest/flipdeck-api/internal/auth"
	"github.com/jmylchreest/flipdeck-api/internal/constants"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserClaimsKey is the context key for user claims.
	UserClaimsKey ContextKey = "user_claims"
	// UploadClaimsKey is the context key for verified collector upload claims.
	UploadClaimsKey ContextKey = "upload_claims"
)

// supplyUserID identifies requests authenticated with the supply API key.
const supplyUserID = "supply"

// UserClaims represents unified user claims from any auth source.
type UserClaims struct {
	UserID           string // Clerk user ID (sub claim)
	Email            string
	Plan             string // starter | pro | elite
	GlobalSuperadmin bool   // From Clerk public_metadata.global_superadmin or ADMIN_USER_IDS
	IsSupplyKey      bool   // True if authenticated with the backend supply key
}

// Authenticator resolves bearer tokens to UserClaims.
type Authenticator struct {
	ClerkVerifier *auth.ClerkVerifier
	// SupplyAPIKey authenticates the backend that supplies tasks and market data.
	SupplyAPIKey string
	// AdminUserIDs are granted superadmin regardless of token metadata.
	AdminUserIDs []string
}

// Authenticate validates a raw Authorization header value.
func (a *Authenticator) Authenticate(ctx context.Context, authHeader string) (*UserClaims, error) {
	token := bearerToken(authHeader)
	if token == "" {
		return nil, auth.ErrInvalidToken
	}

	if a.SupplyAPIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.SupplyAPIKey)) == 1 {
		return &UserClaims{
			UserID:           supplyUserID,
			Plan:             string(constants.PlanStarter),
			GlobalSuperadmin: true,
			IsSupplyKey:      true,
		}, nil
	}

	return a.validateClerkToken(ctx, token)
}

// validateClerkToken validates a Clerk JWT and converts to UserClaims.
func (a *Authenticator) validateClerkToken(ctx context.Context, tokenString string) (*UserClaims, error) {
	if a.ClerkVerifier == nil {
		return nil, auth.ErrInvalidToken
	}
	clerkClaims, err := a.ClerkVerifier.VerifyToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	// NOTE: Clerk JWTs don't include public_metadata by default!
	// Configure a JWT template in the Clerk Dashboard to include it:
	// { "public_metadata": "{{user.public_metadata}}" }
	superadmin := clerkClaims.IsSuperadmin() || slices.Contains(a.AdminUserIDs, clerkClaims.UserID)
	plan := clerkClaims.GetPlan()

	slog.Debug("clerk token validated",
		"user_id", clerkClaims.UserID,
		"plan", plan,
		"raw_pla_claim", clerkClaims.Plan,
	)

	return &UserClaims{
		UserID:           clerkClaims.UserID,
		Email:            clerkClaims.Email,
		Plan:             plan,
		GlobalSuperadmin: superadmin,
	}, nil
}

// bearerToken strips an optional "Bearer " prefix.
func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if rest, ok := strings.CutPrefix(authHeader, "Bearer"); ok && (rest == "" || rest[0] == ' ') {
		return strings.TrimSpace(rest)
	}
	return authHeader
}

// GetUserClaims retrieves user claims from context.
func GetUserClaims(ctx context.Context) *UserClaims {
	claims, ok := ctx.Value(UserClaimsKey).(*UserClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithUserClaims returns a copy of ctx carrying claims.
func WithUserClaims(ctx context.Context, claims *UserClaims) context.Context {
	return context.WithValue(ctx, UserClaimsKey, claims)
}

// GetUploadClaims retrieves verified collector upload claims from context.
func GetUploadClaims(ctx context.Context) *auth.UploadClaims {
	claims, ok := ctx.Value(UploadClaimsKey).(*auth.UploadClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithUploadClaims returns a copy of ctx carrying upload claims.
func WithUploadClaims(ctx context.Context, claims *auth.UploadClaims) context.Context {
	return context.WithValue(ctx, UploadClaimsKey, claims)
}

// OptionalAuth returns middleware that validates auth if present but allows
// unauthenticated requests. It runs ahead of the per-plan rate limiter so that
// limiter can key on the user. Invalid tokens are left for HumaAuth to reject.
func OptionalAuth(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := a.Authenticate(r.Context(), authHeader)
			if err != nil || claims == nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserClaims(r.Context(), claims)))
		})
	}
}
