package mw

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/flipdeck-api/internal/auth"
)

// HumaAuthConfig holds dependencies for the Huma auth middleware.
type HumaAuthConfig struct {
	Authenticator *Authenticator
	UploadTokens  *auth.UploadTokenIssuer
}

const (
	// SecurityScheme is the name of the Clerk bearer scheme used in OpenAPI.
	SecurityScheme = "bearerAuth"
	// UploadTokenScheme is the name of the collector upload token scheme.
	UploadTokenScheme = "uploadToken"
)

// OperationMetadataKey is the key for storing additional operation requirements.
type OperationMetadataKey string

const (
	// MetaKeyRequireSuperadmin is metadata key for superadmin requirement.
	MetaKeyRequireSuperadmin OperationMetadataKey = "requireSuperadmin"
)

// HumaAuth returns a Huma middleware that handles authentication based on operation security.
// It checks ctx.Operation().Security to determine which credential, if any, is required.
func HumaAuth(api huma.API, cfg HumaAuthConfig) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op == nil {
			next(ctx)
			return
		}

		switch {
		case operationRequires(op, UploadTokenScheme):
			authenticateUpload(api, cfg, ctx, next)
		case operationRequires(op, SecurityScheme):
			authenticateUser(api, cfg, ctx, next)
		default:
			next(ctx)
		}
	}
}

func authenticateUser(api huma.API, cfg HumaAuthConfig, ctx huma.Context, next func(huma.Context)) {
	stdCtx := ctx.Context()

	// OptionalAuth may already have resolved the token for the rate limiter
	claims := GetUserClaims(stdCtx)
	if claims == nil {
		authHeader := ctx.Header("Authorization")
		if authHeader == "" {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "missing authorization header")
			return
		}
		if cfg.Authenticator == nil {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid token")
			return
		}

		var err error
		claims, err = cfg.Authenticator.Authenticate(stdCtx, authHeader)
		if err != nil {
			slog.Debug("auth validation failed", "error", err)
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid token")
			return
		}
		stdCtx = WithUserClaims(stdCtx, claims)
	}

	superadminOnly := requiresSuperadmin(ctx.Operation())
	if superadminOnly && !claims.GlobalSuperadmin {
		huma.WriteErr(api, ctx, http.StatusForbidden, "superadmin access required")
		return
	}
	// The supply key has no user account behind it
	if claims.IsSupplyKey && !superadminOnly {
		huma.WriteErr(api, ctx, http.StatusForbidden, "supply key cannot act as a user")
		return
	}

	next(huma.WithContext(ctx, stdCtx))
}

func authenticateUpload(api huma.API, cfg HumaAuthConfig, ctx huma.Context, next func(huma.Context)) {
	token := bearerToken(ctx.Header("Authorization"))
	if token == "" {
		huma.WriteErr(api, ctx, http.StatusUnauthorized, "missing upload token")
		return
	}
	if cfg.UploadTokens == nil {
		huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid upload token")
		return
	}

	claims, err := cfg.UploadTokens.Verify(token, ctx.Param("id"))
	if err != nil {
		slog.Debug("upload token rejected", "job_id", ctx.Param("id"), "error", err)
		msg := "invalid upload token"
		if errors.Is(err, auth.ErrTokenExpired) {
			msg = "upload token expired"
		}
		huma.WriteErr(api, ctx, http.StatusUnauthorized, msg)
		return
	}

	next(huma.WithContext(ctx, WithUploadClaims(ctx.Context(), claims)))
}

// operationRequires checks if the operation lists scheme in its security requirements.
func operationRequires(op *huma.Operation, scheme string) bool {
	for _, secReq := range op.Security {
		if _, ok := secReq[scheme]; ok {
			return true
		}
	}
	return false
}

// requiresSuperadmin checks operation metadata for superadmin requirement.
func requiresSuperadmin(op *huma.Operation) bool {
	if op.Metadata == nil {
		return false
	}
	if val, ok := op.Metadata[string(MetaKeyRequireSuperadmin)]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
