// Package auth verifies Clerk session tokens and issues collector upload tokens.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmylchreest/flipdeck-api/internal/version"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrMissingClaims = errors.New("missing required claims")
	ErrJWKSFetch     = errors.New("failed to fetch JWKS")
)

// ClerkClaims represents the claims in a Clerk session JWT.
type ClerkClaims struct {
	jwt.RegisteredClaims
	UserID         string                 `json:"sub"`
	Email          string                 `json:"email,omitempty"`
	PublicMetadata map[string]interface{} `json:"public_metadata,omitempty"`
	SessionID      string                 `json:"sid,omitempty"`
	// Clerk Commerce plan claim (e.g., "u:pro")
	Plan string `json:"pla,omitempty"`
}

// GetPlan returns the user's subscription plan.
// Priority order:
// 1. public_metadata.plan_override (support override for specific users)
// 2. Clerk Commerce's pla claim (e.g., "u:pro" or "o:elite")
// 3. Default "starter"
//
// The value is returned raw; callers resolve it with constants.Resolve, which
// fails closed to starter for anything unknown.
func (c *ClerkClaims) GetPlan() string {
	if c.PublicMetadata != nil {
		if override, ok := c.PublicMetadata["plan_override"].(string); ok && override != "" {
			return override
		}
	}

	if plan := stripClerkPrefix(c.Plan); plan != "" {
		return plan
	}

	return "starter"
}

// IsSuperadmin reports whether public_metadata.global_superadmin is set.
func (c *ClerkClaims) IsSuperadmin() bool {
	if c.PublicMetadata == nil {
		return false
	}
	v, ok := c.PublicMetadata["global_superadmin"].(bool)
	return ok && v
}

// stripClerkPrefix removes the "u:" or "o:" prefix from Clerk Commerce values.
func stripClerkPrefix(s string) string {
	s = strings.TrimPrefix(s, "u:")
	s = strings.TrimPrefix(s, "o:")
	return s
}

// jwksTTL is how long fetched signing keys are trusted before a refetch.
const jwksTTL = time.Hour

// clockSkew tolerates small clock differences with Clerk.
const clockSkew = 5 * time.Second

// ClerkVerifier verifies Clerk session JWTs against the instance JWKS.
type ClerkVerifier struct {
	issuer     string
	jwksURL    string
	httpClient *http.Client
	keyCache   *jwksCache
}

// jwksCache caches the JWKS keys.
type jwksCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// NewClerkVerifier creates a new Clerk JWT verifier.
// The issuer is typically "https://<your-clerk-frontend-api>.clerk.accounts.dev"
func NewClerkVerifier(issuer string) *ClerkVerifier {
	issuer = strings.TrimSuffix(issuer, "/")

	return &ClerkVerifier{
		issuer:  issuer,
		jwksURL: issuer + "/.well-known/jwks.json",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		keyCache: &jwksCache{
			keys: make(map[string]*rsa.PublicKey),
		},
	}
}

// VerifyToken verifies a Clerk JWT and returns the claims.
func (v *ClerkVerifier) VerifyToken(ctx context.Context, tokenString string) (*ClerkClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ClerkClaims{}, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("missing key ID in token header")
		}
		return v.getPublicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*ClerkClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrMissingClaims
	}

	return claims, nil
}

// getPublicKey returns a cached key, refetching the JWKS on a miss or expiry.
func (v *ClerkVerifier) getPublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.keyCache.mu.RLock()
	if key, ok := v.keyCache.keys[kid]; ok && time.Now().Before(v.keyCache.expiresAt) {
		v.keyCache.mu.RUnlock()
		return key, nil
	}
	v.keyCache.mu.RUnlock()

	if err := v.refreshJWKS(ctx, kid); err != nil {
		return nil, err
	}

	v.keyCache.mu.RLock()
	defer v.keyCache.mu.RUnlock()

	key, ok := v.keyCache.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}
	return key, nil
}

// refreshJWKS fetches the JWKS and replaces the cached keys.
func (v *ClerkVerifier) refreshJWKS(ctx context.Context, kid string) error {
	v.keyCache.mu.Lock()
	defer v.keyCache.mu.Unlock()

	// Another goroutine may have refreshed while we waited
	if _, ok := v.keyCache.keys[kid]; ok && time.Now().Before(v.keyCache.expiresAt) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetch, err)
	}
	req.Header.Set("User-Agent", version.Get().UserAgent())
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrJWKSFetch, resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetch, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}

	v.keyCache.keys = keys
	v.keyCache.expiresAt = time.Now().Add(jwksTTL)
	return nil
}

// parseRSAPublicKey parses an RSA public key from base64url-encoded N and E values.
func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	// Decode N (modulus)
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)

	// Decode E (exponent)
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, err
	}
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// ContextKey is a type for context keys.
type ContextKey string

const (
	// ClerkClaimsKey is the context key for Clerk claims.
	ClerkClaimsKey ContextKey = "clerk_claims"
)

// GetClaimsFromContext retrieves Clerk claims from context.
func GetClaimsFromContext(ctx context.Context) *ClerkClaims {
	claims, ok := ctx.Value(ClerkClaimsKey).(*ClerkClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *ClerkClaims) context.Context {
	return context.WithValue(ctx, ClerkClaimsKey, claims)
}
