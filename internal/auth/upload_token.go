package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// uploadTokenIssuer is the iss claim of collector upload tokens.
const uploadTokenIssuer = "flipdeck-api/collector"

// UploadClaims authorise a collector to report on a single job.
type UploadClaims struct {
	jwt.RegisteredClaims
	JobID  string `json:"jid"`
	TaskID string `json:"tid"`
}

// UploadTokenIssuer signs and verifies collector upload tokens (HS256).
type UploadTokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewUploadTokenIssuer creates an issuer. key must be the derived signing key.
func NewUploadTokenIssuer(key []byte, ttl time.Duration) *UploadTokenIssuer {
	return &UploadTokenIssuer{
		key: key,
		ttl: ttl,
		now: time.Now,
	}
}

// Issue returns a token bound to userID, jobID and taskID.
func (i *UploadTokenIssuer) Issue(userID, jobID, taskID string) (string, time.Time, error) {
	if len(i.key) == 0 {
		return "", time.Time{}, errors.New("upload token key not configured")
	}

	now := i.now()
	exp := now.Add(i.ttl)
	claims := UploadClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    uploadTokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		JobID:  jobID,
		TaskID: taskID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign upload token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses a token and checks that it was issued for jobID.
func (i *UploadTokenIssuer) Verify(tokenString, jobID string) (*UploadClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UploadClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(uploadTokenIssuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*UploadClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.JobID == "" {
		return nil, ErrMissingClaims
	}
	if claims.JobID != jobID {
		return nil, fmt.Errorf("%w: token not issued for this job", ErrInvalidToken)
	}
	return claims, nil
}
