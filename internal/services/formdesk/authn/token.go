// Package authn verifies and issues the bearer tokens that identify callers.
package authn

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/formdesk/internal/platform/requestctx"
)

// ErrMissingSubject is returned for tokens without a subject claim.
var ErrMissingSubject = errors.New("token subject is required")

// Claims is the bearer token payload. The registered subject is the user id.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens signed with a shared secret.
type TokenVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenVerifier returns a verifier for secret. A non-empty issuer must
// match the token's iss claim.
func NewTokenVerifier(secret, issuer string) (*TokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &TokenVerifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer), now: time.Now}, nil
}

// Verify parses raw and returns the subject it names.
func (v *TokenVerifier) Verify(raw string) (requestctx.Subject, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return requestctx.Subject{}, fmt.Errorf("parse token: %w", err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return requestctx.Subject{}, ErrMissingSubject
	}
	return requestctx.Subject{UserID: claims.Subject, Roles: claims.Roles}, nil
}

// Sign issues a token for subject valid for ttl.
func (v *TokenVerifier) Sign(subject requestctx.Subject, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject.UserID) == "" {
		return "", ErrMissingSubject
	}
	now := v.now()
	claims := Claims{
		Roles: subject.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseBearer returns the token of an "Authorization: Bearer" value, or ""
// for any other scheme.
func ParseBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
