// Package identity verifies bearer credentials into principals.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
)

// Claims carries the principal fields the service cares about.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

var _ core.Identity = (*Verifier)(nil)

func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), ttl: ttl}
}

func (v *Verifier) Verify(_ context.Context, credential string) (*domain.Principal, error) {
	if credential == "" {
		return nil, fmt.Errorf("missing credential: %w", core.ErrConnectionRejected)
	}
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation (%v): %w", err, core.ErrConnectionRejected)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token invalid: %w", core.ErrConnectionRejected)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type: %w", core.ErrConnectionRejected)
	}
	p, err := domain.NewPrincipal(claims.Subject, claims.Name)
	if err != nil {
		return nil, fmt.Errorf("principal from claims: %v: %w", err, core.ErrConnectionRejected)
	}
	return p, nil
}

// Issue mints a token for the login endpoint.
func (v *Verifier) Issue(subject, name string) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
