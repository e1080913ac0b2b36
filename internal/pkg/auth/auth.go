// Package auth issues and verifies the bearer tokens field clients use, and
// carries the authenticated user through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/samirrijal/groundsync/internal/core/domain"
)

// Claims is the token payload. The subject is the user id.
type Claims struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier signs and checks HS256 tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue returns a signed token for u valid for ttl.
func (v *Verifier) Issue(u domain.User, ttl time.Duration) (string, error) {
	if u.ID == "" {
		return "", errors.New("user id is required")
	}
	now := v.now()
	claims := Claims{
		Email:       u.Email,
		DisplayName: u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
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

// Verify parses token and returns the user it names. Any failure wraps
// domain.ErrUnauthenticated.
func (v *Verifier) Verify(token string) (domain.User, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return domain.User{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	}
	return domain.User{ID: claims.Subject, Email: claims.Email, DisplayName: claims.DisplayName}, nil
}

type userKey struct{}

// WithUser attaches u to ctx.
func WithUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user attached by WithUser.
func UserFromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(userKey{}).(domain.User)
	return u, ok
}

// ContextResolver resolves the current user from the request context.
type ContextResolver struct{}

func (ContextResolver) CurrentUser(ctx context.Context) (domain.User, error) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return domain.User{}, domain.ErrUnauthenticated
	}
	return u, nil
}
