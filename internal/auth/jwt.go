package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims are the claims of a signed session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Name    string `json:"name"`
	OrgID   string `json:"org_id"`
	OrgRole string `json:"org_role"`
}

// JWTProvider validates HS256 session tokens from the Authorization header or
// the session cookie.
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider creates a provider for tokens signed with secret.
func NewJWTProvider(secret string) (*JWTProvider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	return &JWTProvider{secret: []byte(secret)}, nil
}

// Issue signs a session token for id, valid for ttl.
func (p *JWTProvider) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Name:    id.Name,
		OrgID:   id.OrgID,
		OrgRole: id.OrgRole,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Identify implements IdentityProvider.
func (p *JWTProvider) Identify(_ context.Context, r *http.Request) (*Identity, error) {
	raw := BearerToken(r)
	if raw == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return nil, ErrNoCredentials
	}

	token, err := jwt.ParseWithClaims(raw, &SessionClaims{}, func(_ *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return &Identity{
		UserID:  claims.Subject,
		Name:    name,
		OrgID:   claims.OrgID,
		OrgRole: claims.OrgRole,
	}, nil
}
