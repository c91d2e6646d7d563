package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrNoCredentials means the request carried no credentials at all.
	ErrNoCredentials = errors.New("no credentials presented")
	// ErrInvalidCredentials means credentials were presented but rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is what an identity provider knows about a session.
type Identity struct {
	UserID  string `json:"id"`
	Name    string `json:"name"`
	OrgID   string `json:"org_id"`
	OrgRole string `json:"org_role"`
}

// IdentityProvider resolves the session behind a request. It returns
// ErrNoCredentials or ErrInvalidCredentials (possibly wrapped) for caller
// problems and any other error for provider failures.
type IdentityProvider interface {
	Identify(ctx context.Context, r *http.Request) (*Identity, error)
}

// sessionCookie carries session tokens for browser clients.
const sessionCookie = "session"

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
