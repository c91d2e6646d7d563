package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// sessionPath is the identity provider endpoint returning the current session.
const sessionPath = "/api/session"

type remoteSession struct {
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	Organization struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"organization"`
}

// RemoteProvider asks an external identity provider about the session by
// forwarding the caller's Authorization and Cookie headers.
type RemoteProvider struct {
	client *resty.Client
}

// NewRemoteProvider creates a provider for the identity service at baseURL.
func NewRemoteProvider(baseURL string, timeout time.Duration) (*RemoteProvider, error) {
	if baseURL == "" {
		return nil, errors.New("identity provider URL cannot be empty")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &RemoteProvider{client: client}, nil
}

// Identify implements IdentityProvider.
func (p *RemoteProvider) Identify(ctx context.Context, r *http.Request) (*Identity, error) {
	authz := r.Header.Get("Authorization")
	cookie := r.Header.Get("Cookie")
	if authz == "" && cookie == "" {
		return nil, ErrNoCredentials
	}

	req := p.client.R().SetContext(ctx).SetResult(&remoteSession{})
	if authz != "" {
		req.SetHeader("Authorization", authz)
	}
	if cookie != "" {
		req.SetHeader("Cookie", cookie)
	}

	resp, err := req.Get(sessionPath)
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, ErrInvalidCredentials
	case resp.IsError():
		return nil, fmt.Errorf("identity provider returned status %d", code)
	}

	s, ok := resp.Result().(*remoteSession)
	if !ok || s.User.ID == "" {
		return nil, ErrInvalidCredentials
	}
	name := s.User.Name
	if name == "" {
		name = s.User.ID
	}
	return &Identity{
		UserID:  s.User.ID,
		Name:    name,
		OrgID:   s.Organization.ID,
		OrgRole: s.Organization.Role,
	}, nil
}
