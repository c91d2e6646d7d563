// Package auth resolves the caller behind a request and decides whether the
// caller may perform the operation the request maps to.
//
// Two modes exist. In API-key mode, keys come from a name:key:role table; an
// empty table disables authentication and every caller becomes an implicit
// admin. In session mode, an identity provider returns user and organization
// claims and the organization role maps onto the admin and member tiers.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"procodus.dev/iot-dashboard/internal/apierr"
)

// Mode selects how callers authenticate.
type Mode string

const (
	ModeAPIKey  Mode = "apikey"
	ModeSession Mode = "session"
)

// ParseMode parses a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeAPIKey:
		return ModeAPIKey, nil
	case ModeSession:
		return m, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q", s)
	}
}

// apiKeyHeader carries API keys for clients that cannot set Authorization.
const apiKeyHeader = "X-API-Key"

// Config configures an Authenticator.
type Config struct {
	Mode Mode
	// Keys is required in API-key mode.
	Keys *KeyTable
	// Provider is required in session mode.
	Provider IdentityProvider
	// DefaultOrg is the tenant of API-key callers.
	DefaultOrg string
	Logger     *slog.Logger
}

// Authenticator resolves an auth Context from a request.
type Authenticator struct {
	mode       Mode
	keys       *KeyTable
	provider   IdentityProvider
	defaultOrg string
	log        *slog.Logger
}

// NewAuthenticator validates cfg and builds an Authenticator.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAPIKey
	}
	switch mode {
	case ModeAPIKey:
		if cfg.Keys == nil {
			return nil, errors.New("key table cannot be nil in apikey mode")
		}
	case ModeSession:
		if cfg.Provider == nil {
			return nil, errors.New("identity provider cannot be nil in session mode")
		}
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}

	org := cfg.DefaultOrg
	if org == "" {
		org = "default"
	}

	a := &Authenticator{
		mode:       mode,
		keys:       cfg.Keys,
		provider:   cfg.Provider,
		defaultOrg: org,
		log:        cfg.Logger.With("component", "auth", "mode", string(mode)),
	}
	if mode == ModeAPIKey {
		if err := cfg.Keys.Err(); err != nil {
			a.log.Warn("ignoring malformed API key entries", "error", err)
		}
		if cfg.Keys.Len() == 0 {
			a.log.Warn("no API keys configured, authentication is disabled and every caller is admin")
		}
	}
	return a, nil
}

// Mode returns the configured mode.
func (a *Authenticator) Mode() Mode {
	return a.mode
}

// DefaultOrg returns the tenant assigned to API-key callers.
func (a *Authenticator) DefaultOrg() string {
	return a.defaultOrg
}

// Resolve authenticates the request. Missing or rejected credentials are a
// 401; identity provider failures are a 500.
func (a *Authenticator) Resolve(r *http.Request) (*Context, error) {
	var (
		ac  *Context
		err error
	)
	if a.mode == ModeSession {
		ac, err = a.resolveSession(r)
	} else {
		ac, err = a.resolveAPIKey(r)
	}
	if err == nil {
		return ac, nil
	}

	switch {
	case errors.Is(err, ErrNoCredentials):
		return nil, apierr.Unauthorized("authentication required").Wrap(err)
	case errors.Is(err, ErrInvalidCredentials):
		return nil, apierr.Unauthorized("invalid credentials").Wrap(err)
	default:
		return nil, apierr.Internal(err)
	}
}

// ResolveOptional authenticates the request when it can and otherwise
// returns the anonymous identity. Invalid credentials downgrade silently.
func (a *Authenticator) ResolveOptional(r *http.Request) *Context {
	ac, err := a.Resolve(r)
	if err != nil {
		if !errors.Is(err, ErrNoCredentials) {
			a.log.Debug("optional auth downgraded to anonymous", "error", err)
		}
		return Anonymous(a.defaultOrg)
	}
	return ac
}

func (a *Authenticator) resolveAPIKey(r *http.Request) (*Context, error) {
	if a.keys.Len() == 0 {
		return &Context{
			Name:          LocalAdminName,
			OrgID:         a.defaultOrg,
			Role:          RoleAdmin,
			Authenticated: true,
			Method:        MethodDisabled,
		}, nil
	}

	presented := BearerToken(r)
	if presented == "" {
		presented = strings.TrimSpace(r.Header.Get(apiKeyHeader))
	}
	if presented == "" {
		return nil, ErrNoCredentials
	}

	key, ok := a.keys.Lookup(presented)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return &Context{
		Name:          key.Name,
		UserID:        key.Name,
		OrgID:         a.defaultOrg,
		Role:          key.Role,
		Authenticated: true,
		Method:        MethodAPIKey,
	}, nil
}

func (a *Authenticator) resolveSession(r *http.Request) (*Context, error) {
	id, err := a.provider.Identify(r.Context(), r)
	if err != nil {
		return nil, err
	}
	if id.OrgID == "" {
		return nil, fmt.Errorf("%w: no active organization", ErrInvalidCredentials)
	}
	return &Context{
		Name:          id.Name,
		UserID:        id.UserID,
		OrgID:         id.OrgID,
		Role:          OrgRole(id.OrgRole),
		Authenticated: true,
		Method:        MethodSession,
	}, nil
}

// Policy decides whether an auth Context may perform a request.
type Policy struct {
	// DefaultDeny rejects requests whose method and path map to no
	// permission. When false such requests are open.
	DefaultDeny bool
}

// Authorize returns nil when ac may call method on path, a 401 when a
// permission is required but the caller is anonymous, and a 403 naming the
// missing permission otherwise.
func (p Policy) Authorize(ac *Context, method, path string) error {
	perm, mapped := Required(method, path)
	if !mapped {
		if p.DefaultDeny {
			return apierr.Forbidden("")
		}
		return nil
	}
	if ac == nil || !ac.Authenticated {
		return apierr.Unauthorized("authentication required").WithMeta("permission", string(perm))
	}
	if !ac.Can(perm) {
		return apierr.Forbidden(string(perm))
	}
	return nil
}
