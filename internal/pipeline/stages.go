package pipeline

import (
	"bytes"
	"encoding/json"
	"strconv"

	"procodus.dev/iot-dashboard/internal/apierr"
	"procodus.dev/iot-dashboard/internal/auth"
	"procodus.dev/iot-dashboard/internal/ratelimit"
)

// Stage is one step of the request pipeline. A non-nil error
// short-circuits the request and is rendered as the response.
type Stage interface {
	Name() string
	Process(rc *RequestContext) error
}

type stageFunc struct {
	name string
	fn   func(rc *RequestContext) error
}

func (s stageFunc) Name() string                     { return s.name }
func (s stageFunc) Process(rc *RequestContext) error { return s.fn(rc) }

// StageFunc adapts a function into a Stage.
func StageFunc(name string, fn func(rc *RequestContext) error) Stage {
	return stageFunc{name: name, fn: fn}
}

// Authenticate resolves the caller. Required authentication rejects
// requests without valid credentials; optional authentication downgrades
// them to the anonymous identity.
func Authenticate(a *auth.Authenticator, required bool) Stage {
	if !required {
		return StageFunc("auth", func(rc *RequestContext) error {
			rc.Auth = a.ResolveOptional(rc.Request)
			return nil
		})
	}
	return StageFunc("auth", func(rc *RequestContext) error {
		ac, err := a.Resolve(rc.Request)
		if err != nil {
			return err
		}
		rc.Auth = ac
		return nil
	})
}

// Authorize checks the caller against the permission the method and path
// map to.
func Authorize(p auth.Policy) Stage {
	return StageFunc("authorize", func(rc *RequestContext) error {
		return p.Authorize(rc.Auth, rc.Method, rc.Path)
	})
}

// Require checks for one explicit permission, regardless of the route table.
func Require(perm auth.Permission) Stage {
	return StageFunc("permission", func(rc *RequestContext) error {
		if rc.Auth == nil || !rc.Auth.Authenticated {
			return apierr.Unauthorized("authentication required").WithMeta("permission", string(perm))
		}
		if !rc.Auth.Can(perm) {
			return apierr.Forbidden(string(perm))
		}
		return nil
	})
}

// Identify extracts the rate-limit identifier of a request. ok=false skips
// the limit for that request.
type Identify func(rc *RequestContext) (id string, ok bool)

// LimitSpec is one limit applied by the RateLimit stage.
type LimitSpec struct {
	Rule     ratelimit.Rule
	Identify Identify
}

// ByClientIP identifies callers by address.
func ByClientIP(rc *RequestContext) (string, bool) {
	return "ip:" + rc.ClientIP(), true
}

// ByCaller identifies authenticated callers by user and everyone else by
// address.
func ByCaller(rc *RequestContext) (string, bool) {
	if rc.Auth != nil && rc.Auth.Authenticated && rc.Auth.UserID != "" {
		return "user:" + rc.Auth.OrgID + ":" + rc.Auth.UserID, true
	}
	return ByClientIP(rc)
}

// ByDevice identifies ingestion requests by the device_id of the JSON body,
// falling back to the X-Device-ID header.
func ByDevice(rc *RequestContext) (string, bool) {
	if raw, err := rc.RawBody(); err == nil && len(raw) > 0 {
		var peek struct {
			DeviceID string `json:"device_id"`
		}
		if json.NewDecoder(bytes.NewReader(raw)).Decode(&peek) == nil && peek.DeviceID != "" {
			return "device:" + rc.Org() + ":" + peek.DeviceID, true
		}
	}
	if id := rc.Request.Header.Get("X-Device-ID"); id != "" {
		return "device:" + rc.Org() + ":" + id, true
	}
	return "", false
}

// Rate-limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// RateLimit checks every spec in parallel and rejects with 429 when any is
// exhausted. The binding limit is reported in the X-RateLimit headers.
func RateLimit(l *ratelimit.Limiter, specs ...LimitSpec) Stage {
	return StageFunc("ratelimit", func(rc *RequestContext) error {
		if l == nil || !l.Enabled() {
			return nil
		}

		limits := make([]ratelimit.Limit, 0, len(specs))
		for _, s := range specs {
			if id, ok := s.Identify(rc); ok {
				limits = append(limits, ratelimit.Limit{Identifier: id, Rule: s.Rule})
			}
		}
		if len(limits) == 0 {
			return nil
		}

		res := l.CheckMultiple(rc.Context(), limits)
		h := rc.Header()
		h.Set(HeaderLimit, strconv.Itoa(res.Limit))
		h.Set(HeaderRemaining, strconv.Itoa(res.Remaining))
		h.Set(HeaderReset, strconv.Itoa(res.ResetIn))
		if res.Allowed {
			return nil
		}

		h.Set(HeaderRetryAfter, strconv.Itoa(res.RetryAfter))
		return apierr.RateLimited(res.RetryAfter).WithMeta("rule", res.Rule)
	})
}
