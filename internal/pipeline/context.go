package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"procodus.dev/iot-dashboard/internal/apierr"
	"procodus.dev/iot-dashboard/internal/auth"
	"procodus.dev/iot-dashboard/internal/validation"
)

// RequestContext carries one request through the stages and the handler.
// It is not safe for concurrent use.
type RequestContext struct {
	TraceID string
	Method  string
	Path    string
	// Route is the registered pattern, used as the metrics label.
	Route string
	Start time.Time
	// Auth is nil until an authentication stage runs.
	Auth *auth.Context
	// BodyLimit bounds RawBody. Zero selects the limit for Path.
	BodyLimit int64

	Request *http.Request
	Logger  *slog.Logger

	header   http.Header
	clientIP string
	raw      []byte
	rawErr   error
	rawRead  bool
}

// Context returns the request context.
func (rc *RequestContext) Context() context.Context {
	return rc.Request.Context()
}

// Header holds response headers. They are written on success and on error.
func (rc *RequestContext) Header() http.Header {
	return rc.header
}

// Org returns the caller's organization, or the empty string before
// authentication.
func (rc *RequestContext) Org() string {
	if rc.Auth == nil {
		return ""
	}
	return rc.Auth.OrgID
}

// RawBody reads the request body once, bounded by BodyLimit. Later calls
// return the same bytes.
func (rc *RequestContext) RawBody() ([]byte, error) {
	if rc.rawRead {
		return rc.raw, rc.rawErr
	}
	rc.rawRead = true

	limit := rc.BodyLimit
	if limit <= 0 {
		limit = BodyLimitForPath(rc.Path)
	}
	if rc.Request.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(rc.Request.Body, limit+1))
	switch {
	case err != nil:
		rc.rawErr = apierr.InvalidBody("failed to read request body").Wrap(err)
	case int64(len(raw)) > limit:
		rc.rawErr = apierr.PayloadTooLarge(limit)
	default:
		rc.raw = raw
	}
	return rc.raw, rc.rawErr
}

// Query returns the parsed query string.
func (rc *RequestContext) Query() map[string][]string {
	return rc.Request.URL.Query()
}

// PathValue returns a path wildcard of the matched route.
func (rc *RequestContext) PathValue(name string) string {
	return rc.Request.PathValue(name)
}

// ClientIP returns the caller address resolved when the request entered
// the driver.
func (rc *RequestContext) ClientIP() string {
	if rc.clientIP == "" {
		rc.clientIP = ClientIP(rc.Request, nil)
	}
	return rc.clientIP
}

// ClientIP extracts the caller address from r. Forwarding headers are only
// believed when the connection comes from a trusted proxy; X-Forwarded-For
// is then walked right to left and the first untrusted hop wins.
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if i == 0 || !isTrusted(hops[i], trusted) {
			return hops[i]
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies parses proxy addresses and CIDR ranges.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Body size ceilings.
const (
	DefaultBodyLimit = validation.DefaultBodyLimit
	BulkBodyLimit    = 10 << 20
)

// BodyLimitForPath returns the body ceiling for a request path. Bulk
// ingestion paths get the larger limit.
func BodyLimitForPath(path string) int64 {
	if strings.HasSuffix(strings.TrimSuffix(path, "/"), "/bulk") {
		return BulkBodyLimit
	}
	return DefaultBodyLimit
}
