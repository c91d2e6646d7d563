package pipeline

import (
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"procodus.dev/iot-dashboard/internal/apierr"
)

// RequestOptions configures the RequestValidation stage.
type RequestOptions struct {
	// ContentTypes is the media type allow-list for POST, PUT and PATCH.
	// Empty means JSON only.
	ContentTypes []string
	// RequiredHeaders must be present on every request.
	RequiredHeaders []string
	// BodyLimit overrides the per-path ceiling.
	BodyLimit int64
	// AllowedQuery rejects any other query key when non-nil.
	AllowedQuery []string
}

var defaultContentTypes = []string{"application/json"}

// RequestValidation checks headers, the declared body size and the query
// keys before any other work is done.
func RequestValidation(opts RequestOptions) Stage {
	allowedTypes := opts.ContentTypes
	if len(allowedTypes) == 0 {
		allowedTypes = defaultContentTypes
	}
	var allowedQuery map[string]struct{}
	if opts.AllowedQuery != nil {
		allowedQuery = make(map[string]struct{}, len(opts.AllowedQuery))
		for _, k := range opts.AllowedQuery {
			allowedQuery[k] = struct{}{}
		}
	}

	return StageFunc("request", func(rc *RequestContext) error {
		r := rc.Request
		if err := checkHeaders(r, allowedTypes, opts.RequiredHeaders); err != nil {
			return err
		}

		limit := opts.BodyLimit
		if limit <= 0 {
			limit = BodyLimitForPath(rc.Path)
		}
		rc.BodyLimit = limit
		if err := checkBodySize(r, limit); err != nil {
			return err
		}

		if allowedQuery != nil {
			return checkQuery(r, allowedQuery)
		}
		return nil
	})
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func checkHeaders(r *http.Request, allowed, required []string) error {
	for _, h := range required {
		if r.Header.Get(h) == "" {
			return apierr.BadRequest("missing required header " + h).WithMeta("header", h)
		}
	}
	if !hasBody(r.Method) {
		return nil
	}

	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return apierr.BadRequest("Content-Type header is required").WithMeta("header", "Content-Type")
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return apierr.UnsupportedMediaType(ct, allowed)
	}
	for _, a := range allowed {
		if strings.EqualFold(mediaType, a) {
			return nil
		}
	}
	return apierr.UnsupportedMediaType(ct, allowed)
}

// checkBodySize compares the declared length with limit. A request without a
// declared length is bounded later when the body is read.
func checkBodySize(r *http.Request, limit int64) error {
	length := r.ContentLength
	if raw := r.Header.Get("Content-Length"); raw != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || n < 0 {
			return apierr.BadRequest("invalid Content-Length header").WithMeta("header", "Content-Length")
		}
		length = n
	}
	if length > limit {
		return apierr.PayloadTooLarge(limit)
	}
	return nil
}

func checkQuery(r *http.Request, allowed map[string]struct{}) error {
	var unknown []string
	for k := range r.URL.Query() {
		if _, ok := allowed[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return apierr.InvalidQueryParam("unknown query parameters: "+strings.Join(unknown, ", "), unknown...)
}
