// Package sanitize cleans untrusted JSON-like input before it reaches schema
// validation or the database.
//
// Sanitization never fails: unsafe keys are dropped, strings are trimmed and
// stripped of control characters, non-finite numbers become 0 and anything
// nested deeper than the configured depth is discarded. Rejecting malformed
// data is left to validation.
package sanitize

import (
	"html"
	"math"
	"strings"
	"time"
	"unicode"
)

// DefaultMaxDepth bounds recursion for adversarial nesting.
const DefaultMaxDepth = 10

// unsafeKeys are prototype-chain accessor names.
var unsafeKeys = map[string]struct{}{
	"__proto__":        {},
	"constructor":      {},
	"prototype":        {},
	"__defineGetter__": {},
	"__defineSetter__": {},
	"__lookupGetter__": {},
	"__lookupSetter__": {},
}

// operatorSigil prefixes database query operators.
const operatorSigil = "$"

// operatorDenylist holds operator names that arrive without the sigil.
var operatorDenylist = map[string]struct{}{
	"where":     {},
	"mapReduce": {},
	"eval":      {},
}

// Options controls sanitization.
type Options struct {
	// MaxDepth is the deepest nesting level retained (default 10).
	MaxDepth int
	// StripOperators drops query operator keys.
	StripOperators bool
	// EscapeHTML HTML-escapes string leaves. Escaping is not idempotent.
	EscapeHTML bool
}

// DefaultOptions returns the options used for request bodies.
func DefaultOptions() Options {
	return Options{
		MaxDepth:       DefaultMaxDepth,
		StripOperators: true,
	}
}

// Value sanitizes an arbitrary decoded JSON value.
func Value(v any, opts Options) any {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return walk(v, 0, opts)
}

// Map sanitizes a decoded JSON object.
func Map(m map[string]any, opts Options) map[string]any {
	out, _ := Value(m, opts).(map[string]any)
	if out == nil {
		return map[string]any{}
	}
	return out
}

// String trims and strips control characters from a single string.
func String(s string, opts Options) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if opts.EscapeHTML {
		s = html.EscapeString(s)
	}
	return s
}

func walk(v any, depth int, opts Options) any {
	if depth > opts.MaxDepth {
		return nil
	}

	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if dropKey(k, opts) {
				continue
			}
			out[k] = walk(child, depth+1, opts)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = walk(child, depth+1, opts)
		}
		return out
	case string:
		return String(t, opts)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return float64(0)
		}
		return t
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return float32(0)
		}
		return t
	case time.Time, *time.Time:
		return t
	default:
		return v
	}
}

func dropKey(k string, opts Options) bool {
	if _, ok := unsafeKeys[k]; ok {
		return true
	}
	if !opts.StripOperators {
		return false
	}
	if strings.HasPrefix(k, operatorSigil) {
		return true
	}
	_, ok := operatorDenylist[k]
	return ok
}
