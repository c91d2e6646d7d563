package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"procodus.dev/iot-dashboard/internal/apierr"
	"procodus.dev/iot-dashboard/internal/sanitize"
)

// DefaultBodyLimit is the body ceiling applied when none is given.
const DefaultBodyLimit int64 = 1 << 20

// ParseBody reads a JSON document of at most limit bytes and returns it
// sanitized. Bodies without a Content-Length are bounded here.
func ParseBody(r io.Reader, limit int64) (any, error) {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, apierr.InvalidBody("failed to read request body").Wrap(err)
	}
	if int64(len(raw)) > limit {
		return nil, apierr.PayloadTooLarge(limit)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apierr.InvalidBody("request body is empty")
	}

	var data any
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&data); err != nil {
		return nil, apierr.InvalidBody("malformed JSON: " + err.Error())
	}
	if dec.More() {
		return nil, apierr.InvalidBody("malformed JSON: trailing data after document")
	}

	return sanitize.Value(data, sanitize.DefaultOptions()), nil
}

// ValidateBody binds already-parsed JSON data to the schema T and validates
// it. A field of the wrong JSON type does not stop validation: it is reported
// as invalid_type and the remaining fields are still checked.
func ValidateBody[T any](val *Validator, data any) Result[T] {
	var out T

	raw, err := json.Marshal(data)
	if err != nil {
		return Result[T]{Errors: []apierr.FieldError{{Message: "body is not representable as JSON", Code: "invalid"}}}
	}
	bindErr := json.Unmarshal(raw, &out)
	if bindErr == nil {
		if errs := val.Struct(&out); len(errs) > 0 {
			return Result[T]{Errors: errs}
		}
		return Result[T]{Success: true, Data: out}
	}

	obj, ok := data.(map[string]any)
	if !ok {
		return Result[T]{Errors: []apierr.FieldError{bindError(bindErr)}}
	}

	errs, bad := locateBindErrors[T](obj)
	if len(errs) == 0 {
		errs = []apierr.FieldError{bindError(bindErr)}
	}

	rest := make(map[string]any, len(obj))
	for k, v := range obj {
		if _, skip := bad[k]; !skip {
			rest[k] = v
		}
	}
	var partial T
	if b, err := json.Marshal(rest); err == nil && json.Unmarshal(b, &partial) == nil {
		// Refinements are skipped: they would judge a body with fields missing.
		for _, fe := range val.fields(&partial) {
			if !underAny(fe.Path, bad) {
				errs = append(errs, fe)
			}
		}
	}
	return Result[T]{Errors: errs}
}

// ValidateBodyOrThrow is ValidateBody with fail-fast propagation as a typed
// VALIDATION_ERROR carrying the full error list.
func ValidateBodyOrThrow[T any](val *Validator, data any) (T, error) {
	res := ValidateBody[T](val, data)
	if !res.Success {
		var zero T
		return zero, apierr.Validation(res.Errors)
	}
	return res.Data, nil
}

// DecodeBody parses, sanitizes and validates a request body in one step.
func DecodeBody[T any](val *Validator, r io.Reader, limit int64) (T, error) {
	data, err := ParseBody(r, limit)
	if err != nil {
		var zero T
		return zero, err
	}
	return ValidateBodyOrThrow[T](val, data)
}

// locateBindErrors binds keys one at a time and returns the error of every
// key that cannot bind, plus the set of those keys.
func locateBindErrors[T any](obj map[string]any) ([]apierr.FieldError, map[string]struct{}) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []apierr.FieldError
	bad := make(map[string]struct{})
	for _, k := range keys {
		b, err := json.Marshal(map[string]any{k: obj[k]})
		if err != nil {
			continue
		}
		var probe T
		if err := json.Unmarshal(b, &probe); err != nil {
			fe := bindError(err)
			if fe.Path == "" {
				fe.Path = k
			}
			errs = append(errs, fe)
			bad[k] = struct{}{}
		}
	}
	return errs, bad
}

// underAny reports whether path is one of keys or nested below one.
func underAny(path string, keys map[string]struct{}) bool {
	for k := range keys {
		if path == k || strings.HasPrefix(path, k+".") || strings.HasPrefix(path, k+"[") {
			return true
		}
	}
	return false
}

func bindError(err error) apierr.FieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return apierr.FieldError{
			Path:     typeErr.Field,
			Message:  fmt.Sprintf("expected %s", typeErr.Type),
			Code:     "invalid_type",
			Expected: typeErr.Type.String(),
			Received: typeErr.Value,
		}
	}
	return apierr.FieldError{Message: err.Error(), Code: "invalid"}
}
