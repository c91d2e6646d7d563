package validation

import (
	"net/url"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"procodus.dev/iot-dashboard/internal/apierr"
	"procodus.dev/iot-dashboard/internal/sanitize"
)

// ValidateQuery decodes a query string into the schema T. Every value
// arrives as a string and is coerced to the field type; repeated keys become
// lists. Query schemas use `query` struct tags.
func ValidateQuery[T any](val *Validator, q url.Values) Result[T] {
	input := queryMap(q)

	var out T
	if err := decodeQuery(input, &out); err != nil {
		return Result[T]{Errors: locateQueryErrors[T](input)}
	}

	if errs := val.Struct(&out); len(errs) > 0 {
		return Result[T]{Errors: errs}
	}
	return Result[T]{Success: true, Data: out}
}

// ValidateQueryOrThrow is ValidateQuery with fail-fast propagation.
func ValidateQueryOrThrow[T any](val *Validator, q url.Values) (T, error) {
	res := ValidateQuery[T](val, q)
	if !res.Success {
		var zero T
		return zero, apierr.Validation(res.Errors)
	}
	return res.Data, nil
}

func queryMap(q url.Values) map[string]any {
	m := make(map[string]any, len(q))
	for k, vs := range q {
		switch len(vs) {
		case 0:
		case 1:
			m[k] = vs[0]
		default:
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			m[k] = list
		}
	}
	return sanitize.Map(m, sanitize.DefaultOptions())
}

func decodeQuery(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "query",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// locateQueryErrors decodes keys one at a time so every malformed parameter
// is reported, not only the first.
func locateQueryErrors[T any](input map[string]any) []apierr.FieldError {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []apierr.FieldError
	for _, k := range keys {
		var probe T
		if err := decodeQuery(map[string]any{k: input[k]}, &probe); err != nil {
			errs = append(errs, apierr.FieldError{
				Path:     k,
				Message:  "invalid value",
				Code:     "invalid_type",
				Received: receivedQuery(input[k]),
			})
		}
	}
	if len(errs) == 0 {
		errs = append(errs, apierr.FieldError{Message: "invalid query string", Code: "invalid_type"})
	}
	return errs
}

func receivedQuery(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "multiple values"
}
