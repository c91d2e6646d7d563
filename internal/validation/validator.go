// Package validation validates request bodies, query strings and single
// values against declarative struct schemas and reports every violation as
// a structured field error.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"procodus.dev/iot-dashboard/internal/apierr"
)

// Refiner is implemented by schemas with cross-field rules. Refine runs only
// after every per-field check has passed.
type Refiner interface {
	Refine() []apierr.FieldError
}

// Result is the outcome of a validation.
type Result[T any] struct {
	Success bool
	Data    T
	Errors  []apierr.FieldError
}

// Validator wraps a configured validator instance. It is safe for
// concurrent use.
type Validator struct {
	v *validator.Validate
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

// New creates a Validator with the schema tag conventions used by the API:
// field paths come from `json` tags, falling back to `query` tags.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})

	//nolint:errcheck // Registration only fails for empty tags
	v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})

	return &Validator{v: v}
}

// Struct runs per-field checks and, if they pass, cross-field refinements.
func (val *Validator) Struct(s any) []apierr.FieldError {
	if errs := val.fields(s); len(errs) > 0 {
		return errs
	}
	if r, ok := s.(Refiner); ok {
		return r.Refine()
	}
	return nil
}

func (val *Validator) fields(s any) []apierr.FieldError {
	if err := val.v.Struct(s); err != nil {
		return translate(err, "")
	}
	return nil
}

// Value validates a single scalar against a tag expression, reporting
// errors under the given field name.
func (val *Validator) Value(value any, tag, field string) []apierr.FieldError {
	if err := val.v.Var(value, tag); err != nil {
		return translate(err, field)
	}
	return nil
}

// ValueOrThrow is Value with fail-fast propagation.
func (val *Validator) ValueOrThrow(value any, tag, field string) error {
	if errs := val.Value(value, tag, field); len(errs) > 0 {
		return apierr.Validation(errs)
	}
	return nil
}

func translate(err error, fieldOverride string) []apierr.FieldError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []apierr.FieldError{{
			Path:    fieldOverride,
			Message: err.Error(),
			Code:    "invalid",
		}}
	}

	out := make([]apierr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		path := fieldOverride
		if path == "" {
			path = fieldPath(fe.Namespace())
		}
		out = append(out, apierr.FieldError{
			Path:     path,
			Message:  message(fe),
			Code:     fe.Tag(),
			Expected: expected(fe),
			Received: received(fe),
		})
	}
	return out
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_with":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "min":
		if isCollection(fe.Kind()) {
			return fmt.Sprintf("must have at least %s items", fe.Param())
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if isCollection(fe.Kind()) {
			return fmt.Sprintf("must have at most %s items", fe.Param())
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "identifier":
		return "must contain only letters, digits, '_', '.', ':' or '-'"
	case "excluded_with":
		return fmt.Sprintf("cannot be combined with %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

func expected(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof", "min", "max", "gte", "lte", "gt":
		return fe.Param()
	}
	return ""
}

func received(fe validator.FieldError) string {
	v := fe.Value()
	if v == nil {
		return ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return fmt.Sprintf("%d items", rv.Len())
	case reflect.Ptr:
		if rv.IsNil() {
			return ""
		}
		return fmt.Sprint(rv.Elem().Interface())
	case reflect.Struct:
		return ""
	}
	s := fmt.Sprint(v)
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

func isCollection(k reflect.Kind) bool {
	return k == reflect.Slice || k == reflect.Map || k == reflect.Array
}
