package pipeline

import (
	"bytes"
	"encoding/json"
	"net/http"

	"procodus.dev/iot-dashboard/internal/apierr"
	"procodus.dev/iot-dashboard/internal/validation"
)

// Envelope is the success response body.
type Envelope struct {
	Success    bool `json:"success"`
	Data       any  `json:"data"`
	Pagination any  `json:"pagination,omitempty"`
}

func writeSuccess(w http.ResponseWriter, res *Result) int {
	body, err := json.Marshal(Envelope{Success: true, Data: res.Data, Pagination: res.Pagination})
	if err != nil {
		apierr.Write(w, apierr.Internal(err))
		return http.StatusInternalServerError
	}

	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(body)
	return status
}

// Decode reads, sanitizes and validates the JSON body into T.
func Decode[T any](rc *RequestContext, val *validation.Validator) (T, error) {
	raw, err := rc.RawBody()
	if err != nil {
		var zero T
		return zero, err
	}
	limit := rc.BodyLimit
	if limit <= 0 {
		limit = BodyLimitForPath(rc.Path)
	}
	return validation.DecodeBody[T](val, bytes.NewReader(raw), limit)
}

// Query validates the query string into T.
func Query[T any](rc *RequestContext, val *validation.Validator) (T, error) {
	return validation.ValidateQueryOrThrow[T](val, rc.Request.URL.Query())
}
