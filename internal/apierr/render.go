package apierr

import (
	"encoding/json"
	"net/http"
)

// Body is the error member of the envelope. Metadata keys are merged into
// the same object alongside code and message.
type Body map[string]any

// Envelope is the rendered error response.
type Envelope struct {
	Success bool `json:"success"`
	Error   Body `json:"error"`
}

// Render converts err into the envelope and its status code.
func Render(err error) (int, Envelope) {
	e := From(err)

	body := Body{}
	for k, v := range e.Meta {
		body[k] = v
	}
	if e.Field != "" {
		body["field"] = e.Field
	}
	if len(e.Errors) > 0 {
		body["errors"] = e.Errors
	}
	body["code"] = e.Code
	body["message"] = e.Message

	return e.Status, Envelope{Success: false, Error: body}
}

// Write renders err to w as JSON.
func Write(w http.ResponseWriter, err error) {
	status, env := Render(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	json.NewEncoder(w).Encode(env)
}
