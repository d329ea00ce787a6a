// Package apierr is the closed error taxonomy shared by the station and
// gateway HTTP surfaces (spec §7). Every handler-level failure is
// translated into one of these kinds before it reaches the wire.
package apierr

import (
	"encoding/json"
	"net/http"
)

// Kind is one of the error taxonomy entries from spec §7.
type Kind string

const (
	BadRequest      Kind = "BadRequest"
	Unauthenticated Kind = "Unauthenticated"
	CertExpired     Kind = "CertExpired"
	CertInvalid     Kind = "CertInvalid"
	Forbidden       Kind = "Forbidden"
	NotFound        Kind = "NotFound"
	Conflict        Kind = "Conflict"
	Upstream        Kind = "Upstream"
	Internal        Kind = "Internal"
)

var statusByKind = map[Kind]int{
	BadRequest:      http.StatusBadRequest,
	Unauthenticated: http.StatusUnauthorized,
	CertExpired:     http.StatusUnauthorized,
	CertInvalid:     http.StatusUnauthorized,
	Forbidden:       http.StatusForbidden,
	NotFound:        http.StatusNotFound,
	Conflict:        http.StatusConflict,
	Upstream:        http.StatusInternalServerError,
	Internal:        http.StatusInternalServerError,
}

// Error carries a Kind and a human-readable message. It never carries a
// stack trace — the message is exactly what reaches the wire.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// New constructs a taxonomy error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// StatusCode returns the HTTP status for this error's kind.
func (e *Error) StatusCode() int {
	if code, ok := statusByKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// envelope is the response wrapper used by every handler (spec §6):
// {success, data} on success, {success:false, error} on failure.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Behavior interface{} `json:"behavior,omitempty"`
}

// WriteJSON writes a successful {success:true, data:...} response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// WriteJSONWithBehavior writes a successful response carrying a behavior
// advisory as a sibling of data, not nested under it — the success-path
// counterpart to WriteErrorWithBehavior (spec §6).
func WriteJSONWithBehavior(w http.ResponseWriter, status int, data interface{}, behavior interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Behavior: behavior})
}

// WriteError translates err into the taxonomy (defaulting to Internal for
// unrecognized errors) and writes the {success:false, error} envelope.
func WriteError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = New(Internal, "internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode())
	json.NewEncoder(w).Encode(envelope{Success: false, Error: apiErr.Message})
}

// WriteErrorWithBehavior writes a failure response carrying a structured
// behavior advisory block (spec §7: "when a deny reason is behavioral").
func WriteErrorWithBehavior(w http.ResponseWriter, err error, behavior interface{}) {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = New(Internal, "internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode())
	json.NewEncoder(w).Encode(envelope{Success: false, Error: apiErr.Message, Behavior: behavior})
}
