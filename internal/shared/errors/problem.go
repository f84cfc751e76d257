// Package errors renders RFC 7807 problem documents for the sync HTTP API.
package errors

import (
	"fmt"
	"net/http"
)

// ProblemDetail is an RFC 7807 problem document. It also satisfies error so
// handlers and mappers can pass it through error chains.
type ProblemDetail struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Instance   string         `json:"instance,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (p ProblemDetail) Error() string {
	if p.Detail == "" {
		return p.Title
	}
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WithDetail returns a copy carrying detail.
func (p ProblemDetail) WithDetail(detail string) ProblemDetail {
	p.Detail = detail
	return p
}

// WithExtension returns a copy with one more extension member. The receiver's
// extension map is never mutated.
func (p ProblemDetail) WithExtension(key string, value any) ProblemDetail {
	ext := make(map[string]any, len(p.Extensions)+1)
	for k, v := range p.Extensions {
		ext[k] = v
	}
	ext[key] = value
	p.Extensions = ext
	return p
}

// Problem type references, relative to the responder's BaseURI.
const (
	TypeValidation    = "/problems/validation-error"
	TypeBadRequest    = "/problems/bad-request"
	TypeNotFound      = "/problems/not-found"
	TypeConflict      = "/problems/conflict"
	TypeUnprocessable = "/problems/unprocessable-entity"
	TypeInternal      = "/problems/internal-error"
	TypeUnavailable   = "/problems/upstream-unavailable"
	TypeTimeout       = "/problems/timeout"
)

func template(typ, title string, status int) ProblemDetail {
	return ProblemDetail{Type: typ, Title: title, Status: status}
}

var (
	ErrValidation    = template(TypeValidation, "Validation Error", http.StatusBadRequest)
	ErrBadRequest    = template(TypeBadRequest, "Bad Request", http.StatusBadRequest)
	ErrNotFound      = template(TypeNotFound, "Resource Not Found", http.StatusNotFound)
	ErrConflict      = template(TypeConflict, "Conflict", http.StatusConflict)
	ErrUnprocessable = template(TypeUnprocessable, "Unprocessable Entity", http.StatusUnprocessableEntity)
	ErrInternal      = template(TypeInternal, "Internal Server Error", http.StatusInternalServerError)
	// ErrUnavailable reports an unreachable ERP or MES source.
	ErrUnavailable = template(TypeUnavailable, "Upstream Unavailable", http.StatusServiceUnavailable)
	// ErrTimeout reports a request whose deadline passed before the cycle finished.
	ErrTimeout = template(TypeTimeout, "Timeout", http.StatusGatewayTimeout)
)

// NewValidationProblem reports per-parameter validation failures under "fields".
func NewValidationProblem(fieldErrors map[string]string) ProblemDetail {
	return ErrValidation.WithExtension("fields", fieldErrors)
}
