// Package api is the HTTP surface: session, intent submission, execution
// status, and artifact retrieval. Errors leave as RFC 7807 problem details;
// fault kinds map onto stable status codes and the message, never the
// wrapped internals, reaches the client.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/weftworks/weft/pkg/fault"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Kind is the fabric's error kind, for clients that dispatch on it.
	Kind string `json:"kind,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// statusFor maps a fault kind onto its HTTP status.
func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindAuthorization:
		return http.StatusForbidden
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindLifecycleViolation, fault.KindIdempotencyReplay:
		return http.StatusConflict
	case fault.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		// Contract and handler failures are the service's problem.
		return http.StatusInternalServerError
	}
}

// WriteFault renders err as a problem detail. Typed faults keep their
// message; anything else is logged and masked.
func WriteFault(w http.ResponseWriter, r *http.Request, err error) {
	var fe *fault.Error
	if errors.As(err, &fe) {
		status := statusFor(fe.Kind)
		writeProblem(w, r, status, http.StatusText(status), fe.Message, string(fe.Kind))
		return
	}
	slog.Error("unclassified error on api surface", "path", r.URL.Path, "error", err)
	writeProblem(w, r, http.StatusInternalServerError, "Internal Server Error",
		"An unexpected error occurred.", "")
}

// WriteBadRequest writes a 400 problem detail.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusBadRequest, "Bad Request", detail, string(fault.KindValidation))
}

// WriteNotFound writes a 404 problem detail.
func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusNotFound, "Not Found", detail, string(fault.KindNotFound))
}

// WriteTooManyRequests writes a 429 with a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	writeProblem(w, r, http.StatusTooManyRequests, "Too Many Requests",
		"Rate limit exceeded. Retry after the specified interval.", "")
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail, kind string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://weftworks.io/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Kind:     kind,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// writeJSON renders v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
