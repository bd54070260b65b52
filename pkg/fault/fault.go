// Package fault defines the error taxonomy every fabric component reports
// through. Errors carry a kind for dispatch-level handling and a component
// name for operators; messages are safe to surface to callers.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation policy and API mapping.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindContract           Kind = "CONTRACT"
	KindAuthorization      Kind = "AUTHORIZATION"
	KindHandlerFailed      Kind = "HANDLER_FAILED"
	KindBackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	KindIdempotencyReplay  Kind = "IDEMPOTENCY_REPLAY"
	KindLifecycleViolation Kind = "LIFECYCLE_VIOLATION"
	KindNotFound           Kind = "NOT_FOUND"
)

// ContractMarker is the literal substring automated probes match on when a
// required dependency is not wired. Do not reword.
const ContractMarker = "Platform contract §8A"

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind      Kind   `json:"kind"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Component, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports a missing or malformed caller-supplied field.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotWired reports a required dependency absent on component. The message
// embeds ContractMarker; in-memory fallback is opt-in at construction and
// never implied here.
func NotWired(component, dependency string) *Error {
	return &Error{
		Kind:      KindContract,
		Component: component,
		Message:   fmt.Sprintf("%s: %s requires %s and it is not wired", ContractMarker, component, dependency),
	}
}

// Authorization reports a boundary contract refusal.
func Authorization(component, format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Component: component, Message: fmt.Sprintf(format, args...)}
}

// HandlerFailed wraps a realm handler error; the execution transitions to
// failed and the message is recorded verbatim.
func HandlerFailed(realm string, err error) *Error {
	return &Error{Kind: KindHandlerFailed, Component: realm, Message: err.Error(), Err: err}
}

// BackendUnavailable wraps a storage or stream backend error after retries
// are exhausted.
func BackendUnavailable(component string, err error) *Error {
	return &Error{Kind: KindBackendUnavailable, Component: component, Message: err.Error(), Err: err}
}

// LifecycleViolation reports an illegal artifact state transition or a
// version conflict. No state changes on this path.
func LifecycleViolation(format string, args ...any) *Error {
	return &Error{Kind: KindLifecycleViolation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an absent resource where absence is an error to the
// caller (lookups return it; stores use package sentinels internally).
func NotFound(component, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Component: component, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, unwrapping as needed. Unclassified
// errors report KindHandlerFailed, the terminal catch-all.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindHandlerFailed
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == k
}

// IsContract reports whether err is a §8A wiring failure.
func IsContract(err error) bool { return IsKind(err, KindContract) }
