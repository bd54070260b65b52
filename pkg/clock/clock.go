// Package clock supplies monotonic UTC time and globally unique identifiers
// for events, executions, sessions, intents, and artifacts.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock yields the current instant. Components hold one and override it in
// tests; the zero value is not usable, construct with System or Fixed.
type Clock func() time.Time

// System returns a Clock backed by the wall clock, always UTC.
func System() Clock {
	return func() time.Time { return time.Now().UTC() }
}

// Fixed returns a Clock pinned to t (UTC). Test helper.
func Fixed(t time.Time) Clock {
	pinned := t.UTC()
	return func() time.Time { return pinned }
}

// Now evaluates the clock. Nil-safe: a nil Clock falls back to the system
// clock so partially constructed components never observe a zero time.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}

// ID generators. The prefix makes the resource kind legible in logs and WAL
// payloads; callers must treat the whole string as opaque.

func NewEventID() string     { return "evt-" + uuid.New().String() }
func NewExecutionID() string { return "exec-" + uuid.New().String() }
func NewSessionID() string   { return "sess-" + uuid.New().String() }
func NewIntentID() string    { return "int-" + uuid.New().String() }
func NewArtifactID() string  { return "art-" + uuid.New().String() }

// NewID returns an unprefixed unique id for callers with no named kind.
func NewID() string { return uuid.New().String() }
