package logger

import (
	"fmt"
	"sync/atomic"
)

// RedactedMarker replaces a sensitive value's text while safe mode is on.
const RedactedMarker = "[REDACTED]"

var safeMode atomic.Bool

func init() {
	safeMode.Store(true)
}

// SetSafeMode flips the process-wide redaction switch.
func SetSafeMode(enabled bool) {
	safeMode.Store(enabled)
}

// SafeMode reports whether sensitive values are currently redacted.
func SafeMode() bool {
	return safeMode.Load()
}

// Sensitive wraps a value that must not reach a log sink verbatim while safe
// mode is enabled. The wrapped value itself is never altered.
type Sensitive struct {
	value any
}

// Redact marks v as sensitive for display.
func Redact(v any) Sensitive {
	return Sensitive{value: v}
}

func (s Sensitive) String() string {
	if SafeMode() {
		return RedactedMarker
	}
	return fmt.Sprint(s.value)
}

// Value returns the wrapped value unchanged.
func (s Sensitive) Value() any {
	return s.value
}
