package domain

import "fmt"

// TransientError wraps network errors, HTTP 5xx, WS disconnects and
// timeouts. Callers should retry with backoff before surfacing it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient error in %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RejectionError is an exchange rejection: invalid params, insufficient
// funds, rate-limit overrun. Never retried.
type RejectionError struct {
	Op     string
	Reason string
}

func (e *RejectionError) Error() string { return fmt.Sprintf("exchange rejected %s: %s", e.Op, e.Reason) }

// ValidationError is a config- or command-level validation failure: fatal
// at startup, a rejected command mid-run.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// LogicGuardError is an informational guard rejection (risk gate, cooldown,
// max positions). The cycle that produced it ends cleanly; it is not a
// system failure.
type LogicGuardError struct {
	Reason RejectionReason
	Detail string
}

func (e *LogicGuardError) Error() string { return fmt.Sprintf("logic guard %s: %s", e.Reason, e.Detail) }

// DriftEvent is raised by the Sync Manager. It does not propagate as
// an error in the Go sense — it is carried as data on the outbound event
// channel — but is modeled here so components share one vocabulary.
type DriftEvent struct {
	Exchange string
	Kind     string // "ExcessiveErrors" | "ProlongedDesync"
	Detail   string
}

func (e *DriftEvent) Error() string { return fmt.Sprintf("drift event %s on %s: %s", e.Kind, e.Exchange, e.Detail) }

// FatalError is unrecoverable: config load failure, balance drift beyond
// the hard threshold, repeated exchange-client startup failures. Recovery
// is CircuitBreaker(fatal) plus a graceful shutdown.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal error in %s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// ErrAlreadyClosed is returned when closing a position that has no open
// record; this must be side-effect free.
var ErrAlreadyClosed = fmt.Errorf("domain: position already closed")

// ErrUnknownCommand is returned for an unrecognized inbound control message.
var ErrUnknownCommand = fmt.Errorf("domain: unknown command")
