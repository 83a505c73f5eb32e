package session

import "errors"

var (
	// ErrTransportUnavailable wraps a failed room join. Fatal to the
	// session; the caller surfaces it and does not retry.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrInitializationDeadlock is reported by the watchdog when neither
	// replica created the document in time.
	ErrInitializationDeadlock = errors.New("initialization deadlock")

	ErrIdentityRequired = errors.New("identity required before session construction")
)
