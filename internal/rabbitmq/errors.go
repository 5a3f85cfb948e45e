package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrNotConnected is returned when no channel is available and the
	// caller chose not to wait.
	ErrNotConnected = errors.New("rabbitmq: not connected")

	// ErrClosed is returned for operations on a manager that has been
	// shut down.
	ErrClosed = errors.New("rabbitmq: connection manager closed")

	// ErrMaxRetriesExceeded is returned when the bounded reconnect
	// policy gives up.
	ErrMaxRetriesExceeded = errors.New("rabbitmq: maximum reconnection attempts exceeded")

	// ErrConnectionTimeout is returned when a dial attempt exceeds its
	// deadline.
	ErrConnectionTimeout = errors.New("rabbitmq: connection timeout")
)

// ConnectionError wraps a transport-level failure.
type ConnectionError struct {
	Op       string // operation that failed
	URL      string // sanitized endpoint
	Attempts int    // dial attempts made
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("rabbitmq: %s to %s failed after %d attempts: %v", e.Op, e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq: %s to %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TopologyError wraps an exchange, queue, or binding declaration
// failure. Declaration mismatches indicate a configuration bug and are
// never retried automatically.
type TopologyError struct {
	Component string // "exchange", "queue", "binding"
	Name      string
	Err       error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq: declare %s %q: %v", e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error { return e.Err }

// IsRetryable reports whether an error is worth retrying at the
// transport level. Topology mismatches and shutdown are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrMaxRetriesExceeded) {
		return false
	}
	var topoErr *TopologyError
	return !errors.As(err, &topoErr)
}

// SanitizeURL strips credentials from a broker endpoint for logging.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
