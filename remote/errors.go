package remote

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrTransient marks failures worth queueing and retrying: the
	// remote store is unreachable or answered 5xx/timeout. Never
	// surfaced to the operator unless the queue itself stalls.
	ErrTransient = errors.New("remote store unreachable")

	// ErrDuplicateWrite is returned when the remote store has already
	// accepted a write with the same local id. Replay treats it as
	// success and discards the pending entry.
	ErrDuplicateWrite = errors.New("duplicate write")
)

// StatusError is a non-transient remote rejection (4xx other than 409).
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote api error %d: %s", e.StatusCode, e.Body)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func classifyTransportErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	// Connection refused, DNS failure, reset: all unreachable.
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusConflict:
		return ErrDuplicateWrite
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrTransient, status)
	case status >= 500:
		return fmt.Errorf("%w: status %d", ErrTransient, status)
	default:
		return &StatusError{StatusCode: status, Body: body}
	}
}
