package bus

import (
	"errors"
	"fmt"
)

// Reason classifies connection failures for the owning screen.
// Auth-class reasons are terminal for the connection instance; transport
// reasons feed the reconnect loop; offline means retries were exhausted.
type Reason string

const (
	ReasonAuthMissing      Reason = "auth-missing"
	ReasonAuthInvalid      Reason = "auth-invalid"
	ReasonHandshakeTimeout Reason = "handshake-timeout"
	ReasonTransportError   Reason = "transport-error"
	ReasonSendRejected     Reason = "send-rejected"
	ReasonOffline          Reason = "offline"
)

var (
	errAlreadyStarted = errors.New("bus: connection already started")
	errClosed         = errors.New("bus: connection is closed")
	errNotConnected   = errors.New("bus: not connected")
	errEmptyMessage   = errors.New("bus: empty message")
	errEmptyTopic     = errors.New("bus: topic id is required")
	errHandshake      = errors.New("bus: no CONNECTED ack before timeout")
)

type ConnError struct {
	Reason Reason
	Err    error
}

func (e *ConnError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

func connErr(reason Reason, err error) *ConnError {
	return &ConnError{Reason: reason, Err: err}
}

// ReasonOf extracts the failure reason from err, or "" for plain errors.
func ReasonOf(err error) Reason {
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}
