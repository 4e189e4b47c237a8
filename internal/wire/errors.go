package wire

import (
	"encoding/json"
	"fmt"
)

// ProtocolError indicates a malformed frame or an incompatible peer.
// It is permanent: retrying the same bytes cannot succeed.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConnectionError indicates the transport failed to open, the handshake was
// rejected, or no peer is attached. Connection-level recovery may retry it.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error: %s: %v", e.Reason, e.Err)
	}
	return "connection error: " + e.Reason
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError indicates no reply arrived within the deadline. The bridge
// never re-issues the request itself; the caller may.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return e.Op + " timed out" }

// RemoteError wraps an explicit {error} returned by the peer. It is surfaced
// to the caller verbatim and never retried.
type RemoteError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}
