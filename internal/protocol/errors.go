package protocol

import "fmt"

// EncodingError reports a value that cannot be represented in the requested
// wire type. Nothing is written when it is returned.
type EncodingError struct {
	Op     string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("amqp encoding: %s: %s", e.Op, e.Reason)
}

func encodingErrorf(op, format string, args ...interface{}) *EncodingError {
	return &EncodingError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// ProtocolError reports received bytes that violate AMQP 0-9-1. Expected and
// Actual are set when the error is a method mismatch.
type ProtocolError struct {
	Reason   string
	Expected MethodID
	Actual   MethodID
}

func (e *ProtocolError) Error() string {
	if e.Expected != (MethodID{}) || e.Actual != (MethodID{}) {
		return fmt.Sprintf("amqp protocol: %s (expected %s, got %s)", e.Reason, e.Expected, e.Actual)
	}
	return "amqp protocol: " + e.Reason
}

// NewProtocolError creates a ProtocolError without method ids.
func NewProtocolError(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// UnexpectedMethod creates the ProtocolError raised on a method mismatch.
func UnexpectedMethod(expected, actual MethodID) *ProtocolError {
	return &ProtocolError{Reason: "unexpected method", Expected: expected, Actual: actual}
}

// SessionError is raised when the peer closes the connection (Channel == 0)
// or a channel with a reply code and text.
type SessionError struct {
	Channel  uint16
	Code     uint16
	Text     string
	ClassID  uint16
	MethodID uint16
}

func (e *SessionError) Error() string {
	scope := "connection"
	if e.Channel != 0 {
		scope = fmt.Sprintf("channel %d", e.Channel)
	}
	if e.ClassID != 0 || e.MethodID != 0 {
		return fmt.Sprintf("amqp %s closed by server: %d %s (caused by %s)",
			scope, e.Code, e.Text, ID(e.ClassID, e.MethodID))
	}
	return fmt.Sprintf("amqp %s closed by server: %d %s", scope, e.Code, e.Text)
}

// Recoverable reports whether the reply code is a soft error that leaves the
// connection usable. Connection-level closes are never recoverable.
func (e *SessionError) Recoverable() bool {
	if e.Channel == 0 {
		return false
	}
	switch e.Code {
	case ReplyContentTooLarge, ReplyNoRoute, ReplyNoConsumers,
		ReplyAccessRefused, ReplyNotFound, ReplyResourceLocked, ReplyPreconditionFailed:
		return true
	default:
		return false
	}
}

// ConnectionError wraps transport failures, timeouts and handshake
// rejections. The connection is unusable afterwards.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "amqp connection: " + e.Op
	}
	return fmt.Sprintf("amqp connection: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
