package netevent

import (
	"github.com/pkg/errors"
)

var (
	// ErrConnClosed occurs when posting to or writing from a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrNotEstablished occurs when posting before class negotiation completed.
	ErrNotEstablished = errors.New("class negotiation not completed")

	// ErrUnknownClass occurs when an event class is not registered or lies
	// outside the negotiated class table.
	ErrUnknownClass = errors.New("unknown event class")

	// ErrWrongDirection occurs when the local role may not send an event.
	ErrWrongDirection = errors.New("event direction not sendable by local role")

	// ErrQueueFull occurs when the connection holds too many undelivered events.
	ErrQueueFull = errors.New("event queue full")

	// ErrEventTooLarge occurs when a packed event exceeds its class size limit.
	ErrEventTooLarge = errors.New("event too large")

	// ErrNotifyConsumed occurs when a packet notify record is acknowledged or
	// lost a second time.
	ErrNotifyConsumed = errors.New("packet notify record already consumed")

	// ErrForeignNotify occurs when a packet notify record is handed to a
	// connection that did not create it.
	ErrForeignNotify = errors.New("packet notify record belongs to another connection")

	// ErrProtocolViolation is the cause of every connection-fatal receive error.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrVersionBoundary occurs when a negotiated class count is not a
	// declared version boundary.
	ErrVersionBoundary = errors.New("class count is not a version boundary")

	// ErrInvalidRegistry occurs when a class table cannot be built.
	ErrInvalidRegistry = errors.New("invalid event registry")
)

func violation(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocolViolation, format, args...)
}

// IsProtocolViolation reports whether err was caused by a peer breaking the protocol.
func IsProtocolViolation(err error) bool {
	return errors.Cause(err) == ErrProtocolViolation
}
