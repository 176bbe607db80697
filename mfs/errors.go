package mfs

import "errors"

var (
	// ErrConnConfigNil indicates that a nil ConnectionConfig was provided.
	ErrConnConfigNil = errors.New("connection config is nil")

	// ErrValidation indicates a bad host or port was rejected before any
	// socket was opened.
	ErrValidation = errors.New("endpoint validation failed")

	// ErrConnectFailed indicates that the TCP connect attempt failed or timed
	// out. The connection returns to the disconnected state and may be retried.
	ErrConnectFailed = errors.New("connect failed")

	// ErrNotConnected indicates an operation that requires an established
	// connection was attempted while disconnected.
	ErrNotConnected = errors.New("not connected")

	// ErrConnClosed indicates that the connection closed while the operation
	// was in progress.
	ErrConnClosed = errors.New("connection closed")

	// ErrSendTimeout indicates that the outbound queue stayed full for the
	// whole write timeout.
	ErrSendTimeout = errors.New("send queue timeout")

	// ErrOverflow indicates that the receive accumulator exceeded its cap and
	// the oldest buffered bytes were discarded. It is surfaced as an error
	// event, never as a failure of the receive loop.
	ErrOverflow = errors.New("receive buffer overflow")

	// ErrInvalidTransition is returned when an attempt is made to transition
	// the connection state to an invalid state.
	ErrInvalidTransition = errors.New("invalid state transition")
)
