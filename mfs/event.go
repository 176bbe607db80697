package mfs

import (
	"time"

	"github.com/plcsim/go-mfs/telegram"
)

// EventKind discriminates the concrete event types carried by the stream.
type EventKind int

const (
	// StatusEventKind marks a connection lifecycle change.
	StatusEventKind EventKind = iota
	// RecvEventKind marks a telegram received from the peer.
	RecvEventKind
	// SentEventKind marks a telegram written to the peer.
	SentEventKind
	// ErrorEventKind marks a transport or validation error.
	ErrorEventKind
)

// String returns the event kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case StatusEventKind:
		return "status"
	case RecvEventKind:
		return "recv"
	case SentEventKind:
		return "sent"
	case ErrorEventKind:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one entry of the typed, ordered stream the Connection publishes to
// its subscribers.
type Event interface {
	// Kind returns the event discriminator.
	Kind() EventKind
	// Time returns the wall-clock time the event was created.
	Time() time.Time
}

// StatusEvent reports a connection state transition.
type StatusEvent struct {
	State ConnState
	At    time.Time
}

func (e *StatusEvent) Kind() EventKind { return StatusEventKind }
func (e *StatusEvent) Time() time.Time { return e.At }

// RecvEvent carries one telegram received from the peer, decoded on a
// best-effort basis. Degraded frames are surfaced here as well, tagged via
// Telegram.Degraded, rather than being dropped silently.
type RecvEvent struct {
	Telegram *telegram.Telegram
	At       time.Time
}

func (e *RecvEvent) Kind() EventKind { return RecvEventKind }
func (e *RecvEvent) Time() time.Time { return e.At }

// SentEvent carries one telegram successfully written to the peer. The exact
// bytes written are available as Telegram.Raw.
type SentEvent struct {
	Telegram *telegram.Telegram
	At       time.Time
}

func (e *SentEvent) Kind() EventKind { return SentEventKind }
func (e *SentEvent) Time() time.Time { return e.At }

// ErrorEvent reports a recoverable transport condition: validation failures,
// connect failures, stream errors and overflow discards.
type ErrorEvent struct {
	Err error
	At  time.Time
}

func (e *ErrorEvent) Kind() EventKind { return ErrorEventKind }
func (e *ErrorEvent) Time() time.Time { return e.At }

// NewStatusEvent creates a StatusEvent stamped with the current time.
func NewStatusEvent(state ConnState) *StatusEvent {
	return &StatusEvent{State: state, At: time.Now()}
}

// NewRecvEvent creates a RecvEvent stamped with the current time.
func NewRecvEvent(tg *telegram.Telegram) *RecvEvent {
	return &RecvEvent{Telegram: tg, At: time.Now()}
}

// NewSentEvent creates a SentEvent stamped with the current time.
func NewSentEvent(tg *telegram.Telegram) *SentEvent {
	return &SentEvent{Telegram: tg, At: time.Now()}
}

// NewErrorEvent creates an ErrorEvent stamped with the current time.
func NewErrorEvent(err error) *ErrorEvent {
	return &ErrorEvent{Err: err, At: time.Now()}
}
