package mfs

import (
	"github.com/plcsim/go-mfs/telegram"
)

// frameAssembler reassembles whole 128-byte telegram frames from arbitrarily
// chunked stream bytes.
//
// The pending buffer is capped; appending beyond the cap discards the oldest
// excess bytes so a malicious or malfunctioning peer bounds memory instead of
// exhausting it. Discarding may sacrifice frame alignment of old data, which
// is preferred over blocking the receive loop.
//
// frameAssembler is not goroutine-safe; it is owned by the receiver task.
type frameAssembler struct {
	buf      []byte
	maxBytes int
}

// newFrameAssembler creates an assembler capped at maxFrames whole frames.
func newFrameAssembler(maxFrames int) *frameAssembler {
	if maxFrames < 1 {
		maxFrames = 1
	}

	return &frameAssembler{
		buf:      make([]byte, 0, maxFrames*telegram.Length),
		maxBytes: maxFrames * telegram.Length,
	}
}

// Append adds p to the pending buffer and extracts every complete frame in
// arrival order. The returned frames are copies and safe to retain.
// discarded reports how many of the oldest buffered bytes were dropped to
// stay under the cap; it is zero in normal operation.
func (a *frameAssembler) Append(p []byte) (frames [][]byte, discarded int) {
	a.buf = append(a.buf, p...)

	if len(a.buf) > a.maxBytes {
		discarded = len(a.buf) - a.maxBytes
		copy(a.buf, a.buf[discarded:])
		a.buf = a.buf[:a.maxBytes]
	}

	off := 0
	for len(a.buf)-off >= telegram.Length {
		frame := make([]byte, telegram.Length)
		copy(frame, a.buf[off:off+telegram.Length])
		frames = append(frames, frame)
		off += telegram.Length
	}

	if off > 0 {
		rest := copy(a.buf, a.buf[off:])
		a.buf = a.buf[:rest]
	}

	return frames, discarded
}

// Pending returns the number of buffered bytes not yet forming a whole frame.
func (a *frameAssembler) Pending() int {
	return len(a.buf)
}

// Reset drops any pending bytes. Called at session start so a partial frame
// from a closed session never bleeds into the next one.
func (a *frameAssembler) Reset() {
	a.buf = a.buf[:0]
}
