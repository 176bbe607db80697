package telegram

import (
	"fmt"
	"time"
)

// StatusDone is the CONFIRM status stamped on successful move confirmations.
const StatusDone = "DONE"

// nowFunc is the clock used by NewConfirm; replaced in tests.
var nowFunc = time.Now

// NewLife builds a LIFE keep-alive telegram carrying "PING", or "PONG" when
// pong is true.
func NewLife(source, destination string, seq int, pong bool) ([]byte, error) {
	data := "PING"
	if pong {
		data = "PONG"
	}

	return Encode(TypeLife, "00", source, destination, seq, data)
}

// NewMove builds a MOVE telegram instructing the transport of unit from
// sourceBin to destBin with the given 2-digit priority.
func NewMove(source, destination string, seq int, unit, sourceBin, destBin, priority string) ([]byte, error) {
	data := string(padField(unit, 20)) +
		string(padField(sourceBin, 20)) +
		string(padField(destBin, 20)) +
		string(padField(priority, 2))

	return Encode(TypeMove, "00", source, destination, seq, data)
}

// NewConfirm builds a CONFIRM telegram for the given transfer unit and bin,
// stamped with the current wall-clock time in YYYYMMDDHHMMSS form.
// An empty status defaults to StatusDone.
func NewConfirm(source, destination string, seq int, unit, bin, status string) ([]byte, error) {
	if status == "" {
		status = StatusDone
	}
	ts := nowFunc().Format("20060102150405")

	data := string(padField(unit, 20)) +
		string(padField(bin, 20)) +
		string(padField(status, 4)) +
		string(padField(ts, 14))

	return Encode(TypeConfirm, "00", source, destination, seq, data)
}

// NewError builds an ERROR telegram with the given 4-character error code
// and message.
func NewError(source, destination string, seq int, code, message string) ([]byte, error) {
	data := string(padField(code, 4)) + string(padField(message, 98))

	return Encode(TypeError, "00", source, destination, seq, data)
}

// MustEncode is a test and example helper that panics on ErrFraming.
// Production code should call Encode and handle the error.
func MustEncode(typ Type, subType, source, destination string, seq int, data string) []byte {
	raw, err := Encode(typ, subType, source, destination, seq, data)
	if err != nil {
		panic(fmt.Sprintf("telegram: %v", err))
	}
	return raw
}
