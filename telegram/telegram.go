package telegram

import "strings"

// Telegram field widths in bytes. The frame layout is purely positional;
// see the package documentation for the full map.
const (
	// Length is the fixed size of one telegram frame on the wire.
	Length = 128

	typeLen    = 2
	subTypeLen = 2
	sourceLen  = 8
	destLen    = 8
	seqLen     = 6

	// DataLen is the size of the type-specific data section.
	DataLen = Length - typeLen - subTypeLen - sourceLen - destLen - seqLen

	// SequenceMod is the modulus applied to sequence numbers; wire sequences
	// occupy 6 digits and wrap at one million.
	SequenceMod = 1_000_000
)

// Type is the 2-character telegram type code as it appears on the wire.
// Codes other than the defined constants classify as UNKNOWN but are
// preserved verbatim, never rejected.
type Type string

// Telegram type codes defined by the MFS telegram format.
const (
	TypeLife    Type = "LI"
	TypeMove    Type = "MO"
	TypeConfirm Type = "CF"
	TypeError   Type = "ER"
)

// Code returns the raw 2-character wire code.
func (t Type) Code() string {
	return string(t)
}

// Known reports whether t is one of the defined type codes.
func (t Type) Known() bool {
	switch t {
	case TypeLife, TypeMove, TypeConfirm, TypeError:
		return true
	default:
		return false
	}
}

// String returns the human-readable label for the type code,
// or "UNKNOWN" for unrecognized codes.
func (t Type) String() string {
	switch t {
	case TypeLife:
		return "LIFE"
	case TypeMove:
		return "MOVE"
	case TypeConfirm:
		return "CNFM"
	case TypeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Telegram is one decoded 128-byte frame. It is immutable once constructed;
// all fields hold trimmed, best-effort values while Raw preserves the exact
// frame as transmitted.
type Telegram struct {
	// Type is the trimmed 2-character type code from the wire.
	Type Type

	// SubType is the 2-digit subtype code, semantically unconstrained here.
	SubType string

	// Source and Destination are the trimmed peer identifiers (8-char slots).
	Source      string
	Destination string

	// Sequence is the wire sequence number in [0, 999999].
	Sequence int

	// Data is the raw 102-character type-specific data section, space padding
	// included. Interpret it through Move, Confirm or ErrorInfo.
	Data string

	// Raw is the exact 128-character frame as transmitted, after non-ASCII
	// replacement. len(Raw) == Length always holds.
	Raw string

	// Degraded marks a telegram recovered from malformed input: short frames,
	// non-ASCII bytes or an unparsable sequence field. Degraded telegrams are
	// still fully populated on a best-effort basis.
	Degraded bool
}

// MoveFields is the data-section view of a MOVE telegram: a transport
// instruction for one transfer unit between two storage bins.
type MoveFields struct {
	TransferUnit string
	SourceBin    string
	DestBin      string
	Priority     string
	Extra        string
}

// ConfirmFields is the data-section view of a CONFIRM telegram: the
// completion acknowledgement for a MOVE.
type ConfirmFields struct {
	TransferUnit string
	Bin          string
	Status       string
	// Timestamp is the completion wall-clock time in YYYYMMDDHHMMSS form.
	Timestamp string
}

// ErrorFields is the data-section view of an ERROR telegram.
type ErrorFields struct {
	Code    string
	Message string
}

// Move interprets the data section as MOVE fields. The result is meaningful
// only when Type is TypeMove; fields are trimmed.
func (t *Telegram) Move() MoveFields {
	return MoveFields{
		TransferUnit: trimField(slice(t.Data, 0, 20)),
		SourceBin:    trimField(slice(t.Data, 20, 40)),
		DestBin:      trimField(slice(t.Data, 40, 60)),
		Priority:     trimField(slice(t.Data, 60, 62)),
		Extra:        trimField(slice(t.Data, 62, DataLen)),
	}
}

// Confirm interprets the data section as CONFIRM fields. The result is
// meaningful only when Type is TypeConfirm; fields are trimmed.
func (t *Telegram) Confirm() ConfirmFields {
	return ConfirmFields{
		TransferUnit: trimField(slice(t.Data, 0, 20)),
		Bin:          trimField(slice(t.Data, 20, 40)),
		Status:       trimField(slice(t.Data, 40, 44)),
		Timestamp:    trimField(slice(t.Data, 44, 58)),
	}
}

// ErrorInfo interprets the data section as ERROR fields. The result is
// meaningful only when Type is TypeError; fields are trimmed.
func (t *Telegram) ErrorInfo() ErrorFields {
	return ErrorFields{
		Code:    trimField(slice(t.Data, 0, 4)),
		Message: trimField(slice(t.Data, 4, DataLen)),
	}
}

// IsPing reports whether a LIFE telegram carries a PING payload.
func (t *Telegram) IsPing() bool {
	return t.Type == TypeLife && trimField(t.Data) == "PING"
}

// IsPong reports whether a LIFE telegram carries a PONG payload.
func (t *Telegram) IsPong() bool {
	return t.Type == TypeLife && trimField(t.Data) == "PONG"
}

// slice returns s[from:to], tolerating short strings.
func slice(s string, from, to int) string {
	if from > len(s) {
		return ""
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}

// trimField trims the padding and NUL bytes a peer may leave in a slot.
func trimField(s string) string {
	return strings.Trim(s, " \x00")
}
