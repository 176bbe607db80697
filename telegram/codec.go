package telegram

import (
	"fmt"
	"strconv"
	"strings"
)

// Encode assembles one 128-byte telegram frame from the given fields.
//
// Over-long fields are truncated to their slot width and short fields are
// space-padded; the subtype is zero-padded to 2 digits and the sequence is
// taken modulo SequenceMod before being zero-padded to 6 digits. Non-ASCII
// runes are replaced with '?'.
//
// Encode is total over any valid field tuple. It returns ErrFraming only if
// the assembled body is not exactly 128 bytes, which indicates a defect in
// the field widths rather than a runtime fault.
func Encode(typ Type, subType, source, destination string, seq int, data string) ([]byte, error) {
	body := make([]byte, 0, Length)
	body = append(body, padField(strings.ToUpper(string(typ)), typeLen)...)
	body = append(body, zeroFill(subType, subTypeLen)...)
	body = append(body, padField(source, sourceLen)...)
	body = append(body, padField(destination, destLen)...)
	body = append(body, encodeSequence(seq)...)
	body = append(body, padField(data, DataLen)...)

	if len(body) != Length {
		return nil, fmt.Errorf("%w: assembled body is %d bytes, want %d", ErrFraming, len(body), Length)
	}

	return body, nil
}

// Decode decodes the first 128 bytes of raw into a Telegram.
//
// Decode is total: it never fails and never panics, whatever the input.
// Short input is zero-padded to a full frame, non-ASCII bytes are replaced
// with '?' and an unparsable sequence field decodes as 0; each of these marks
// the telegram as Degraded. An unrecognized type code classifies as UNKNOWN
// without being considered degraded. Any bytes beyond the first 128 are
// ignored; framing is the caller's responsibility.
func Decode(raw []byte) *Telegram {
	degraded := false

	frame := make([]byte, Length)
	n := copy(frame, raw)
	if n < Length {
		degraded = true
	}

	for i, b := range frame {
		if b > 0x7F {
			frame[i] = '?'
			degraded = true
		}
	}

	s := string(frame)

	seqField := trimField(s[20:26])
	seq := 0
	if v, err := strconv.Atoi(seqField); err == nil && v >= 0 {
		seq = v % SequenceMod
	} else {
		degraded = true
	}

	return &Telegram{
		Type:        Type(trimField(s[0:2])),
		SubType:     trimField(s[2:4]),
		Source:      trimField(s[4:12]),
		Destination: trimField(s[12:20]),
		Sequence:    seq,
		Data:        s[26:Length],
		Raw:         s,
		Degraded:    degraded,
	}
}

// padField truncates s to width runes, pads it with spaces to exactly width
// bytes and replaces every non-ASCII rune with '?'.
func padField(s string, width int) []byte {
	out := make([]byte, 0, width)
	for _, r := range s {
		if len(out) == width {
			break
		}
		if r > 0x7F {
			out = append(out, '?')
		} else {
			out = append(out, byte(r))
		}
	}
	for len(out) < width {
		out = append(out, ' ')
	}

	return out
}

// zeroFill left-pads s with '0' to width and truncates over-long values.
func zeroFill(s string, width int) []byte {
	if len(s) >= width {
		return padField(s[:width], width)
	}
	return padField(strings.Repeat("0", width-len(s))+s, width)
}

// encodeSequence renders seq modulo SequenceMod as 6 zero-padded digits.
// Negative inputs wrap the same way as positive ones.
func encodeSequence(seq int) []byte {
	seq %= SequenceMod
	if seq < 0 {
		seq += SequenceMod
	}
	return []byte(fmt.Sprintf("%06d", seq))
}
