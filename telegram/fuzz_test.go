package telegram

import (
	"strings"
	"testing"
)

// FuzzDecode fuzzes the telegram decoder with arbitrary byte slices.
//
// Decode is total: whatever the input, it must never panic and always return
// a telegram whose Raw field is one whole 128-char frame. Anything it had to
// repair on the way (short input, non-ASCII bytes, a garbled sequence field)
// must be flagged as Degraded.
func FuzzDecode(f *testing.F) {
	// Seed: valid MOVE frame
	move, err := NewMove("EWM-MFS", "PLC-SIM", 42, "TU0001", "BIN-01", "BIN-99", "05")
	if err != nil {
		f.Fatal(err)
	}
	f.Add(move)

	// Seed: valid LIFE ping
	ping, err := NewLife("EWM-MFS", "PLC-SIM", 1, false)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(ping)

	// Seed: empty input
	f.Add([]byte{})

	// Seed: short input (partial header)
	f.Add([]byte("MV00EWM-MFS PLC"))

	// Seed: full frame of high bytes
	f.Add([]byte(strings.Repeat("\xff", Length)))

	// Seed: valid frame with a garbled sequence field
	garbled := append([]byte(nil), move...)
	copy(garbled[20:26], "??????")
	f.Add(garbled)

	// Seed: oversized input, trailing bytes must be ignored
	f.Add(append(append([]byte(nil), move...), ping...))

	f.Fuzz(func(t *testing.T, raw []byte) {
		tg := Decode(raw)

		if tg == nil {
			t.Fatal("Decode returned nil")
		}
		if len(tg.Raw) != Length {
			t.Fatalf("Raw length = %d, want %d", len(tg.Raw), Length)
		}
		if tg.Sequence < 0 || tg.Sequence >= SequenceMod {
			t.Fatalf("Sequence = %d, out of range", tg.Sequence)
		}
		if len(raw) < Length && !tg.Degraded {
			t.Fatalf("short input (%d bytes) not flagged as degraded", len(raw))
		}
	})
}
