package telegram

import "errors"

var (
	// ErrFraming indicates that an assembled telegram body is not exactly 128
	// bytes. This is a programmer invariant violation (wrong field widths),
	// not a runtime condition; it never occurs for well-formed inputs.
	ErrFraming = errors.New("telegram framing invariant violated")
)
