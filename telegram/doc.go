// Package telegram implements the fixed-length ASCII telegram format exchanged
// between a PLC/conveyor device and an SAP EWM MFS host.
//
// Every telegram is exactly 128 bytes, space-padded, with purely positional
// framing (no delimiter, no length prefix):
//
//	[0:2]    Type     : LI | MO | CF | ER
//	[2:4]    SubType  : 00-99
//	[4:12]   Source   : device/system name (8 chars)
//	[12:20]  Dest     : target name (8 chars)
//	[20:26]  Sequence : zero-padded integer (6 chars)
//	[26:128] Data     : type-specific fields (102 chars, space-padded)
//
// Type-specific data layouts:
//
//	LIFE  data: empty or "PING"/"PONG"
//	MOVE  data: [TU:20][SRC_BIN:20][DST_BIN:20][PRIORITY:2][EXTRA:40]
//	CNFM  data: [TU:20][BIN:20][STATUS:4][TIMESTAMP:14][EXTRA:44]
//	ERR   data: [ERRCODE:4][ERRMSG:98]
//
// Encoding is total over any valid field tuple and always yields exactly 128
// bytes; over-long fields are truncated to their slot and non-ASCII runes are
// replaced with '?'. Decoding is total over any input: it consumes the first
// 128 bytes, never returns an error, and degrades malformed content to
// best-effort values instead of failing, so a misbehaving peer cannot stop
// the consumer. Unrecognized type codes classify as UNKNOWN rather than
// being rejected.
package telegram
