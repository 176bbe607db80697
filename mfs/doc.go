// Package mfs provides the TCP transport layer for exchanging fixed-length
// MFS telegrams with an SAP EWM warehouse-management host.
//
// It turns a raw TCP byte stream into discrete telegram events and back:
//
//   - Connection Management: a Connection owns one TCP socket and a five-state
//     lifecycle (disconnected, connecting, connected, disconnecting, error)
//     driven by a ConnStateMgr.
//   - Concurrent Loops: while connected, an independent sender task drains the
//     outbound queue and a receiver task polls the socket with short read
//     deadlines, so stop requests are observed within one poll interval.
//   - Stream Reassembly: received bytes are accumulated and split into whole
//     128-byte frames regardless of TCP chunk boundaries; a trailing partial
//     frame is never surfaced. The accumulator is capped and discards its
//     oldest bytes on overflow instead of blocking or crashing.
//   - Event Stream: lifecycle changes, received telegrams, sent telegrams and
//     errors are published as typed events through a Dispatcher that fans out
//     to any number of subscribers without ever blocking the socket loops.
//
// Establish a connection with NewConnection and Connect(host, port); queue
// outbound frames with Send; subscribe to events through Events().Subscribe.
// Connect validates the endpoint before touching any socket, and starting a
// new connection while a previous one is alive first stops and drains the old
// session so no stale events leak across sessions.
package mfs
