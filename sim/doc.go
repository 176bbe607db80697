// Package sim implements the device side of an MFS telegram exchange: a
// simulated PLC that answers LIFE handshakes, acknowledges movement orders
// and keeps a bounded journal of everything on the wire.
//
// A Simulator wraps an mfs.Connection and consumes its event stream. All
// outbound telegrams, automatic and manual alike, draw from one central
// sequence counter, so interleaved senders never produce duplicate sequence
// numbers. Delayed replies are tagged with the session epoch at scheduling
// time and quietly do nothing when they fire after the session ended.
package sim
