package mfs

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// TelegramSendCount indicates the number of telegrams written to the peer.
	TelegramSendCount atomic.Uint64
	// TelegramRecvCount indicates the number of whole telegrams received.
	TelegramRecvCount atomic.Uint64
	// SendErrCount indicates the number of failed socket writes.
	SendErrCount atomic.Uint64

	// LifeSendCount indicates the number of LIFE telegrams written to the peer.
	LifeSendCount atomic.Uint64
	// LifeRecvCount indicates the number of LIFE telegrams received.
	LifeRecvCount atomic.Uint64

	// ConnRetryCount indicates the number of failed connect attempts.
	ConnRetryCount atomic.Uint64

	// OverflowCount indicates the number of receive-buffer overflow events.
	OverflowCount atomic.Uint64
	// DiscardedBytes indicates the total bytes discarded by overflow handling.
	DiscardedBytes atomic.Uint64

	// DroppedEvents indicates the number of events dropped because a
	// subscriber queue was full.
	DroppedEvents atomic.Uint64
}

func (m *ConnectionMetrics) incTelegramSendCount() {
	m.TelegramSendCount.Add(1)
}

func (m *ConnectionMetrics) incTelegramRecvCount() {
	m.TelegramRecvCount.Add(1)
}

func (m *ConnectionMetrics) incSendErrCount() {
	m.SendErrCount.Add(1)
}

func (m *ConnectionMetrics) incLifeSendCount() {
	m.LifeSendCount.Add(1)
}

func (m *ConnectionMetrics) incLifeRecvCount() {
	m.LifeRecvCount.Add(1)
}

func (m *ConnectionMetrics) incConnRetryCount() {
	m.ConnRetryCount.Add(1)
}

func (m *ConnectionMetrics) incOverflow(discarded int) {
	m.OverflowCount.Add(1)
	m.DiscardedBytes.Add(uint64(discarded)) //nolint:gosec
}

func (m *ConnectionMetrics) incDroppedEvents() {
	m.DroppedEvents.Add(1)
}
