package mfs

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/plcsim/go-mfs/logger"
)

// Dispatcher fans the connection's event stream out to subscribers.
//
// Publishing never blocks a producer loop: when a subscriber's channel is
// full the event is dropped for that subscriber and counted in the
// DroppedEvents metric. Events published from one goroutine are delivered to
// each subscriber in publish order.
type Dispatcher struct {
	subs      *xsync.MapOf[uint64, chan Event]
	nextID    atomic.Uint64
	queueSize int
	metrics   *ConnectionMetrics
	logger    logger.Logger
}

// NewDispatcher creates a Dispatcher whose subscriber channels buffer up to
// queueSize events.
func NewDispatcher(queueSize int, metrics *ConnectionMetrics, l logger.Logger) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if l == nil {
		l = logger.GetLogger()
	}

	return &Dispatcher{
		subs:      xsync.NewMapOf[uint64, chan Event](),
		queueSize: queueSize,
		metrics:   metrics,
		logger:    l,
	}
}

// Subscribe registers a new subscriber and returns its id and event channel.
//
// The channel is never closed; stop reading from it and call Unsubscribe when
// done. Events that arrive while the channel is full are dropped for this
// subscriber only.
func (d *Dispatcher) Subscribe() (uint64, <-chan Event) {
	id := d.nextID.Add(1)
	ch := make(chan Event, d.queueSize)
	d.subs.Store(id, ch)

	d.logger.Debug("event subscriber added", "id", id, "queue_size", d.queueSize)

	return id, ch
}

// Unsubscribe removes the subscriber with the given id. The subscriber's
// channel is left open so concurrent publishers never write to a closed
// channel; it becomes garbage once the consumer drops its reference.
func (d *Dispatcher) Unsubscribe(id uint64) {
	if _, ok := d.subs.LoadAndDelete(id); ok {
		d.logger.Debug("event subscriber removed", "id", id)
	}
}

// Publish delivers ev to every subscriber without blocking.
func (d *Dispatcher) Publish(ev Event) {
	d.subs.Range(func(id uint64, ch chan Event) bool {
		select {
		case ch <- ev:
		default:
			if d.metrics != nil {
				d.metrics.incDroppedEvents()
			}
			d.logger.Debug("subscriber queue full, event dropped", "id", id, "kind", ev.Kind())
		}

		return true
	})
}

// DrainAll empties every subscriber channel. It is called between sessions so
// stale events from a stopped session never reach the next session's
// consumers.
func (d *Dispatcher) DrainAll() {
	d.subs.Range(func(_ uint64, ch chan Event) bool {
		for {
			select {
			case <-ch:
			default:
				return true
			}
		}
	})
}

// SubscriberCount returns the number of registered subscribers.
func (d *Dispatcher) SubscriberCount() int {
	return d.subs.Size()
}
