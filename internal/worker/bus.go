package worker

import (
	"sync"
)

const (
	// pushBufferSize is the capacity of the async delivery channel.
	// Deliveries are dropped if the buffer is full so ingest callers are
	// never blocked by rendering or display I/O.
	pushBufferSize = 256
)

// Delivery is one push payload handed over by the external collaborator,
// kept as raw JSON until the renderer parses it tolerantly.
type Delivery struct {
	Body []byte
}

// DeliveryHandler processes one push delivery.
type DeliveryHandler func(d Delivery)

// PushBus is an async fan-out for push deliveries. Publish is non-blocking:
// deliveries go to a buffered channel and are processed by a worker
// goroutine. There is no acknowledgment contract; every delivery is
// independent and a dropped one is not redelivered.
type PushBus struct {
	handlers []DeliveryHandler
	mu       sync.RWMutex
	ch       chan Delivery
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewPushBus creates a push bus and starts its worker goroutine.
func NewPushBus() *PushBus {
	b := &PushBus{
		ch:     make(chan Delivery, pushBufferSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler for deliveries.
func (b *PushBus) Subscribe(h DeliveryHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues a delivery. Non-blocking: if the buffer is full the
// delivery is dropped. Deliveries published after Stop are discarded.
func (b *PushBus) Publish(d Delivery) {
	select {
	case <-b.stopCh:
		return
	default:
	}
	select {
	case b.ch <- d:
	default:
		// Buffer full; drop rather than block the ingest path.
	}
}

// Stop shuts down the worker goroutine after draining queued deliveries.
// Safe to call multiple times.
func (b *PushBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.done
}

func (b *PushBus) processLoop() {
	defer close(b.done)
	for {
		select {
		case d := <-b.ch:
			b.dispatch(d)
		case <-b.stopCh:
			for {
				select {
				case d := <-b.ch:
					b.dispatch(d)
				default:
					return
				}
			}
		}
	}
}

func (b *PushBus) dispatch(d Delivery) {
	b.mu.RLock()
	handlers := make([]DeliveryHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, d)
	}
}

// safeCall invokes a handler with panic recovery so a panicking handler
// cannot kill the bus goroutine.
func (b *PushBus) safeCall(h DeliveryHandler, d Delivery) {
	defer func() {
		recover() //nolint:errcheck // intentionally swallowed to keep bus alive
	}()
	h(d)
}
