package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"avaneesh/malspp-go/pkg/spp"
)

// Endpoint is a local MAL address on a transport. Messages for it are
// queued and handed to its handler on a dedicated goroutine, so a slow
// handler never blocks packet reception.
type Endpoint struct {
	transport *Transport
	address   Address
	handler   Handler

	queue     chan *Message
	done      chan struct{}
	closeOnce sync.Once

	nextTID atomic.Uint64
}

// CreateEndpoint registers a local endpoint at addr.
func (t *Transport) CreateEndpoint(addr Address, handler Handler) (*Endpoint, error) {
	if addr.APID > spp.MaxAPID {
		return nil, fmt.Errorf("%w: apid %d", ErrInvalidAddress, addr.APID)
	}
	if handler == nil {
		return nil, fmt.Errorf("endpoint %s: handler is required", addr)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx.Err() != nil {
		return nil, ErrTransportClosed
	}
	if _, exists := t.endpoints[addr]; exists {
		return nil, fmt.Errorf("%w: %s", ErrEndpointExists, addr)
	}

	ep := &Endpoint{
		transport: t,
		address:   addr,
		handler:   handler,
		queue:     make(chan *Message, t.config.DeliveryQueueSize),
		done:      make(chan struct{}),
	}
	ep.nextTID.Store(uint64(t.clock.Now().UnixNano()))
	t.endpoints[addr] = ep

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ep.run()
	}()

	t.logger.Info("Transport %s: created endpoint %s", t.id, addr)
	return ep, nil
}

// RemoveEndpoint unregisters the endpoint at addr. Later messages for
// it are handled as unknown destinations.
func (t *Transport) RemoveEndpoint(addr Address) bool {
	t.mu.Lock()
	ep, exists := t.endpoints[addr]
	delete(t.endpoints, addr)
	t.mu.Unlock()

	if exists {
		ep.stop()
		t.logger.Info("Transport %s: removed endpoint %s", t.id, addr)
	}
	return exists
}

// GetEndpoint returns the endpoint registered at addr.
func (t *Transport) GetEndpoint(addr Address) (*Endpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep, exists := t.endpoints[addr]
	return ep, exists
}

// Address returns the endpoint's address.
func (e *Endpoint) Address() Address {
	return e.address
}

// Transport returns the transport the endpoint belongs to.
func (e *Endpoint) Transport() *Transport {
	return e.transport
}

// NextTransactionID returns a transaction id not yet used by this
// endpoint.
func (e *Endpoint) NextTransactionID() uint64 {
	return e.nextTID.Add(1)
}

// Send sends msg from this endpoint.
func (e *Endpoint) Send(ctx context.Context, msg *Message) error {
	msg.From = e.address
	return e.transport.Send(ctx, msg)
}

// Close removes the endpoint from its transport.
func (e *Endpoint) Close() error {
	e.transport.RemoveEndpoint(e.address)
	return nil
}

func (e *Endpoint) run() {
	for {
		select {
		case msg := <-e.queue:
			e.handler.OnMessage(msg)
		case <-e.done:
			return
		}
	}
}

// enqueue reports false when the queue is full or the endpoint stopped.
func (e *Endpoint) enqueue(msg *Message) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.queue <- msg:
		return true
	default:
		return false
	}
}

func (e *Endpoint) stop() {
	e.closeOnce.Do(func() { close(e.done) })
}
