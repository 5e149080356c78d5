package channel

import (
	"context"
	"sync"
)

// PipeChannel is one end of an in-memory packet pipe. Every Write on one
// end is returned by a Read on the other, in order, as its own unit.
type PipeChannel struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	peer *PipeChannel

	// Drop, when set, is consulted for every outgoing packet and discards
	// it when it returns true. Used to simulate lossy links.
	Drop func(packet []byte) bool

	stats     linkCounters
	closeOnce sync.Once
}

// NewPipe returns two connected in-memory channels.
func NewPipe() (*PipeChannel, *PipeChannel) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	a := &PipeChannel{in: ba, out: ab, done: make(chan struct{})}
	b := &PipeChannel{in: ab, out: ba, done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// Read implements PhysicalChannel.Read
func (p *PipeChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		p.stats.bytesReceived.Add(uint64(len(data)))
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrChannelClosed
	}
}

// Write implements PhysicalChannel.Write
func (p *PipeChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		p.stats.writeErrors.Add(1)
		return ErrChannelClosed
	case <-p.peer.done:
		p.stats.writeErrors.Add(1)
		return ErrChannelClosed
	default:
	}
	if p.Drop != nil && p.Drop(data) {
		return nil
	}
	packet := append([]byte(nil), data...)
	select {
	case p.out <- packet:
		p.stats.bytesSent.Add(uint64(len(data)))
		return nil
	case <-ctx.Done():
		p.stats.writeErrors.Add(1)
		return ctx.Err()
	case <-p.done:
		p.stats.writeErrors.Add(1)
		return ErrChannelClosed
	case <-p.peer.done:
		p.stats.writeErrors.Add(1)
		return ErrChannelClosed
	}
}

// Close implements PhysicalChannel.Close. The peer stays open but its
// writes fail.
func (p *PipeChannel) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (p *PipeChannel) Statistics() TransportStats {
	return p.stats.snapshot()
}

// SetConnectionStateListener notifies listener once: a pipe is always
// connected.
func (p *PipeChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	if listener != nil {
		listener.OnConnectionEstablished()
	}
}
