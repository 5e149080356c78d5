package channel

import "context"

// ConnectionStateListener is told when a connection-oriented physical
// channel gains or loses its peer.
type ConnectionStateListener interface {
	OnConnectionEstablished()
	OnConnectionLost()
}

// PhysicalChannel moves serialized space packets between two peers. TCP,
// UDP, QUIC and the in-memory pipe implement it; so can any other medium.
type PhysicalChannel interface {
	// Read blocks until at least one whole space packet has arrived or
	// ctx ends. The returned slice belongs to the caller, since reassembly
	// keeps views into it.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one serialized packet. It is called only from the
	// channel transmit loop.
	Write(ctx context.Context, data []byte) error

	// Close releases the medium and unblocks pending calls.
	Close() error

	// Statistics may return zero values when nothing is tracked.
	Statistics() TransportStats

	// SetConnectionStateListener may be a no-op for connectionless media.
	SetConnectionStateListener(listener ConnectionStateListener)
}

// TransportStats are the byte and error counters of a physical channel
type TransportStats struct {
	BytesSent     uint64
	BytesReceived uint64
	WriteErrors   uint64
	ReadErrors    uint64
	Connects      uint64 // streams attached, or 1 for an open UDP socket
	Disconnects   uint64
}

// ChannelState is whether a Channel's loops are running
type ChannelState int

const (
	ChannelStateOpen ChannelState = iota
	ChannelStateClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelStateOpen:
		return "Open"
	case ChannelStateClosed:
		return "Closed"
	}
	return "Unknown"
}
