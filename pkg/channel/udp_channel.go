package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"avaneesh/malspp-go/pkg/spp"
)

// maxDatagramSize is the largest UDP payload over IPv4.
const maxDatagramSize = 65507

// ErrNoPeer is returned by a UDP server that has not yet heard from a peer.
var ErrNoPeer = errors.New("no peer address (nothing received yet)")

// UDPChannel implements PhysicalChannel over UDP. Each datagram carries
// one or more whole space packets.
type UDPChannel struct {
	conn     *net.UDPConn
	isServer bool

	// peer is the configured remote for a client and the most recent
	// sender for a server.
	peer     *net.UDPAddr
	peerLock sync.RWMutex

	readTimeout  time.Duration
	writeTimeout time.Duration
	readBuf      []byte

	stats  linkCounters
	closed atomic.Bool
}

// UDPChannelConfig configures a UDP channel
type UDPChannelConfig struct {
	Address      string        // "host:port" format
	IsServer     bool          // true = bind Address, false = send to Address
	ReadTimeout  time.Duration // Idle read deadline (0 = 30s)
	WriteTimeout time.Duration // Write deadline (0 = 10s)
}

// NewUDPChannel creates a UDP channel. A server binds Address and answers
// whoever sent to it last; a client binds an ephemeral port and sends to
// Address.
func NewUDPChannel(config UDPChannelConfig) (*UDPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	addr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", config.Address, err)
	}

	uc := &UDPChannel{
		isServer:     config.IsServer,
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
		readBuf:      make([]byte, maxDatagramSize),
	}
	local := &net.UDPAddr{}
	if config.IsServer {
		local = addr
	} else {
		uc.peer = addr
	}
	uc.conn, err = net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP socket: %w", err)
	}
	uc.stats.connects.Add(1)
	return uc, nil
}

// Read implements PhysicalChannel.Read. Read is only called from the
// channel read loop, so the receive buffer is reused.
func (uc *UDPChannel) Read(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if uc.closed.Load() {
			return nil, ErrChannelClosed
		}

		if uc.readTimeout > 0 {
			uc.conn.SetReadDeadline(time.Now().Add(uc.readTimeout))
		}
		n, from, err := uc.conn.ReadFromUDP(uc.readBuf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if uc.closed.Load() {
				return nil, ErrChannelClosed
			}
			uc.stats.readErrors.Add(1)
			return nil, err
		}

		if n < spp.PrimaryHeaderSize+1 {
			uc.stats.readErrors.Add(1)
			continue
		}
		if uc.isServer {
			uc.peerLock.Lock()
			uc.peer = from
			uc.peerLock.Unlock()
		}

		uc.stats.bytesReceived.Add(uint64(n))
		return append([]byte(nil), uc.readBuf[:n]...), nil
	}
}

// Write implements PhysicalChannel.Write
func (uc *UDPChannel) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if uc.closed.Load() {
		return ErrChannelClosed
	}

	to := uc.RemoteAddr()
	if to == nil {
		uc.stats.writeErrors.Add(1)
		return ErrNoPeer
	}

	if uc.writeTimeout > 0 {
		uc.conn.SetWriteDeadline(time.Now().Add(uc.writeTimeout))
	}
	if _, err := uc.conn.WriteToUDP(data, to.(*net.UDPAddr)); err != nil {
		uc.stats.writeErrors.Add(1)
		return err
	}
	uc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PhysicalChannel.Close
func (uc *UDPChannel) Close() error {
	if !uc.closed.CompareAndSwap(false, true) {
		return nil
	}
	uc.stats.disconnects.Add(1)
	return uc.conn.Close()
}

// Statistics implements PhysicalChannel.Statistics
func (uc *UDPChannel) Statistics() TransportStats {
	return uc.stats.snapshot()
}

// IsConnected reports whether the socket is open. UDP has no connection.
func (uc *UDPChannel) IsConnected() bool {
	return !uc.closed.Load()
}

// LocalAddr returns the bound address of the socket
func (uc *UDPChannel) LocalAddr() net.Addr {
	return uc.conn.LocalAddr()
}

// RemoteAddr returns the address writes go to, or nil for a server that
// has not received anything.
func (uc *UDPChannel) RemoteAddr() net.Addr {
	uc.peerLock.RLock()
	defer uc.peerLock.RUnlock()
	if uc.peer == nil {
		return nil
	}
	return uc.peer
}

// SetConnectionStateListener is a no-op: UDP has no connection state
func (uc *UDPChannel) SetConnectionStateListener(listener ConnectionStateListener) {}
