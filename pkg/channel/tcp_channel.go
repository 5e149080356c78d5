package channel

import (
	"context"
	"net"
	"time"
)

// TCPChannel implements PhysicalChannel over a TCP stream. Packets are
// framed by the length field of their primary header.
type TCPChannel struct {
	*streamChannel
}

// TCPChannelConfig configures a TCP channel
type TCPChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	ReadTimeout    time.Duration // Idle read deadline (0 = 30s)
	WriteTimeout   time.Duration // Write deadline (0 = 10s)
}

// NewTCPChannel creates a TCP channel. A server listens on Address and
// serves the most recent connection; a client connects to Address and
// reconnects after the connection drops.
func NewTCPChannel(config TCPChannelConfig) (*TCPChannel, error) {
	s, err := newStreamChannel(streamConfig{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		readTimeout:    config.ReadTimeout,
		writeTimeout:   config.WriteTimeout,
	}, &tcpEndpoint{address: config.Address})
	if err != nil {
		return nil, err
	}
	return &TCPChannel{streamChannel: s}, nil
}

type tcpEndpoint struct {
	address  string
	listener net.Listener
}

func (e *tcpEndpoint) listen() error {
	l, err := net.Listen("tcp", e.address)
	if err != nil {
		return err
	}
	e.listener = l
	return nil
}

// accept returns when a peer connects or the listener is closed.
func (e *tcpEndpoint) accept(ctx context.Context) (streamConn, error) {
	conn, err := e.listener.Accept()
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return conn, nil
}

func (e *tcpEndpoint) dial(ctx context.Context) (streamConn, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	return d.DialContext(ctx, "tcp", e.address)
}

func (e *tcpEndpoint) listenAddr() net.Addr {
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

func (e *tcpEndpoint) close() error {
	if e.listener == nil {
		return nil
	}
	return e.listener.Close()
}
