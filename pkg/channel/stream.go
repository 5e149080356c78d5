package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotConnected is returned by Write while a stream channel has no peer.
var ErrNotConnected = errors.New("no connection")

// streamConn is one established byte stream carrying space packets.
type streamConn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// streamEndpoint opens streams for a stream channel. Servers call listen
// once and then accept repeatedly; clients call dial.
type streamEndpoint interface {
	listen() error
	accept(ctx context.Context) (streamConn, error)
	dial(ctx context.Context) (streamConn, error)
	listenAddr() net.Addr
	close() error
}

type streamConfig struct {
	address        string
	isServer       bool
	reconnectDelay time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
}

// streamChannel frames space packets over one stream at a time. A
// server keeps the most recently accepted stream; a client redials after
// the stream drops.
type streamChannel struct {
	streamConfig
	endpoint streamEndpoint

	conn     streamConn
	connLock sync.RWMutex

	stateListener     ConnectionStateListener
	stateListenerLock sync.RWMutex

	stats linkCounters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func newStreamChannel(config streamConfig, endpoint streamEndpoint) (*streamChannel, error) {
	if config.address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.reconnectDelay == 0 {
		config.reconnectDelay = 5 * time.Second
	}
	if config.readTimeout == 0 {
		config.readTimeout = 30 * time.Second
	}
	if config.writeTimeout == 0 {
		config.writeTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &streamChannel{
		streamConfig: config,
		endpoint:     endpoint,
		ctx:          ctx,
		cancel:       cancel,
	}
	if err := s.start(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *streamChannel) start() error {
	if s.isServer {
		if err := s.endpoint.listen(); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.address, err)
		}
		s.wg.Add(1)
		go s.acceptLoop()
		return nil
	}

	conn, err := s.endpoint.dial(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.address, err)
	}
	s.attach(conn)
	s.wg.Add(1)
	go s.reconnectLoop()
	return nil
}

// acceptLoop replaces the current stream with every newly accepted one.
func (s *streamChannel) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.endpoint.accept(s.ctx)
		if err != nil {
			if s.closed.Load() {
				return
			}
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		s.attach(conn)
	}
}

// reconnectLoop redials every reconnectDelay while there is no stream.
func (s *streamChannel) reconnectLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
		if s.current() != nil {
			continue
		}
		conn, err := s.endpoint.dial(s.ctx)
		if err != nil {
			continue
		}
		s.attach(conn)
	}
}

func (s *streamChannel) current() streamConn {
	s.connLock.RLock()
	defer s.connLock.RUnlock()
	return s.conn
}

// attach makes conn the current stream, closing any previous one.
func (s *streamChannel) attach(conn streamConn) {
	s.connLock.Lock()
	if s.closed.Load() {
		s.connLock.Unlock()
		conn.Close()
		return
	}
	old := s.conn
	s.conn = conn
	s.connLock.Unlock()

	s.stats.connects.Add(1)
	if old != nil {
		old.Close()
		s.stats.disconnects.Add(1)
		s.notifyConnectionLost()
	}
	s.notifyConnectionEstablished()
}

// drop closes conn if it is still the current stream.
func (s *streamChannel) drop(conn streamConn) {
	s.connLock.Lock()
	if s.conn != conn {
		s.connLock.Unlock()
		return
	}
	s.conn = nil
	s.connLock.Unlock()

	conn.Close()
	s.stats.disconnects.Add(1)
	s.notifyConnectionLost()
}

// waitConn blocks until a stream is attached.
func (s *streamChannel) waitConn(ctx context.Context) (streamConn, error) {
	for {
		if conn := s.current(); conn != nil {
			return conn, nil
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ctx.Done():
			return nil, ErrChannelClosed
		}
	}
}

// Read implements PhysicalChannel.Read. It returns one space packet.
func (s *streamChannel) Read(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ctx.Done():
			return nil, ErrChannelClosed
		default:
		}

		conn, err := s.waitConn(ctx)
		if err != nil {
			return nil, err
		}
		if s.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		packet, err := readPacket(conn)
		if err != nil {
			if errors.Is(err, errIdle) {
				continue
			}
			// A bad header leaves the stream unframed; drop the connection.
			if !s.closed.Load() {
				s.stats.readErrors.Add(1)
			}
			s.drop(conn)
			continue
		}

		s.stats.bytesReceived.Add(uint64(len(packet)))
		return packet, nil
	}
}

// Write implements PhysicalChannel.Write
func (s *streamChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrChannelClosed
	default:
	}

	conn := s.current()
	if conn == nil {
		s.stats.writeErrors.Add(1)
		return ErrNotConnected
	}
	if s.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}

	if _, err := conn.Write(data); err != nil {
		s.stats.writeErrors.Add(1)
		s.drop(conn)
		return err
	}
	s.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PhysicalChannel.Close
func (s *streamChannel) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	if s.isServer {
		s.endpoint.close()
	}

	s.connLock.Lock()
	conn := s.conn
	s.conn = nil
	s.connLock.Unlock()
	if conn != nil {
		conn.Close()
		s.stats.disconnects.Add(1)
	}

	s.wg.Wait()
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (s *streamChannel) Statistics() TransportStats {
	return s.stats.snapshot()
}

// IsConnected returns true if there is an active stream
func (s *streamChannel) IsConnected() bool {
	return s.current() != nil
}

// ListenAddr returns the bound address of a server, or nil for clients.
func (s *streamChannel) ListenAddr() net.Addr {
	if !s.isServer {
		return nil
	}
	return s.endpoint.listenAddr()
}

// LocalAddr returns the local address of the current stream
func (s *streamChannel) LocalAddr() net.Addr {
	if conn := s.current(); conn != nil {
		return conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the peer address of the current stream
func (s *streamChannel) RemoteAddr() net.Addr {
	if conn := s.current(); conn != nil {
		return conn.RemoteAddr()
	}
	return nil
}

// SetConnectionStateListener sets a listener for connection state changes
func (s *streamChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	s.stateListenerLock.Lock()
	defer s.stateListenerLock.Unlock()
	s.stateListener = listener
}

func (s *streamChannel) notifyConnectionEstablished() {
	s.stateListenerLock.RLock()
	listener := s.stateListener
	s.stateListenerLock.RUnlock()

	if listener != nil {
		listener.OnConnectionEstablished()
	}
}

func (s *streamChannel) notifyConnectionLost() {
	s.stateListenerLock.RLock()
	listener := s.stateListener
	s.stateListenerLock.RUnlock()

	if listener != nil {
		listener.OnConnectionLost()
	}
}
