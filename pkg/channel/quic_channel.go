package channel

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// quicALPN is the application protocol negotiated by QUIC channels.
const quicALPN = "malspp-quic"

// QUICChannel implements PhysicalChannel over one bidirectional QUIC
// stream. Packets are framed by the length field of their primary header.
type QUICChannel struct {
	*streamChannel
}

// QUICChannelConfig configures a QUIC channel
type QUICChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	ReadTimeout    time.Duration // Idle read deadline (0 = 30s)
	WriteTimeout   time.Duration // Write deadline (0 = 10s)
	TLSConfig      *tls.Config   // Optional TLS config (if nil, a self-signed certificate is generated)
}

// NewQUICChannel creates a QUIC channel. The client opens the stream;
// the server takes the first stream of each accepted connection.
func NewQUICChannel(config QUICChannelConfig) (*QUICChannel, error) {
	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = selfSignedTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}

	s, err := newStreamChannel(streamConfig{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		readTimeout:    config.ReadTimeout,
		writeTimeout:   config.WriteTimeout,
	}, &quicEndpoint{address: config.Address, tlsConfig: tlsConfig})
	if err != nil {
		return nil, err
	}
	return &QUICChannel{streamChannel: s}, nil
}

// selfSignedTLSConfig returns a config with a fresh P-256 certificate
// that skips peer verification.
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: quicALPN},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:         []string{quicALPN},
		InsecureSkipVerify: true,
	}, nil
}

type quicEndpoint struct {
	address   string
	tlsConfig *tls.Config
	listener  *quic.Listener
}

func (e *quicEndpoint) listen() error {
	udpAddr, err := net.ResolveUDPAddr("udp", e.address)
	if err != nil {
		return err
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	l, err := quic.Listen(udpConn, e.tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return err
	}
	e.listener = l
	return nil
}

// accept waits for a connection and its first stream. A stream becomes
// visible once the client writes to it.
func (e *quicEndpoint) accept(ctx context.Context) (streamConn, error) {
	conn, err := e.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, err
	}
	return &quicStream{Stream: stream, conn: conn}, nil
}

func (e *quicEndpoint) dial(ctx context.Context) (streamConn, error) {
	remote, err := net.ResolveUDPAddr("udp", e.address)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}

	conn, err := quic.Dial(ctx, udpConn, remote, e.tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		udpConn.Close()
		return nil, err
	}
	return &quicStream{Stream: stream, conn: conn, udp: udpConn}, nil
}

func (e *quicEndpoint) listenAddr() net.Addr {
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

func (e *quicEndpoint) close() error {
	if e.listener == nil {
		return nil
	}
	return e.listener.Close()
}

// quicStream is a stream together with the connection it belongs to.
// Closing it closes the connection, and for clients the UDP socket.
type quicStream struct {
	*quic.Stream
	conn *quic.Conn
	udp  *net.UDPConn
}

func (s *quicStream) Close() error {
	s.Stream.Close()
	err := s.conn.CloseWithError(0, "stream closed")
	if s.udp != nil {
		s.udp.Close()
	}
	return err
}

func (s *quicStream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *quicStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
