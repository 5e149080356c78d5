package channel

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"avaneesh/malspp-go/pkg/spp"
)

type countingListener struct {
	established atomic.Int32
	lost        atomic.Int32
}

func (l *countingListener) OnConnectionEstablished() { l.established.Add(1) }
func (l *countingListener) OnConnectionLost()        { l.lost.Add(1) }

func readWithin(t *testing.T, pc PhysicalChannel) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := pc.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return data
}

func TestTCPChannel_Loopback(t *testing.T) {
	server, err := NewTCPChannel(TCPChannelConfig{
		Address:     "127.0.0.1:0",
		IsServer:    true,
		ReadTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewTCPChannel(server) failed: %v", err)
	}
	defer server.Close()

	listener := &countingListener{}
	server.SetConnectionStateListener(listener)

	if err := server.Write(context.Background(), []byte{0}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write without peer = %v, want ErrNotConnected", err)
	}

	client, err := NewTCPChannel(TCPChannelConfig{
		Address:     server.ListenAddr().String(),
		ReadTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewTCPChannel(client) failed: %v", err)
	}
	defer client.Close()

	waitUntil(t, "server connection", server.IsConnected)
	if !client.IsConnected() {
		t.Error("Expected client to be connected")
	}

	up := serialize(t, spp.NewPacket(spp.TypeTelecommand, 100, spp.SeqUnsegmented, 1, []byte("uplink")), false)
	if err := client.Write(context.Background(), up); err != nil {
		t.Fatalf("client Write failed: %v", err)
	}
	if got := readWithin(t, server); !bytes.Equal(got, up) {
		t.Errorf("server Read = %x, want %x", got, up)
	}

	down := serialize(t, spp.NewPacket(spp.TypeTelemetry, 100, spp.SeqUnsegmented, 2, []byte("downlink")), false)
	if err := server.Write(context.Background(), down); err != nil {
		t.Fatalf("server Write failed: %v", err)
	}
	if got := readWithin(t, client); !bytes.Equal(got, down) {
		t.Errorf("client Read = %x, want %x", got, down)
	}

	stats := server.Statistics()
	if stats.Connects != 1 {
		t.Errorf("Expected 1 connect, got %d", stats.Connects)
	}
	if stats.BytesReceived != uint64(len(up)) || stats.BytesSent != uint64(len(down)) {
		t.Errorf("Unexpected byte counters %+v", stats)
	}
	if stats.WriteErrors != 1 {
		t.Errorf("Expected 1 write error, got %d", stats.WriteErrors)
	}
	if n := listener.established.Load(); n != 1 {
		t.Errorf("Expected 1 established notification, got %d", n)
	}

	// The server notices the drop on its next read.
	client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := server.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read after peer close = %v, want deadline exceeded", err)
	}
	if server.IsConnected() {
		t.Error("Expected server to drop the closed connection")
	}
	if n := listener.lost.Load(); n != 1 {
		t.Errorf("Expected 1 lost notification, got %d", n)
	}
}

func TestTCPChannel_ReadAfterClose(t *testing.T) {
	server, err := NewTCPChannel(TCPChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	if err != nil {
		t.Fatalf("NewTCPChannel failed: %v", err)
	}
	server.Close()

	if _, err := server.Read(context.Background()); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Read after Close = %v, want ErrChannelClosed", err)
	}
	if err := server.Write(context.Background(), []byte{0}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Write after Close = %v, want ErrChannelClosed", err)
	}
}

func TestTCPChannel_ClientRequiresServer(t *testing.T) {
	server, err := NewTCPChannel(TCPChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	if err != nil {
		t.Fatalf("NewTCPChannel failed: %v", err)
	}
	addr := server.ListenAddr().String()
	server.Close()

	if _, err := NewTCPChannel(TCPChannelConfig{Address: addr}); err == nil {
		t.Error("Expected dial to a closed port to fail")
	}
}

func TestUDPChannel_Loopback(t *testing.T) {
	server, err := NewUDPChannel(UDPChannelConfig{
		Address:     "127.0.0.1:0",
		IsServer:    true,
		ReadTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewUDPChannel(server) failed: %v", err)
	}
	defer server.Close()

	if err := server.Write(context.Background(), []byte{0}); !errors.Is(err, ErrNoPeer) {
		t.Errorf("Write before any datagram = %v, want ErrNoPeer", err)
	}

	client, err := NewUDPChannel(UDPChannelConfig{
		Address:     server.LocalAddr().String(),
		ReadTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewUDPChannel(client) failed: %v", err)
	}
	defer client.Close()

	first := serialize(t, spp.NewPacket(spp.TypeTelecommand, 7, spp.SeqUnsegmented, 1, []byte("one")), true)
	second := serialize(t, spp.NewPacket(spp.TypeTelecommand, 7, spp.SeqUnsegmented, 2, []byte("two")), true)
	datagram := append(append([]byte(nil), first...), second...)
	if err := client.Write(context.Background(), datagram); err != nil {
		t.Fatalf("client Write failed: %v", err)
	}
	if got := readWithin(t, server); !bytes.Equal(got, datagram) {
		t.Errorf("server Read = %x, want %x", got, datagram)
	}

	if server.RemoteAddr() == nil {
		t.Fatal("Expected server to remember the sender")
	}
	if err := server.Write(context.Background(), first); err != nil {
		t.Fatalf("server Write failed: %v", err)
	}
	if got := readWithin(t, client); !bytes.Equal(got, first) {
		t.Errorf("client Read = %x, want %x", got, first)
	}

	if stats := server.Statistics(); stats.BytesReceived != uint64(len(datagram)) || stats.WriteErrors != 1 {
		t.Errorf("Unexpected server counters %+v", stats)
	}

	client.Close()
	if client.IsConnected() {
		t.Error("Expected closed UDP channel to report disconnected")
	}
	if _, err := client.Read(context.Background()); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Read after Close = %v, want ErrChannelClosed", err)
	}
}
