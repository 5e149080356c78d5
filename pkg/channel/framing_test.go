package channel

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"avaneesh/malspp-go/pkg/spp"
)

func TestReadPacket_Stream(t *testing.T) {
	p1, _ := spp.NewPacket(spp.TypeTelecommand, 1, spp.SeqUnsegmented, 0, []byte("first")).Serialize(false)
	p2, _ := spp.NewPacket(spp.TypeTelecommand, 2, spp.SeqUnsegmented, 1, bytes.Repeat([]byte{7}, 300)).Serialize(true)
	stream := bytes.NewReader(append(append([]byte(nil), p1...), p2...))

	for i, want := range [][]byte{p1, p2} {
		got, err := readPacket(stream)
		if err != nil {
			t.Fatalf("Packet %d: readPacket failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Packet %d: expected % X, got % X", i, want, got)
		}
	}
	if _, err := readPacket(stream); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadPacket_Errors(t *testing.T) {
	valid, _ := spp.NewPacket(spp.TypeTelemetry, 5, spp.SeqUnsegmented, 0, []byte("abcdef")).Serialize(false)

	badVersion := append([]byte(nil), valid...)
	badVersion[0] |= 0x20

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad version", badVersion, spp.ErrInvalidVersion},
		{"truncated header", valid[:3], io.ErrUnexpectedEOF},
		{"truncated body", valid[:len(valid)-2], io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readPacket(bytes.NewReader(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestReadPacket_IdleTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	server.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	if _, err := readPacket(server); !errors.Is(err, errIdle) {
		t.Errorf("Expected errIdle, got %v", err)
	}
}
