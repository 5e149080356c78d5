package channel

import (
	"errors"
	"fmt"
	"io"
	"net"

	"avaneesh/malspp-go/pkg/spp"
)

// errIdle reports a read deadline that expired before any byte of the
// next packet arrived. The stream is still framed.
var errIdle = errors.New("no packet before read deadline")

// readPacket reads exactly one space packet from a byte stream using the
// length in its primary header.
func readPacket(r io.Reader) ([]byte, error) {
	hdr := make([]byte, spp.PrimaryHeaderSize)
	n, err := io.ReadFull(r, hdr)
	if err != nil {
		var netErr net.Error
		if n == 0 && errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errIdle
		}
		return nil, err
	}
	if version := hdr[0] >> 5; version != spp.Version1 {
		return nil, fmt.Errorf("%w: %d", spp.ErrInvalidVersion, version)
	}

	total, err := spp.PacketLength(hdr)
	if err != nil {
		return nil, err
	}
	packet := make([]byte, total)
	copy(packet, hdr)
	if _, err := io.ReadFull(r, packet[spp.PrimaryHeaderSize:]); err != nil {
		return nil, err
	}
	return packet, nil
}
