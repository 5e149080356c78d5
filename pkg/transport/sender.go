package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"avaneesh/malspp-go/pkg/header"
	"avaneesh/malspp-go/pkg/spp"
)

// ErrSizeBudgetExceeded is returned when the header leaves no room for
// body bytes within the packet data field limit.
var ErrSizeBudgetExceeded = errors.New("secondary header exceeds packet size budget")

// PacketWriter emits one serialized space packet.
type PacketWriter interface {
	WritePacket(ctx context.Context, packet []byte) error
}

// PacketWriterFunc adapts a function to PacketWriter.
type PacketWriterFunc func(ctx context.Context, packet []byte) error

// WritePacket calls f.
func (f PacketWriterFunc) WritePacket(ctx context.Context, packet []byte) error {
	return f(ctx, packet)
}

// Sender splits encoded messages into size-bounded space packets. One
// mutex guards the per-APID sequence counters and is held while a
// message's packets are emitted, so packets of concurrent sends never
// interleave.
type Sender struct {
	packetType spp.PacketType
	crc        bool
	limit      int
	hdrConfig  header.Config

	counters map[uint16]uint16 // primary APID -> next sequence count
	stats    *TransportStatistics

	mu sync.Mutex
}

// NewSender creates a sender from the packet settings of config.
func NewSender(config TransportConfig, hdrConfig header.Config, stats *TransportStatistics) *Sender {
	if stats == nil {
		stats = NewTransportStatistics()
	}
	return &Sender{
		packetType: config.PacketType,
		crc:        config.PacketErrorControl,
		limit:      config.PacketDataFieldLimit,
		hdrConfig:  hdrConfig,
		counters:   make(map[uint16]uint16),
		stats:      stats,
	}
}

// Fragment returns the packet data fields for body: one unsegmented
// field when header and body fit the limit, otherwise chunks of at most
// limit - headerSize - 4 body bytes, each behind a copy of the header
// carrying its segment counter. h is not modified.
func Fragment(h *header.SecondaryHeader, body []byte, limit int, cfg header.Config) ([][]byte, []spp.SequenceFlags, error) {
	plain := h.Clone()
	plain.Segmented = false
	plain.SegmentCounter = 0

	encoded, err := header.Encode(plain, cfg)
	if err != nil {
		return nil, nil, err
	}
	headerSize := len(encoded)
	if headerSize+len(body) <= limit {
		field := make([]byte, 0, headerSize+len(body))
		field = append(append(field, encoded...), body...)
		return [][]byte{field}, []spp.SequenceFlags{spp.SeqUnsegmented}, nil
	}

	budget := limit - headerSize - header.SegmentCounterSize
	if budget <= 0 {
		return nil, nil, fmt.Errorf("%w: header %d bytes, limit %d", ErrSizeBudgetExceeded, headerSize, limit)
	}

	seg := plain.Clone()
	seg.Segmented = true
	template, err := header.Encode(seg, cfg)
	if err != nil {
		return nil, nil, err
	}
	counterAt := seg.FixedLength() - header.SegmentCounterSize

	count := (len(body) + budget - 1) / budget
	fields := make([][]byte, 0, count)
	flags := make([]spp.SequenceFlags, 0, count)
	for i := 0; i < count; i++ {
		chunk := body[i*budget : min((i+1)*budget, len(body))]
		field := make([]byte, 0, len(template)+len(chunk))
		field = append(append(field, template...), chunk...)
		binary.BigEndian.PutUint32(field[counterAt:], uint32(i))
		fields = append(fields, field)

		switch i {
		case 0:
			flags = append(flags, spp.SeqFirst)
		case count - 1:
			flags = append(flags, spp.SeqLast)
		default:
			flags = append(flags, spp.SeqContinuation)
		}
	}
	return fields, flags, nil
}

// Send fragments body behind h, addresses the packets to apid and writes
// them to w. It returns the number of packets written. Nothing is
// written when fragmentation fails.
func (s *Sender) Send(ctx context.Context, apid uint16, h *header.SecondaryHeader, body []byte, w PacketWriter) (int, error) {
	if apid > spp.MaxAPID {
		return 0, fmt.Errorf("%w: %d", spp.ErrInvalidAPID, apid)
	}
	fields, flags, err := Fragment(h, body, s.limit, s.hdrConfig)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, field := range fields {
		pkt := spp.NewPacket(s.packetType, apid, flags[i], s.counters[apid], field)
		wire, err := pkt.Serialize(s.crc)
		if err != nil {
			return i, fmt.Errorf("packet %d: %w", i, err)
		}
		if err := w.WritePacket(ctx, wire); err != nil {
			return i, err
		}
		s.counters[apid] = (s.counters[apid] + 1) & spp.MaxSequenceCount
		s.stats.IncrementTxPackets(1)
	}
	s.stats.IncrementTxMessages()
	return len(fields), nil
}

// SequenceCount returns the next sequence count for apid.
func (s *Sender) SequenceCount(apid uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[apid]
}

// Reset clears all sequence counters.
func (s *Sender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[uint16]uint16)
}
