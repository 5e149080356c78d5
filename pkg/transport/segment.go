package transport

import (
	"fmt"
	"time"

	"avaneesh/malspp-go/pkg/header"
	"avaneesh/malspp-go/pkg/mal"
	"avaneesh/malspp-go/pkg/spp"
)

// Segment is one packet's contribution to a logical message. The
// payload is a view into the received packet and is only copied when
// the message is reassembled.
type Segment struct {
	Position spp.SequenceFlags
	Index    uint32
	Arrival  time.Time

	data   []byte
	offset int
	length int
}

// NewSegment creates a segment whose payload is data[offset:].
func NewSegment(position spp.SequenceFlags, index uint32, data []byte, offset int, arrival time.Time) *Segment {
	return &Segment{
		Position: position,
		Index:    index,
		Arrival:  arrival,
		data:     data,
		offset:   offset,
		length:   len(data) - offset,
	}
}

// Payload returns the segment's slice of the packet data field.
func (s *Segment) Payload() []byte {
	return s.data[s.offset : s.offset+s.length]
}

// Len returns the payload length.
func (s *Segment) Len() int {
	return s.length
}

// String returns string representation of segment
func (s *Segment) String() string {
	return fmt.Sprintf("Segment{%s, Index=%d, Len=%d}", s.Position, s.Index, s.length)
}

// SegmentationKey identifies one logical message among all messages
// sharing a channel. Equal keys mean the same message.
type SegmentationKey struct {
	Interaction   mal.InteractionType
	TransactionID uint64
	From          Address
	To            Address
	Session       mal.SessionType
	SessionName   string
	Domain        string
	NetworkZone   string
	Area          uint16
	Service       uint16
	Operation     uint16
}

// KeyOf builds the segmentation key of a message with header h.
func KeyOf(h *header.SecondaryHeader, from, to Address) SegmentationKey {
	return SegmentationKey{
		Interaction:   h.SDUType.Interaction(),
		TransactionID: h.TransactionID,
		From:          from,
		To:            to,
		Session:       h.Session,
		SessionName:   h.SessionName,
		Domain:        h.DomainString(),
		NetworkZone:   h.NetworkZone,
		Area:          h.Area,
		Service:       h.Service,
		Operation:     h.Operation,
	}
}

// String returns a compact description of the key.
func (k SegmentationKey) String() string {
	return fmt.Sprintf("%s tid=%d %s->%s op=%d/%d/%d", k.Interaction, k.TransactionID, k.From, k.To,
		k.Area, k.Service, k.Operation)
}
