package spp

import "errors"

// CCSDS Space Packet primary header layout (CCSDS 133.0-B):
//
//	 0                   1                   2                   3
//	+-----+-+-+---------------------+---+---------------------------+
//	| ver |T|S|        APID         |SF |      sequence count       |
//	+-----+-+-+---------------------+---+---------------------------+
//	|       packet data length      |   packet data field ...
//	+-------------------------------+
//
// Packet data length holds (octets in the data field) - 1.

// Packet sizes
const (
	PrimaryHeaderSize = 6
	CRCSize           = 2
	MaxDataFieldSize  = 65536
	MaxPacketSize     = PrimaryHeaderSize + MaxDataFieldSize
)

// Field limits
const (
	MaxAPID          uint16 = 0x07FF
	MaxSequenceCount uint16 = 0x3FFF
	IdleAPID         uint16 = 0x07FF
	Version1         uint8  = 0 // Only version number defined by CCSDS
)

// First two octets
const (
	hdrVersionMask   uint8 = 0xE0
	hdrVersionShift        = 5
	hdrTypeBit       uint8 = 0x10
	hdrSecHdrBit     uint8 = 0x08
	hdrAPIDHighMask  uint8 = 0x07 // APID bits 10..8
	hdrSeqFlagsShift       = 6
	hdrSeqCountHigh  uint8 = 0x3F // Sequence count bits 13..8
)

// PacketType distinguishes telemetry from telecommand packets
type PacketType uint8

const (
	TypeTelemetry   PacketType = 0
	TypeTelecommand PacketType = 1
)

// String returns string representation of PacketType
func (t PacketType) String() string {
	if t == TypeTelecommand {
		return "TC"
	}
	return "TM"
}

// SequenceFlags positions a packet within a segmented user data unit
type SequenceFlags uint8

const (
	SeqContinuation SequenceFlags = 0x0
	SeqFirst        SequenceFlags = 0x1
	SeqLast         SequenceFlags = 0x2
	SeqUnsegmented  SequenceFlags = 0x3
)

// String returns string representation of SequenceFlags
func (f SequenceFlags) String() string {
	switch f {
	case SeqContinuation:
		return "Continuation"
	case SeqFirst:
		return "First"
	case SeqLast:
		return "Last"
	case SeqUnsegmented:
		return "Unsegmented"
	default:
		return "Unknown"
	}
}

// Errors
var (
	ErrPacketTooShort   = errors.New("space packet too short")
	ErrInvalidVersion   = errors.New("unsupported space packet version")
	ErrInvalidAPID      = errors.New("APID out of range")
	ErrEmptyDataField   = errors.New("packet data field must hold at least one octet")
	ErrDataFieldTooLong = errors.New("packet data field too long")
	ErrInvalidCRC       = errors.New("packet error control mismatch")
)
