package header

// Fixed part of the MAL/SPP secondary header (big-endian, byte offsets):
//
//	 0      version(3) | sduType(5)
//	 1-2    area
//	 3-4    service
//	 5-6    operation
//	 7      areaVersion
//	 8      isError(1) | qos(2) | session(2) | secondaryApid bits 10..8 (3)
//	 9      secondaryApid bits 7..0
//	10-11   secondaryApidQualifier
//	12-19   transactionId
//	20      presence flags (see Flags)
//	21      sourceId        if FlagSourceID
//	 .      destinationId   if FlagDestinationID
//	 .      segmentCounter  (4 bytes) unless the packet is unsegmented
//
// Every sub-byte field goes through one entry of the table below so that
// encode and decode use the same shift and width.

// bitField is a run of width bits starting at shift (0 = least significant).
type bitField struct {
	shift uint8
	width uint8
}

func (f bitField) mask() uint8 {
	return uint8(1<<f.width-1) << f.shift
}

// max is the largest value the field can hold.
func (f bitField) max() uint8 {
	return uint8(1<<f.width - 1)
}

// put stores v into b, clearing the field first. Bits of v beyond the
// field width are discarded.
func (f bitField) put(b uint8, v uint8) uint8 {
	return b&^f.mask() | (v<<f.shift)&f.mask()
}

func (f bitField) get(b uint8) uint8 {
	return (b & f.mask()) >> f.shift
}

var (
	// byte 0
	fieldVersion = bitField{shift: 5, width: 3}
	fieldSDUType = bitField{shift: 0, width: 5}

	// byte 8
	fieldIsError  = bitField{shift: 7, width: 1}
	fieldQoS      = bitField{shift: 5, width: 2}
	fieldSession  = bitField{shift: 3, width: 2}
	fieldAPIDHigh = bitField{shift: 0, width: 3}
)

// Byte offsets within the fixed part.
const (
	offVersionSDU  = 0
	offArea        = 1
	offService     = 3
	offOperation   = 5
	offAreaVersion = 7
	offControl     = 8
	offAPIDLow     = 9
	offQualifier   = 10
	offTransaction = 12
	offFlags       = 20

	// BaseFixedSize is the fixed part without optional ids or the segment counter.
	BaseFixedSize = 21

	// SegmentCounterSize is the width of the segment counter field.
	SegmentCounterSize = 4
)

// Flags is the presence bitmap of optional header fields.
type Flags uint8

const (
	FlagSourceID         Flags = 1 << 7
	FlagDestinationID    Flags = 1 << 6
	FlagPriority         Flags = 1 << 5
	FlagTimestamp        Flags = 1 << 4
	FlagNetworkZone      Flags = 1 << 3
	FlagSessionName      Flags = 1 << 2
	FlagDomain           Flags = 1 << 1
	FlagAuthenticationID Flags = 1 << 0
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}
