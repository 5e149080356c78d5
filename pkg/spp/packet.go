package spp

import (
	"encoding/binary"
	"fmt"
)

// Packet represents a CCSDS Space Packet
type Packet struct {
	Version         uint8
	Type            PacketType
	SecondaryHeader bool
	APID            uint16
	SequenceFlags   SequenceFlags
	SequenceCount   uint16

	// Data is the packet data field without the error control octets.
	// Parse returns a view into the input buffer.
	Data []byte
}

// NewPacket creates a packet with a secondary header flag set
func NewPacket(pt PacketType, apid uint16, flags SequenceFlags, count uint16, data []byte) *Packet {
	return &Packet{
		Version:         Version1,
		Type:            pt,
		SecondaryHeader: true,
		APID:            apid,
		SequenceFlags:   flags,
		SequenceCount:   count & MaxSequenceCount,
		Data:            data,
	}
}

// Serialize converts the packet to wire format, appending the packet
// error control field when withCRC is set.
func (p *Packet) Serialize(withCRC bool) ([]byte, error) {
	if p.APID > MaxAPID {
		return nil, ErrInvalidAPID
	}
	fieldLen := len(p.Data)
	if withCRC {
		fieldLen += CRCSize
	}
	if fieldLen == 0 {
		return nil, ErrEmptyDataField
	}
	if fieldLen > MaxDataFieldSize {
		return nil, ErrDataFieldTooLong
	}

	buf := make([]byte, PrimaryHeaderSize, PrimaryHeaderSize+fieldLen)
	p.putHeader(buf, fieldLen)
	buf = append(buf, p.Data...)
	if withCRC {
		buf = AppendCRC(buf)
	}
	return buf, nil
}

func (p *Packet) putHeader(buf []byte, fieldLen int) {
	b0 := (p.Version << hdrVersionShift) & hdrVersionMask
	if p.Type == TypeTelecommand {
		b0 |= hdrTypeBit
	}
	if p.SecondaryHeader {
		b0 |= hdrSecHdrBit
	}
	b0 |= uint8(p.APID>>8) & hdrAPIDHighMask
	buf[0] = b0
	buf[1] = byte(p.APID)
	count := p.SequenceCount & MaxSequenceCount
	buf[2] = uint8(p.SequenceFlags)<<hdrSeqFlagsShift | uint8(count>>8)&hdrSeqCountHigh
	buf[3] = byte(count)
	binary.BigEndian.PutUint16(buf[4:6], uint16(fieldLen-1))
}

// PacketLength returns the total size of the packet whose primary header
// starts at data. Used by stream channels to frame packets.
func PacketLength(data []byte) (int, error) {
	if len(data) < PrimaryHeaderSize {
		return 0, ErrPacketTooShort
	}
	return PrimaryHeaderSize + int(binary.BigEndian.Uint16(data[4:6])) + 1, nil
}

// Parse parses one packet from the start of data. It returns the packet
// and the number of bytes consumed.
func Parse(data []byte, withCRC bool) (*Packet, int, error) {
	total, err := PacketLength(data)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < total {
		return nil, 0, fmt.Errorf("%w: have %d bytes, header declares %d", ErrPacketTooShort, len(data), total)
	}

	version := (data[0] & hdrVersionMask) >> hdrVersionShift
	if version != Version1 {
		return nil, 0, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}

	end := total
	if withCRC {
		if total-PrimaryHeaderSize < CRCSize {
			return nil, 0, ErrPacketTooShort
		}
		if !VerifyCRC(data[:total]) {
			return nil, 0, ErrInvalidCRC
		}
		end -= CRCSize
	}

	p := &Packet{
		Version:         version,
		Type:            PacketType((data[0] & hdrTypeBit) >> 4),
		SecondaryHeader: data[0]&hdrSecHdrBit != 0,
		APID:            uint16(data[0]&hdrAPIDHighMask)<<8 | uint16(data[1]),
		SequenceFlags:   SequenceFlags(data[2] >> hdrSeqFlagsShift),
		SequenceCount:   uint16(data[2]&hdrSeqCountHigh)<<8 | uint16(data[3]),
		Data:            data[PrimaryHeaderSize:end],
	}
	return p, total, nil
}

// String returns a string representation of the packet
func (p *Packet) String() string {
	return fmt.Sprintf("Packet{%s, APID=%d, Seq=%s/%d, DataLen=%d}",
		p.Type, p.APID, p.SequenceFlags, p.SequenceCount, len(p.Data))
}

// Clone creates a deep copy of the packet
func (p *Packet) Clone() *Packet {
	c := *p
	c.Data = append([]byte(nil), p.Data...)
	return &c
}
