// Package header implements the MAL/SPP secondary header codec: the
// fixed-size routing part and the variable-size part selected by the
// presence flags.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"

	"avaneesh/malspp-go/pkg/mal"
	"avaneesh/malspp-go/pkg/spp"
)

// Errors
var (
	ErrHeaderTooShort = errors.New("secondary header too short")
	ErrFieldRange     = errors.New("header field out of range")
	ErrMalformed      = errors.New("malformed secondary header")
)

// SecondaryHeader holds every field of the MAL secondary header.
type SecondaryHeader struct {
	Version                uint8
	SDUType                mal.SDUType
	Area                   uint16
	Service                uint16
	Operation              uint16
	AreaVersion            uint8
	IsError                bool
	QoS                    mal.QoSLevel
	Session                mal.SessionType
	SecondaryAPID          uint16
	SecondaryAPIDQualifier uint16
	TransactionID          uint64
	Flags                  Flags

	SourceID      uint8 // valid if FlagSourceID
	DestinationID uint8 // valid if FlagDestinationID

	// Segmented selects whether the segment counter is on the wire.
	Segmented      bool
	SegmentCounter uint32

	VariableFields
}

// FixedLength returns the size of the fixed part for the given flags.
func FixedLength(flags Flags, segmented bool) int {
	n := BaseFixedSize
	if flags.Has(FlagSourceID) {
		n++
	}
	if flags.Has(FlagDestinationID) {
		n++
	}
	if segmented {
		n += SegmentCounterSize
	}
	return n
}

// FixedLength returns the encoded size of the fixed part of h.
func (h *SecondaryHeader) FixedLength() int {
	return FixedLength(h.Flags, h.Segmented)
}

func (h *SecondaryHeader) validate() error {
	switch {
	case h.Version > fieldVersion.max():
		return fmt.Errorf("%w: version %d", ErrFieldRange, h.Version)
	case !h.SDUType.Valid():
		return fmt.Errorf("%w: %d", mal.ErrUnknownSDUType, h.SDUType)
	case uint8(h.QoS) > fieldQoS.max():
		return fmt.Errorf("%w: qos %d", ErrFieldRange, h.QoS)
	case uint8(h.Session) > fieldSession.max():
		return fmt.Errorf("%w: session %d", ErrFieldRange, h.Session)
	case h.SecondaryAPID > spp.MaxAPID:
		return fmt.Errorf("%w: secondary APID %d", ErrFieldRange, h.SecondaryAPID)
	}
	return nil
}

// EncodeFixed encodes the fixed part of h.
func EncodeFixed(h *SecondaryHeader) ([]byte, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, BaseFixedSize, h.FixedLength())

	buf[offVersionSDU] = fieldSDUType.put(fieldVersion.put(0, h.Version), uint8(h.SDUType))
	binary.BigEndian.PutUint16(buf[offArea:], h.Area)
	binary.BigEndian.PutUint16(buf[offService:], h.Service)
	binary.BigEndian.PutUint16(buf[offOperation:], h.Operation)
	buf[offAreaVersion] = h.AreaVersion

	var ctl uint8
	if h.IsError {
		ctl = fieldIsError.put(ctl, 1)
	}
	ctl = fieldQoS.put(ctl, uint8(h.QoS))
	ctl = fieldSession.put(ctl, uint8(h.Session))
	ctl = fieldAPIDHigh.put(ctl, uint8(h.SecondaryAPID>>8))
	buf[offControl] = ctl
	buf[offAPIDLow] = byte(h.SecondaryAPID)

	binary.BigEndian.PutUint16(buf[offQualifier:], h.SecondaryAPIDQualifier)
	binary.BigEndian.PutUint64(buf[offTransaction:], h.TransactionID)
	buf[offFlags] = uint8(h.Flags)

	if h.Flags.Has(FlagSourceID) {
		buf = append(buf, h.SourceID)
	}
	if h.Flags.Has(FlagDestinationID) {
		buf = append(buf, h.DestinationID)
	}
	if h.Segmented {
		buf = binary.BigEndian.AppendUint32(buf, h.SegmentCounter)
	}
	return buf, nil
}

// DecodeFixed decodes the fixed part at the start of b. seq is the
// sequence flags of the enclosing space packet, which decide whether a
// segment counter follows. It returns the header and the bytes consumed.
func DecodeFixed(b []byte, seq spp.SequenceFlags) (*SecondaryHeader, int, error) {
	if len(b) < BaseFixedSize {
		return nil, 0, fmt.Errorf("%w: %d bytes, need %d", ErrHeaderTooShort, len(b), BaseFixedSize)
	}
	flags := Flags(b[offFlags])
	segmented := seq != spp.SeqUnsegmented
	need := FixedLength(flags, segmented)
	if len(b) < need {
		return nil, 0, fmt.Errorf("%w: %d bytes, need %d", ErrHeaderTooShort, len(b), need)
	}

	sdu := mal.SDUType(fieldSDUType.get(b[offVersionSDU]))
	if !sdu.Valid() {
		return nil, 0, fmt.Errorf("%w: %w: %d", ErrMalformed, mal.ErrUnknownSDUType, sdu)
	}
	ctl := b[offControl]
	h := &SecondaryHeader{
		Version:                fieldVersion.get(b[offVersionSDU]),
		SDUType:                sdu,
		Area:                   binary.BigEndian.Uint16(b[offArea:]),
		Service:                binary.BigEndian.Uint16(b[offService:]),
		Operation:              binary.BigEndian.Uint16(b[offOperation:]),
		AreaVersion:            b[offAreaVersion],
		IsError:                fieldIsError.get(ctl) == 1,
		QoS:                    mal.QoSLevel(fieldQoS.get(ctl)),
		Session:                mal.SessionType(fieldSession.get(ctl)),
		SecondaryAPID:          uint16(fieldAPIDHigh.get(ctl))<<8 | uint16(b[offAPIDLow]),
		SecondaryAPIDQualifier: binary.BigEndian.Uint16(b[offQualifier:]),
		TransactionID:          binary.BigEndian.Uint64(b[offTransaction:]),
		Flags:                  flags,
		Segmented:              segmented,
	}

	pos := BaseFixedSize
	if flags.Has(FlagSourceID) {
		h.SourceID = b[pos]
		pos++
	}
	if flags.Has(FlagDestinationID) {
		h.DestinationID = b[pos]
		pos++
	}
	if segmented {
		h.SegmentCounter = binary.BigEndian.Uint32(b[pos:])
		pos += SegmentCounterSize
	}
	return h, pos, nil
}

// Encode encodes the fixed and variable parts of h back to back.
func Encode(h *SecondaryHeader, cfg Config) ([]byte, error) {
	fixed, err := EncodeFixed(h)
	if err != nil {
		return nil, err
	}
	variable, err := EncodeVariable(h, cfg)
	if err != nil {
		return nil, err
	}
	return append(fixed, variable...), nil
}

// Decode decodes a complete secondary header from the start of b and
// returns it with the number of bytes consumed.
func Decode(b []byte, seq spp.SequenceFlags, cfg Config) (*SecondaryHeader, int, error) {
	h, n, err := DecodeFixed(b, seq)
	if err != nil {
		return nil, 0, err
	}
	v, m, err := DecodeVariable(b[n:], h.Flags, cfg)
	if err != nil {
		return nil, 0, err
	}
	h.VariableFields = v
	return h, n + m, nil
}

// Clone returns a deep copy of h.
func (h *SecondaryHeader) Clone() *SecondaryHeader {
	c := *h
	c.VariableFields = h.VariableFields.clone()
	return &c
}

// String returns a short description of h.
func (h *SecondaryHeader) String() string {
	return fmt.Sprintf("Header{%s area=%d/%d svc=%d op=%d tid=%d err=%t apid=%d:%d seg=%d}",
		h.SDUType, h.Area, h.AreaVersion, h.Service, h.Operation, h.TransactionID,
		h.IsError, h.SecondaryAPIDQualifier, h.SecondaryAPID, h.SegmentCounter)
}
