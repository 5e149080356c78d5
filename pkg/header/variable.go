package header

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoTimeCodec is returned when a timestamp is flagged but no codec is configured.
var ErrNoTimeCodec = errors.New("timestamp flagged but no time codec configured")

// Config controls how the variable part is encoded on a channel.
type Config struct {
	// Varint selects unsigned varints instead of fixed-width integers.
	Varint    bool
	TimeCodec TimeCodec
}

// DefaultConfig returns varint integers with CDS timestamps.
func DefaultConfig() Config {
	return Config{
		Varint:    true,
		TimeCodec: CDSTimeCodec{},
	}
}

// VariableFields are the optional fields encoded after the fixed part,
// in this order, each only when its flag is set.
type VariableFields struct {
	Priority         uint32
	Timestamp        time.Time
	NetworkZone      string
	SessionName      string
	Domain           []*string // nil entries encode as null
	AuthenticationID []byte
}

func (v VariableFields) clone() VariableFields {
	c := v
	if v.Domain != nil {
		c.Domain = make([]*string, len(v.Domain))
		for i, d := range v.Domain {
			if d != nil {
				s := *d
				c.Domain[i] = &s
			}
		}
	}
	if v.AuthenticationID != nil {
		c.AuthenticationID = make([]byte, len(v.AuthenticationID))
		copy(c.AuthenticationID, v.AuthenticationID)
	}
	return c
}

// DomainString joins the non-null domain identifiers with dots.
func (v *VariableFields) DomainString() string {
	parts := make([]string, 0, len(v.Domain))
	for _, d := range v.Domain {
		if d != nil {
			parts = append(parts, *d)
		}
	}
	return strings.Join(parts, ".")
}

// EncodeVariable encodes the variable part of h selected by h.Flags.
func EncodeVariable(h *SecondaryHeader, cfg Config) ([]byte, error) {
	b := NewBuffer(32, cfg.Varint)
	f := h.Flags

	if f.Has(FlagPriority) {
		b.WriteUInteger(h.Priority)
	}
	if f.Has(FlagTimestamp) {
		if cfg.TimeCodec == nil {
			return nil, ErrNoTimeCodec
		}
		if err := cfg.TimeCodec.Encode(b, h.Timestamp); err != nil {
			return nil, fmt.Errorf("timestamp: %w", err)
		}
	}
	if f.Has(FlagNetworkZone) {
		b.WriteString(h.NetworkZone)
	}
	if f.Has(FlagSessionName) {
		b.WriteString(h.SessionName)
	}
	if f.Has(FlagDomain) {
		if len(h.Domain) > 0xFFFF {
			return nil, fmt.Errorf("%w: %d domain entries", ErrFieldRange, len(h.Domain))
		}
		b.WriteUShort(uint16(len(h.Domain)))
		for _, d := range h.Domain {
			if d == nil {
				b.WriteUint8(0)
				continue
			}
			b.WriteUint8(1)
			b.WriteString(*d)
		}
	}
	if f.Has(FlagAuthenticationID) {
		b.WriteBlob(h.AuthenticationID)
	}
	return b.Bytes(), nil
}

// DecodeVariable decodes the variable part at the start of b. Fields
// whose flag is clear are left at their zero value and never read.
func DecodeVariable(b []byte, flags Flags, cfg Config) (VariableFields, int, error) {
	var v VariableFields
	r := NewReader(b, cfg.Varint)
	var err error

	if flags.Has(FlagPriority) {
		if v.Priority, err = r.ReadUInteger(); err != nil {
			return v, 0, fmt.Errorf("%w: priority: %w", ErrMalformed, err)
		}
	}
	if flags.Has(FlagTimestamp) {
		if cfg.TimeCodec == nil {
			return v, 0, ErrNoTimeCodec
		}
		if v.Timestamp, err = cfg.TimeCodec.Decode(r); err != nil {
			return v, 0, fmt.Errorf("%w: timestamp: %w", ErrMalformed, err)
		}
	}
	if flags.Has(FlagNetworkZone) {
		if v.NetworkZone, err = r.ReadString(); err != nil {
			return v, 0, fmt.Errorf("%w: network zone: %w", ErrMalformed, err)
		}
	}
	if flags.Has(FlagSessionName) {
		if v.SessionName, err = r.ReadString(); err != nil {
			return v, 0, fmt.Errorf("%w: session name: %w", ErrMalformed, err)
		}
	}
	if flags.Has(FlagDomain) {
		count, err := r.ReadUShort()
		if err != nil {
			return v, 0, fmt.Errorf("%w: domain count: %w", ErrMalformed, err)
		}
		// Each entry needs at least its presence byte.
		if int(count) > r.Remaining() {
			return v, 0, fmt.Errorf("%w: domain count %d exceeds %d remaining bytes", ErrMalformed, count, r.Remaining())
		}
		v.Domain = make([]*string, count)
		for i := range v.Domain {
			present, err := r.ReadUint8()
			if err != nil {
				return v, 0, fmt.Errorf("%w: domain[%d]: %w", ErrMalformed, i, err)
			}
			if present == 0 {
				continue
			}
			s, err := r.ReadString()
			if err != nil {
				return v, 0, fmt.Errorf("%w: domain[%d]: %w", ErrMalformed, i, err)
			}
			v.Domain[i] = &s
		}
	}
	if flags.Has(FlagAuthenticationID) {
		if v.AuthenticationID, err = r.ReadBlob(); err != nil {
			return v, 0, fmt.Errorf("%w: authentication id: %w", ErrMalformed, err)
		}
	}
	return v, r.Offset(), nil
}

// SetSourceID sets the source id and its presence flag.
func (h *SecondaryHeader) SetSourceID(id uint8) {
	h.SourceID = id
	h.Flags |= FlagSourceID
}

// SetDestinationID sets the destination id and its presence flag.
func (h *SecondaryHeader) SetDestinationID(id uint8) {
	h.DestinationID = id
	h.Flags |= FlagDestinationID
}

// SetPriority sets the priority and its presence flag.
func (h *SecondaryHeader) SetPriority(p uint32) {
	h.Priority = p
	h.Flags |= FlagPriority
}

// SetTimestamp sets the timestamp and its presence flag.
func (h *SecondaryHeader) SetTimestamp(t time.Time) {
	h.Timestamp = t
	h.Flags |= FlagTimestamp
}

// SetNetworkZone sets the network zone and its presence flag.
func (h *SecondaryHeader) SetNetworkZone(zone string) {
	h.NetworkZone = zone
	h.Flags |= FlagNetworkZone
}

// SetSessionName sets the session name and its presence flag.
func (h *SecondaryHeader) SetSessionName(name string) {
	h.SessionName = name
	h.Flags |= FlagSessionName
}

// SetDomain sets a domain without null entries and its presence flag.
func (h *SecondaryHeader) SetDomain(parts ...string) {
	own := append([]string(nil), parts...)
	h.Domain = make([]*string, len(own))
	for i := range own {
		h.Domain[i] = &own[i]
	}
	h.Flags |= FlagDomain
}

// SetAuthenticationID sets the authentication id and its presence flag.
func (h *SecondaryHeader) SetAuthenticationID(id []byte) {
	h.AuthenticationID = id
	h.Flags |= FlagAuthenticationID
}
