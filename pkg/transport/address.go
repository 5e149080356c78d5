package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"avaneesh/malspp-go/pkg/header"
	"avaneesh/malspp-go/pkg/spp"
)

// URIScheme prefixes every MAL/SPP address URI.
const URIScheme = "malspp:"

// ErrInvalidAddress is returned for URIs that do not name an APID.
var ErrInvalidAddress = errors.New("invalid malspp address")

// Address identifies a MAL endpoint on a space packet network: an APID
// within a qualifier, optionally narrowed by an 8-bit instance id.
type Address struct {
	APIDQualifier uint16
	APID          uint16
	HasID         bool
	ID            uint8
}

// NewAddress returns an address without an instance id.
func NewAddress(qualifier, apid uint16) Address {
	return Address{APIDQualifier: qualifier, APID: apid}
}

// WithID returns a copy of a carrying instance id id.
func (a Address) WithID(id uint8) Address {
	a.HasID = true
	a.ID = id
	return a
}

// ParseURI parses "malspp:<qualifier>/<apid>[/<id>]".
func ParseURI(uri string) (Address, error) {
	rest, ok := strings.CutPrefix(uri, URIScheme)
	if !ok {
		return Address{}, fmt.Errorf("%w: %q lacks %s prefix", ErrInvalidAddress, uri, URIScheme)
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, uri)
	}

	qualifier, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("%w: qualifier %q", ErrInvalidAddress, parts[0])
	}
	apid, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || uint16(apid) > spp.MaxAPID {
		return Address{}, fmt.Errorf("%w: apid %q", ErrInvalidAddress, parts[1])
	}
	addr := NewAddress(uint16(qualifier), uint16(apid))
	if len(parts) == 3 {
		id, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return Address{}, fmt.Errorf("%w: id %q", ErrInvalidAddress, parts[2])
		}
		addr = addr.WithID(uint8(id))
	}
	return addr, nil
}

// MustParseURI is ParseURI for constant addresses.
func MustParseURI(uri string) Address {
	a, err := ParseURI(uri)
	if err != nil {
		panic(err)
	}
	return a
}

// URI returns the address in malspp URI form.
func (a Address) URI() string {
	if a.HasID {
		return fmt.Sprintf("%s%d/%d/%d", URIScheme, a.APIDQualifier, a.APID, a.ID)
	}
	return fmt.Sprintf("%s%d/%d", URIScheme, a.APIDQualifier, a.APID)
}

// String returns the URI form.
func (a Address) String() string {
	return a.URI()
}

// stampAddresses writes from and to into the routing fields of h and
// returns the APID for the primary header. For telecommands the primary
// APID names the destination and the secondary fields name the source;
// telemetry swaps the roles.
func stampAddresses(h *header.SecondaryHeader, pt spp.PacketType, from, to Address) uint16 {
	h.Flags &^= header.FlagSourceID | header.FlagDestinationID
	h.SourceID, h.DestinationID = 0, 0
	if from.HasID {
		h.SetSourceID(from.ID)
	}
	if to.HasID {
		h.SetDestinationID(to.ID)
	}

	if pt == spp.TypeTelecommand {
		h.SecondaryAPID = from.APID
		h.SecondaryAPIDQualifier = from.APIDQualifier
		return to.APID
	}
	h.SecondaryAPID = to.APID
	h.SecondaryAPIDQualifier = to.APIDQualifier
	return from.APID
}

// recoverAddresses is the inverse of stampAddresses. The primary side
// takes the local qualifier since the primary header has none.
func recoverAddresses(h *header.SecondaryHeader, pkt *spp.Packet, qualifier uint16) (from, to Address) {
	primary := NewAddress(qualifier, pkt.APID)
	secondary := NewAddress(h.SecondaryAPIDQualifier, h.SecondaryAPID)
	if pkt.Type == spp.TypeTelecommand {
		from, to = secondary, primary
	} else {
		from, to = primary, secondary
	}
	if h.Flags.Has(header.FlagSourceID) {
		from = from.WithID(h.SourceID)
	}
	if h.Flags.Has(header.FlagDestinationID) {
		to = to.WithID(h.DestinationID)
	}
	return from, to
}
