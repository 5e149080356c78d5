package header

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeRange is returned when a time cannot be represented by a codec.
var ErrTimeRange = errors.New("time outside codec range")

// TimeCodec encodes the timestamp field. Deployments pick one per channel.
type TimeCodec interface {
	Name() string
	Encode(b *Buffer, t time.Time) error
	Decode(r *Reader) (time.Time, error)
}

// CCSDS epoch used by the CDS and CUC codes (leap seconds are ignored).
var ccsdsEpoch = time.Date(1958, time.January, 1, 0, 0, 0, 0, time.UTC)

const msPerDay = 24 * 60 * 60 * 1000

// CDSTimeCodec is the CCSDS Day Segmented code: 16-bit day count since
// 1958-01-01 and 32-bit milliseconds of day. Six bytes.
type CDSTimeCodec struct{}

// Name returns "cds".
func (CDSTimeCodec) Name() string { return "cds" }

// Encode writes t truncated to milliseconds.
func (CDSTimeCodec) Encode(b *Buffer, t time.Time) error {
	ms := t.Sub(ccsdsEpoch).Milliseconds()
	if ms < 0 || ms/msPerDay > 0xFFFF {
		return fmt.Errorf("%w: %s", ErrTimeRange, t)
	}
	b.WriteUint16(uint16(ms / msPerDay))
	b.WriteUint32(uint32(ms % msPerDay))
	return nil
}

// Decode reads a CDS time.
func (CDSTimeCodec) Decode(r *Reader) (time.Time, error) {
	days, err := r.ReadUint16()
	if err != nil {
		return time.Time{}, err
	}
	ms, err := r.ReadUint32()
	if err != nil {
		return time.Time{}, err
	}
	if ms >= msPerDay {
		return time.Time{}, fmt.Errorf("%w: %d ms of day", ErrTimeRange, ms)
	}
	return ccsdsEpoch.AddDate(0, 0, int(days)).Add(time.Duration(ms) * time.Millisecond), nil
}

// CUCTimeCodec is the CCSDS Unsegmented code with 4 coarse octets
// (seconds since 1958-01-01) and 2 fine octets (1/65536 s).
type CUCTimeCodec struct{}

// Name returns "cuc".
func (CUCTimeCodec) Name() string { return "cuc" }

// Encode writes t with 2^-16 s resolution.
func (CUCTimeCodec) Encode(b *Buffer, t time.Time) error {
	d := t.Sub(ccsdsEpoch)
	if d < 0 {
		return fmt.Errorf("%w: %s", ErrTimeRange, t)
	}
	secs := int64(d / time.Second)
	if secs > 0xFFFFFFFF {
		return fmt.Errorf("%w: %s", ErrTimeRange, t)
	}
	frac := int64(d % time.Second)
	b.WriteUint32(uint32(secs))
	b.WriteUint16(uint16(frac << 16 / int64(time.Second)))
	return nil
}

// Decode reads a CUC time.
func (CUCTimeCodec) Decode(r *Reader) (time.Time, error) {
	secs, err := r.ReadUint32()
	if err != nil {
		return time.Time{}, err
	}
	fine, err := r.ReadUint16()
	if err != nil {
		return time.Time{}, err
	}
	frac := time.Duration(int64(fine) * int64(time.Second) >> 16)
	return ccsdsEpoch.Add(time.Duration(secs)*time.Second + frac), nil
}

// UnixMilliTimeCodec writes milliseconds since the Unix epoch as a
// 48-bit big-endian integer.
type UnixMilliTimeCodec struct{}

// Name returns "unix48".
func (UnixMilliTimeCodec) Name() string { return "unix48" }

// Encode writes t truncated to milliseconds.
func (UnixMilliTimeCodec) Encode(b *Buffer, t time.Time) error {
	ms := t.UnixMilli()
	if ms < 0 || ms >= 1<<48 {
		return fmt.Errorf("%w: %s", ErrTimeRange, t)
	}
	b.WriteUint16(uint16(ms >> 32))
	b.WriteUint32(uint32(ms))
	return nil
}

// Decode reads a 48-bit millisecond time.
func (UnixMilliTimeCodec) Decode(r *Reader) (time.Time, error) {
	hi, err := r.ReadUint16()
	if err != nil {
		return time.Time{}, err
	}
	lo, err := r.ReadUint32()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(hi)<<32 | int64(lo)).UTC(), nil
}

// TimeCodecByName returns the codec registered under name.
func TimeCodecByName(name string) (TimeCodec, error) {
	switch name {
	case "", "cds":
		return CDSTimeCodec{}, nil
	case "cuc":
		return CUCTimeCodec{}, nil
	case "unix48":
		return UnixMilliTimeCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown time codec %q", name)
	}
}
