package transport

import (
	"errors"
	"fmt"
	"time"

	"avaneesh/malspp-go/pkg/header"
	"avaneesh/malspp-go/pkg/spp"
)

// Defaults
const (
	DefaultReassemblyTimeout = 120 * time.Second
	DefaultSweepInterval     = 10 * time.Second
	DefaultMaxReassemblySize = 4 << 20
	DefaultDataFieldLimit    = spp.MaxDataFieldSize - spp.CRCSize
	DefaultDeliveryQueueSize = 64
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid transport configuration")

// TransportConfig holds configuration for transport layer
type TransportConfig struct {
	// APIDQualifier qualifies the APID carried in the primary header.
	APIDQualifier uint16

	// PacketType is used for every packet this transport emits.
	PacketType spp.PacketType

	// PacketErrorControl appends and verifies the CRC-16 field.
	PacketErrorControl bool

	// PacketDataFieldLimit bounds the packet data field (secondary
	// header, segment counter and body chunk). The CRC is not counted.
	PacketDataFieldLimit int

	// Varint selects varint integers in the variable header part.
	Varint bool

	// TimeCodec names the timestamp encoding: cds, cuc or unix48.
	TimeCodec string

	// ReassemblyTimeout is the maximum age of a buffered segment.
	// Default: 120 seconds
	ReassemblyTimeout time.Duration

	// ContextIdleTimeout evicts segmentation contexts that received
	// nothing for this long. Defaults to ReassemblyTimeout.
	ContextIdleTimeout time.Duration

	// SweepInterval is the period of the idle sweep.
	SweepInterval time.Duration

	// MaxReassemblySize bounds the buffered bytes of one context.
	MaxReassemblySize int

	// DeliveryQueueSize is the per-endpoint queue of ready messages.
	DeliveryQueueSize int

	// APIDs are the primary APIDs this transport claims on its
	// channel. Empty claims every APID.
	APIDs []uint16
}

// DefaultTransportConfig returns default transport configuration
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		PacketType:           spp.TypeTelecommand,
		PacketDataFieldLimit: DefaultDataFieldLimit,
		Varint:               true,
		TimeCodec:            header.CDSTimeCodec{}.Name(),
		ReassemblyTimeout:    DefaultReassemblyTimeout,
		ContextIdleTimeout:   DefaultReassemblyTimeout,
		SweepInterval:        DefaultSweepInterval,
		MaxReassemblySize:    DefaultMaxReassemblySize,
		DeliveryQueueSize:    DefaultDeliveryQueueSize,
	}
}

// Validate checks the configuration and fills zero durations and sizes
// with their defaults.
func (c *TransportConfig) Validate() error {
	if c.PacketType != spp.TypeTelecommand && c.PacketType != spp.TypeTelemetry {
		return fmt.Errorf("%w: packet type %d", ErrInvalidConfig, c.PacketType)
	}
	if c.PacketDataFieldLimit == 0 {
		c.PacketDataFieldLimit = DefaultDataFieldLimit
	}
	limit := spp.MaxDataFieldSize
	if c.PacketErrorControl {
		limit -= spp.CRCSize
	}
	if c.PacketDataFieldLimit < header.BaseFixedSize || c.PacketDataFieldLimit > limit {
		return fmt.Errorf("%w: packet data field limit %d not in [%d, %d]",
			ErrInvalidConfig, c.PacketDataFieldLimit, header.BaseFixedSize, limit)
	}
	if c.TimeCodec == "" {
		c.TimeCodec = header.CDSTimeCodec{}.Name()
	}
	if _, err := header.TimeCodecByName(c.TimeCodec); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.ReassemblyTimeout < 0 || c.ContextIdleTimeout < 0 || c.SweepInterval < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	if c.ReassemblyTimeout == 0 {
		c.ReassemblyTimeout = DefaultReassemblyTimeout
	}
	if c.ContextIdleTimeout == 0 {
		c.ContextIdleTimeout = c.ReassemblyTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MaxReassemblySize < 0 || c.DeliveryQueueSize < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidConfig)
	}
	if c.MaxReassemblySize == 0 {
		c.MaxReassemblySize = DefaultMaxReassemblySize
	}
	if c.DeliveryQueueSize == 0 {
		c.DeliveryQueueSize = DefaultDeliveryQueueSize
	}
	for _, apid := range c.APIDs {
		if apid > spp.MaxAPID {
			return fmt.Errorf("%w: APID %d", ErrInvalidConfig, apid)
		}
	}
	return nil
}

// HeaderConfig returns the secondary header codec settings.
func (c *TransportConfig) HeaderConfig() (header.Config, error) {
	tc, err := header.TimeCodecByName(c.TimeCodec)
	if err != nil {
		return header.Config{}, err
	}
	return header.Config{Varint: c.Varint, TimeCodec: tc}, nil
}
