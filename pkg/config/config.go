// Package config loads malspp node configuration from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"avaneesh/malspp-go/pkg/channel"
	"avaneesh/malspp-go/pkg/codec"
	"avaneesh/malspp-go/pkg/internal/logger"
	"avaneesh/malspp-go/pkg/spp"
	"avaneesh/malspp-go/pkg/transport"
)

var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is a node configuration: one transport on one physical channel
// plus the endpoints to open on it.
type Config struct {
	Name        string           `yaml:"name" toml:"name"`
	Transport   TransportSection `yaml:"transport" toml:"transport"`
	Channel     ChannelSection   `yaml:"channel" toml:"channel"`
	Log         LogSection       `yaml:"log" toml:"log"`
	Metrics     MetricsSection   `yaml:"metrics" toml:"metrics"`
	Registry    string           `yaml:"registry" toml:"registry"`
	Compression string           `yaml:"compression" toml:"compression"`
	Endpoints   []string         `yaml:"endpoints" toml:"endpoints"`
}

// TransportSection mirrors transport.TransportConfig.
type TransportSection struct {
	APIDQualifier     uint16   `yaml:"apid_qualifier" toml:"apid_qualifier"`
	PacketType        string   `yaml:"packet_type" toml:"packet_type"`
	CRC               bool     `yaml:"crc" toml:"crc"`
	DataFieldLimit    int      `yaml:"data_field_limit" toml:"data_field_limit"`
	Varint            *bool    `yaml:"varint" toml:"varint"`
	TimeCodec         string   `yaml:"time_codec" toml:"time_codec"`
	ReassemblyTimeout Duration `yaml:"reassembly_timeout" toml:"reassembly_timeout"`
	IdleTimeout       Duration `yaml:"idle_timeout" toml:"idle_timeout"`
	SweepInterval     Duration `yaml:"sweep_interval" toml:"sweep_interval"`
	MaxReassemblySize int      `yaml:"max_reassembly_size" toml:"max_reassembly_size"`
	DeliveryQueueSize int      `yaml:"delivery_queue_size" toml:"delivery_queue_size"`
	APIDs             []uint16 `yaml:"apids" toml:"apids"`
}

// ChannelSection selects and configures the physical channel.
type ChannelSection struct {
	Type           string   `yaml:"type" toml:"type"` // udp, tcp or quic
	Address        string   `yaml:"address" toml:"address"`
	Server         bool     `yaml:"server" toml:"server"`
	ReconnectDelay Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	ReadTimeout    Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout" toml:"write_timeout"`
}

type LogSection struct {
	Level      string `yaml:"level" toml:"level"`
	FrameDebug bool   `yaml:"frame_debug" toml:"frame_debug"`
}

type MetricsSection struct {
	Address string `yaml:"address" toml:"address"`
}

// Default returns a configuration for a TCP client sending telecommands.
func Default() Config {
	return Config{
		Name: "malspp",
		Transport: TransportSection{
			PacketType: "tc",
			TimeCodec:  "cds",
		},
		Channel: ChannelSection{
			Type:    "tcp",
			Address: "127.0.0.1:20000",
		},
		Log:         LogSection{Level: "info"},
		Compression: "none",
	}
}

// Load reads path, choosing the format by extension: .toml for TOML,
// anything else for YAML. Unset fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if _, err := c.PacketType(); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log: %w", ErrInvalid, err)
	}
	if _, err := codec.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	switch c.Channel.Type {
	case "udp", "tcp", "quic":
	default:
		return fmt.Errorf("%w: channel type %q", ErrInvalid, c.Channel.Type)
	}
	if c.Channel.Address == "" {
		return fmt.Errorf("%w: channel address is required", ErrInvalid)
	}

	for _, uri := range c.Endpoints {
		addr, err := transport.ParseURI(uri)
		if err != nil {
			return fmt.Errorf("%w: endpoint: %w", ErrInvalid, err)
		}
		if addr.APIDQualifier != c.Transport.APIDQualifier {
			return fmt.Errorf("%w: endpoint %s is outside qualifier %d", ErrInvalid, uri, c.Transport.APIDQualifier)
		}
	}

	tc, err := c.TransportConfig()
	if err != nil {
		return err
	}
	if err := tc.Validate(); err != nil {
		return err
	}
	return nil
}

// PacketType parses the transport packet type: tc or tm.
func (c *Config) PacketType() (spp.PacketType, error) {
	switch strings.ToLower(c.Transport.PacketType) {
	case "tc", "telecommand":
		return spp.TypeTelecommand, nil
	case "tm", "telemetry":
		return spp.TypeTelemetry, nil
	default:
		return 0, fmt.Errorf("%w: packet type %q", ErrInvalid, c.Transport.PacketType)
	}
}

// TransportConfig converts the transport section. Zero values are left
// for transport.TransportConfig.Validate to default.
func (c *Config) TransportConfig() (transport.TransportConfig, error) {
	pt, err := c.PacketType()
	if err != nil {
		return transport.TransportConfig{}, err
	}
	s := c.Transport
	tc := transport.TransportConfig{
		APIDQualifier:        s.APIDQualifier,
		PacketType:           pt,
		PacketErrorControl:   s.CRC,
		PacketDataFieldLimit: s.DataFieldLimit,
		Varint:               true,
		TimeCodec:            s.TimeCodec,
		ReassemblyTimeout:    s.ReassemblyTimeout.Duration,
		ContextIdleTimeout:   s.IdleTimeout.Duration,
		SweepInterval:        s.SweepInterval.Duration,
		MaxReassemblySize:    s.MaxReassemblySize,
		DeliveryQueueSize:    s.DeliveryQueueSize,
		APIDs:                s.APIDs,
	}
	if s.Varint != nil {
		tc.Varint = *s.Varint
	}
	return tc, nil
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logger.Level {
	level, _ := logger.ParseLevel(c.Log.Level)
	return level
}

// CompressionMode returns the parsed body compression.
func (c *Config) CompressionMode() codec.Compression {
	mode, _ := codec.ParseCompression(c.Compression)
	return mode
}

// EndpointAddresses returns the parsed endpoint addresses.
func (c *Config) EndpointAddresses() ([]transport.Address, error) {
	addrs := make([]transport.Address, 0, len(c.Endpoints))
	for _, uri := range c.Endpoints {
		addr, err := transport.ParseURI(uri)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// NewPhysicalChannel creates the channel described by the channel
// section.
func (c *Config) NewPhysicalChannel() (channel.PhysicalChannel, error) {
	s := c.Channel
	switch s.Type {
	case "udp":
		return channel.NewUDPChannel(channel.UDPChannelConfig{
			Address:      s.Address,
			IsServer:     s.Server,
			ReadTimeout:  s.ReadTimeout.Duration,
			WriteTimeout: s.WriteTimeout.Duration,
		})
	case "tcp":
		return channel.NewTCPChannel(channel.TCPChannelConfig{
			Address:        s.Address,
			IsServer:       s.Server,
			ReconnectDelay: s.ReconnectDelay.Duration,
			ReadTimeout:    s.ReadTimeout.Duration,
			WriteTimeout:   s.WriteTimeout.Duration,
		})
	case "quic":
		return channel.NewQUICChannel(channel.QUICChannelConfig{
			Address:        s.Address,
			IsServer:       s.Server,
			ReconnectDelay: s.ReconnectDelay.Duration,
			ReadTimeout:    s.ReadTimeout.Duration,
			WriteTimeout:   s.WriteTimeout.Duration,
		})
	default:
		return nil, fmt.Errorf("%w: channel type %q", ErrInvalid, s.Type)
	}
}
