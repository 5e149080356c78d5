// Package transport carries MAL messages over space packets: it
// fragments outgoing messages to fit the packet size limit, reassembles
// incoming segments per logical message, and dispatches complete
// messages to local endpoints.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"avaneesh/malspp-go/pkg/channel"
	"avaneesh/malspp-go/pkg/codec"
	"avaneesh/malspp-go/pkg/header"
	"avaneesh/malspp-go/pkg/internal/clock"
	"avaneesh/malspp-go/pkg/internal/logger"
	"avaneesh/malspp-go/pkg/mal"
	"avaneesh/malspp-go/pkg/registry"
	"avaneesh/malspp-go/pkg/spp"
)

var (
	ErrTransportClosed  = errors.New("transport is closed")
	ErrTransportOpen    = errors.New("transport is already open")
	ErrMalformedPacket  = errors.New("malformed packet")
	ErrNoHeader         = errors.New("message has no header")
	ErrEndpointExists   = errors.New("endpoint already exists")
	ErrInteractionClash = errors.New("SDU type does not match the operation's interaction")
)

// Option configures a Transport.
type Option func(*Transport)

// WithID names the transport and its channel in logs.
func WithID(id string) Option {
	return func(t *Transport) { t.id = id }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithClock sets the clock used for segment arrival times and sweeps.
func WithClock(c clock.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

// WithRegistry enables checking incoming messages against their
// operation's interaction pattern.
func WithRegistry(r registry.Registry) Option {
	return func(t *Transport) { t.registry = r }
}

// WithCodec sets the codec used for bodies the transport generates
// itself, such as DESTINATION_UNKNOWN error replies.
func WithCodec(c codec.Codec) Option {
	return func(t *Transport) { t.codec = c }
}

// Transport is a MAL/SPP transport bound to one physical channel
type Transport struct {
	id        string
	config    TransportConfig
	hdrConfig header.Config

	channel     *channel.Channel
	sender      *Sender
	reassembler *Reassembler

	registry registry.Registry
	codec    codec.Codec
	clock    clock.Clock
	logger   logger.Logger
	stats    *TransportStatistics

	endpoints map[Address]*Endpoint
	open      bool
	mu        sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a transport on physical. The channel is not read until
// Open is called.
func New(config TransportConfig, physical channel.PhysicalChannel, opts ...Option) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	hdrConfig, err := config.HeaderConfig()
	if err != nil {
		return nil, err
	}

	t := &Transport{
		id:        "malspp",
		config:    config,
		hdrConfig: hdrConfig,
		codec:     codec.Default(),
		clock:     clock.Real(),
		logger:    logger.GetDefault(),
		stats:     NewTransportStatistics(),
		endpoints: make(map[Address]*Endpoint),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.NewNoOpLogger()
	}

	t.channel = channel.New(t.id, physical, config.PacketErrorControl, t.logger)
	t.sender = NewSender(config, hdrConfig, t.stats)
	t.reassembler = NewReassembler(config, t.clock, t.stats)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t, nil
}

// ID returns the transport ID
func (t *Transport) ID() string {
	return t.id
}

// Config returns the validated configuration.
func (t *Transport) Config() TransportConfig {
	return t.config
}

// Open starts the channel read loop and the idle sweeper.
func (t *Transport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open {
		return ErrTransportOpen
	}
	if t.ctx.Err() != nil {
		return ErrTransportClosed
	}
	if err := t.channel.AddSession(t); err != nil {
		return err
	}
	if err := t.channel.Open(); err != nil {
		t.channel.RemoveSession(t)
		return err
	}
	t.open = true

	t.wg.Add(1)
	go t.sweepLoop()

	t.logger.Info("Transport %s opened: %s packets, qualifier %d, data field limit %d",
		t.id, t.config.PacketType, t.config.APIDQualifier, t.config.PacketDataFieldLimit)
	return nil
}

// Close stops the transport, its channel and every endpoint.
func (t *Transport) Close() error {
	t.mu.Lock()
	wasOpen := t.open
	t.open = false
	endpoints := t.endpoints
	t.endpoints = make(map[Address]*Endpoint)
	t.mu.Unlock()

	t.cancel()
	if err := t.channel.Close(); err != nil {
		t.logger.Error("Transport %s channel close: %v", t.id, err)
	}
	for _, ep := range endpoints {
		ep.stop()
	}
	t.wg.Wait()
	t.reassembler.Reset()

	if wasOpen {
		t.logger.Info("Transport %s closed", t.id)
	}
	return nil
}

func (t *Transport) isOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}

// sweepLoop periodically evicts idle segmentation contexts
func (t *Transport) sweepLoop() {
	defer t.wg.Done()

	ticker := t.clock.NewTicker(t.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if n := t.reassembler.Sweep(); n > 0 {
				t.logger.Debug("Transport %s evicted %d idle contexts", t.id, n)
			}
		}
	}
}

// Send fragments msg and writes its packets to the channel. msg.Header
// is not modified; the routing fields are derived from From and To.
func (t *Transport) Send(ctx context.Context, msg *Message) error {
	if msg.Header == nil {
		return ErrNoHeader
	}
	if !t.isOpen() {
		return ErrTransportClosed
	}
	if msg.Header.IsError && !msg.Header.SDUType.ErrorCapable() {
		return fmt.Errorf("%w: %s", mal.ErrErrorNotAllowed, msg.Header.SDUType)
	}

	h := msg.Header.Clone()
	apid := stampAddresses(h, t.config.PacketType, msg.From, msg.To)
	n, err := t.sender.Send(ctx, apid, h, msg.Body, t.channel)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", h.SDUType, msg.To, err)
	}
	t.logger.Debug("Transport %s sent %s in %d packets", t.id, msg, n)
	return nil
}

// OnPacket implements channel.Session. It runs on the channel read loop.
func (t *Transport) OnPacket(pkt *spp.Packet) error {
	t.stats.IncrementRxPackets()

	if !pkt.SecondaryHeader {
		return t.malformed(pkt, errors.New("secondary header flag not set"))
	}
	h, n, err := header.Decode(pkt.Data, pkt.SequenceFlags, t.hdrConfig)
	if err != nil {
		return t.malformed(pkt, err)
	}
	if h.IsError && !h.SDUType.ErrorCapable() {
		return t.malformed(pkt, fmt.Errorf("%w: %s", mal.ErrErrorNotAllowed, h.SDUType))
	}

	now := t.clock.Now()
	from, to := recoverAddresses(h, pkt, t.config.APIDQualifier)
	seg := NewSegment(pkt.SequenceFlags, h.SegmentCounter, pkt.Data, n, now)
	ready, err := t.reassembler.Process(KeyOf(h, from, to), h, seg)
	if err != nil {
		t.logger.Warn("Transport %s: dropping message %s: %v", t.id, KeyOf(h, from, to), err)
		return err
	}

	for _, r := range ready {
		t.deliver(&Message{Header: r.Header, From: from, To: to, Body: r.Body, Received: now})
	}
	return nil
}

// APIDs implements channel.Session
func (t *Transport) APIDs() []uint16 {
	return t.config.APIDs
}

// Name implements channel.Session
func (t *Transport) Name() string {
	return t.id
}

func (t *Transport) malformed(pkt *spp.Packet, err error) error {
	t.stats.IncrementMalformedPackets()
	t.logger.Warn("Transport %s: discarding %s: %v", t.id, pkt, err)
	return fmt.Errorf("%w: %w", ErrMalformedPacket, err)
}

// deliver hands a complete message to its endpoint
func (t *Transport) deliver(msg *Message) {
	if err := t.checkOperation(msg.Header); err != nil {
		t.stats.IncrementMalformedPackets()
		t.logger.Warn("Transport %s: discarding %s: %v", t.id, msg, err)
		return
	}

	t.mu.RLock()
	ep, exists := t.endpoints[msg.To]
	t.mu.RUnlock()
	if !exists {
		t.unknownDestination(msg)
		return
	}

	t.stats.IncrementRxMessages()
	if !ep.enqueue(msg) {
		t.stats.IncrementDroppedDeliveries()
		t.logger.Warn("Transport %s: endpoint %s queue full, dropping %s", t.id, ep.address, msg)
	}
}

// checkOperation rejects messages whose SDU type belongs to a different
// interaction than the registered operation. Operations the registry
// does not know are let through.
func (t *Transport) checkOperation(h *header.SecondaryHeader) error {
	if t.registry == nil {
		return nil
	}
	op, err := t.registry.Operation(h.Area, h.AreaVersion, h.Service, h.Operation)
	if err != nil {
		t.logger.Debug("Transport %s: %v", t.id, err)
		return nil
	}
	if got := h.SDUType.Interaction(); got != op.Interaction {
		return fmt.Errorf("%w: %s is %s, operation %s is %s",
			ErrInteractionClash, h.SDUType, got, op.Name, op.Interaction)
	}
	return nil
}

// unknownDestination answers messages for endpoints that do not exist
// with a DESTINATION_UNKNOWN error when the interaction has an error
// reply stage, and drops them otherwise.
func (t *Transport) unknownDestination(msg *Message) {
	t.stats.IncrementUnknownDestinations()

	h := msg.Header
	replyType, err := mal.ErrorReplySDU(h.SDUType)
	if err != nil || h.IsError {
		t.logger.Debug("Transport %s: no endpoint %s, dropping %s", t.id, msg.To, msg)
		return
	}
	body, err := t.codec.Encode(mal.ErrorDestinationUnknown, msg.To.URI())
	if err != nil {
		t.logger.Error("Transport %s: encoding error reply: %v", t.id, err)
		return
	}

	reply := h.Clone()
	reply.SDUType = replyType
	reply.IsError = true
	t.logger.Warn("Transport %s: no endpoint %s, replying DESTINATION_UNKNOWN to %s", t.id, msg.To, msg.From)

	// Replies are written off the read loop.
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		err := t.Send(t.ctx, &Message{Header: reply, From: msg.To, To: msg.From, Body: body})
		if err != nil && t.ctx.Err() == nil {
			t.logger.Error("Transport %s: error reply to %s: %v", t.id, msg.From, err)
		}
	}()
}

// AbortReassembly drops the buffered segments of key.
func (t *Transport) AbortReassembly(key SegmentationKey) bool {
	aborted := t.reassembler.Abort(key)
	if aborted {
		t.logger.Info("Transport %s aborted reassembly of %s", t.id, key)
	}
	return aborted
}

// Reassembling returns the number of messages being reassembled.
func (t *Transport) Reassembling() int {
	return t.reassembler.Active()
}

// PendingKeys returns the keys of messages being reassembled.
func (t *Transport) PendingKeys() []SegmentationKey {
	return t.reassembler.Keys()
}

// Statistics returns transport statistics
func (t *Transport) Statistics() *TransportStatistics {
	return t.stats
}

// ChannelStatistics returns the statistics of the underlying channel
func (t *Transport) ChannelStatistics() *channel.Statistics {
	return t.channel.GetStatistics()
}

// PhysicalStatistics returns the statistics of the physical channel
func (t *Transport) PhysicalStatistics() channel.TransportStats {
	return t.channel.GetPhysicalStatistics()
}

// String returns string representation of the transport
func (t *Transport) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fmt.Sprintf("Transport{ID=%s, Open=%t, Endpoints=%d, Reassembling=%d}",
		t.id, t.open, len(t.endpoints), t.reassembler.Active())
}
