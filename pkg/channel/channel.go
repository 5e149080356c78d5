package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"avaneesh/malspp-go/pkg/internal/logger"
	"avaneesh/malspp-go/pkg/spp"
)

var (
	ErrChannelClosed = errors.New("channel is closed")
	ErrChannelOpen   = errors.New("channel is already open")
)

// Lifecycle phases. A channel moves idle -> open -> closed only.
const (
	phaseIdle int32 = iota
	phaseOpen
	phaseClosed
)

// outboxSize bounds the packets waiting for the transmit loop.
const outboxSize = 100

// Channel owns one physical channel. It splits what is read into space
// packets, hands each to the session claiming its APID, and funnels the
// writes of all sessions through a single transmit loop.
type Channel struct {
	id     string
	phys   PhysicalChannel
	crc    bool
	router *Router
	stats  *Statistics
	logger logger.Logger

	phase  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup

	outbox chan outgoing
}

type outgoing struct {
	packet []byte
	result chan<- error
}

// New creates a channel over physical. crc selects whether packets carry
// the packet error control field.
func New(id string, physical PhysicalChannel, crc bool, log logger.Logger) *Channel {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		id:     id,
		phys:   physical,
		crc:    crc,
		router: NewRouter(),
		stats:  NewStatistics(),
		logger: log,
		ctx:    ctx,
		cancel: cancel,
		outbox: make(chan outgoing, outboxSize),
	}
}

// ID returns the channel ID
func (c *Channel) ID() string {
	return c.id
}

// PacketErrorControl reports whether packets carry a CRC
func (c *Channel) PacketErrorControl() bool {
	return c.crc
}

// Open starts the receive and transmit loops. A channel opens once.
func (c *Channel) Open() error {
	if !c.phase.CompareAndSwap(phaseIdle, phaseOpen) {
		if c.phase.Load() == phaseOpen {
			return ErrChannelOpen
		}
		return ErrChannelClosed
	}

	c.loops.Add(2)
	go c.receive()
	go c.transmit()

	c.logger.Info("Channel %s: open over %T (crc=%v)", c.id, c.phys, c.crc)
	return nil
}

// Close stops both loops and closes the physical channel. Pending writes
// fail with ErrChannelClosed.
func (c *Channel) Close() error {
	prev := c.phase.Swap(phaseClosed)
	if prev == phaseClosed {
		return nil
	}
	c.cancel()
	if prev == phaseIdle {
		return c.phys.Close()
	}

	if err := c.phys.Close(); err != nil {
		c.logger.Warn("Channel %s: closing physical channel: %v", c.id, err)
	}
	c.loops.Wait()
	c.logger.Info("Channel %s: closed", c.id)
	return nil
}

func (c *Channel) receive() {
	defer c.loops.Done()

	for c.ctx.Err() == nil {
		data, err := c.phys.Read(c.ctx)
		switch {
		case err == nil:
			c.dispatch(data)
		case c.ctx.Err() != nil, errors.Is(err, ErrChannelClosed):
			return
		default:
			c.logger.Error("Channel %s: read failed: %v", c.id, err)
			c.stats.BadPacket()
		}
	}
}

// dispatch routes every packet in data. Parsing stops at the first bad
// packet since nothing after it can be framed.
func (c *Channel) dispatch(data []byte) {
	for len(data) > 0 {
		pkt, n, err := spp.Parse(data, c.crc)
		if err != nil {
			if errors.Is(err, spp.ErrInvalidCRC) {
				c.stats.CRCError()
			}
			c.stats.BadPacket()
			c.logger.Warn("Channel %s: dropping %d bytes: %v", c.id, len(data), err)
			return
		}
		logger.DumpPacket(c.logger, "RX", data[:n])
		data = data[n:]

		c.stats.PacketRx()
		c.route(pkt)
	}
}

func (c *Channel) route(pkt *spp.Packet) {
	err := c.router.Route(pkt)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoSession):
		c.stats.UnroutedPacket()
		c.logger.Debug("Channel %s: %v", c.id, err)
	default:
		c.stats.SessionError()
		c.logger.Debug("Channel %s: APID %d: %v", c.id, pkt.APID, err)
	}
}

func (c *Channel) transmit() {
	defer c.loops.Done()

	for {
		select {
		case out := <-c.outbox:
			out.result <- c.send(out.packet)
		case <-c.ctx.Done():
			for {
				select {
				case out := <-c.outbox:
					out.result <- ErrChannelClosed
				default:
					return
				}
			}
		}
	}
}

func (c *Channel) send(packet []byte) error {
	logger.DumpPacket(c.logger, "TX", packet)
	if err := c.phys.Write(c.ctx, packet); err != nil {
		c.logger.Error("Channel %s: write failed: %v", c.id, err)
		return err
	}
	c.stats.PacketTx()
	return nil
}

// Write queues one serialized packet and waits until the transmit loop
// has written it.
func (c *Channel) Write(ctx context.Context, packet []byte) error {
	if c.phase.Load() != phaseOpen {
		return ErrChannelClosed
	}

	result := make(chan error, 1)
	select {
	case c.outbox <- outgoing{packet: packet, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrChannelClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrChannelClosed
	}
}

// WritePacket implements the transport's packet writer
func (c *Channel) WritePacket(ctx context.Context, packet []byte) error {
	return c.Write(ctx, packet)
}

// AddSession registers session with the router
func (c *Channel) AddSession(session Session) error {
	if err := c.router.AddSession(session); err != nil {
		return err
	}
	c.stats.SetActiveSessions(uint64(c.router.GetSessionCount()))

	if apids := session.APIDs(); len(apids) > 0 {
		c.logger.Info("Channel %s: session %s claims APIDs %v", c.id, session.Name(), apids)
	} else {
		c.logger.Info("Channel %s: session %s is the default", c.id, session.Name())
	}
	return nil
}

// RemoveSession unregisters session
func (c *Channel) RemoveSession(session Session) {
	c.router.RemoveSession(session)
	c.stats.SetActiveSessions(uint64(c.router.GetSessionCount()))
	c.logger.Info("Channel %s: session %s removed", c.id, session.Name())
}

// GetStatistics returns channel statistics
func (c *Channel) GetStatistics() *Statistics {
	return c.stats
}

// GetPhysicalStatistics returns the physical channel's counters
func (c *Channel) GetPhysicalStatistics() TransportStats {
	return c.phys.Statistics()
}

// State reports whether the loops are running
func (c *Channel) State() ChannelState {
	if c.phase.Load() == phaseOpen {
		return ChannelStateOpen
	}
	return ChannelStateClosed
}

func (c *Channel) String() string {
	return fmt.Sprintf("Channel{ID=%s, State=%s, Sessions=%d}",
		c.id, c.State(), c.router.GetSessionCount())
}
