package channel

import "sync/atomic"

// Statistics tracks channel-level statistics
type Statistics struct {
	// Packet layer statistics
	numPacketsTx    uint64
	numPacketsRx    uint64
	numBadPackets   uint64
	numCRCErrors    uint64
	numUnroutedRx   uint64
	numSessionError uint64

	// Session statistics
	numActiveSessions uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// PacketTx increments transmitted packets
func (s *Statistics) PacketTx() {
	atomic.AddUint64(&s.numPacketsTx, 1)
}

// PacketRx increments received packets
func (s *Statistics) PacketRx() {
	atomic.AddUint64(&s.numPacketsRx, 1)
}

// BadPacket increments packets that failed to parse
func (s *Statistics) BadPacket() {
	atomic.AddUint64(&s.numBadPackets, 1)
}

// CRCError increments CRC errors
func (s *Statistics) CRCError() {
	atomic.AddUint64(&s.numCRCErrors, 1)
}

// UnroutedPacket increments packets no session claimed
func (s *Statistics) UnroutedPacket() {
	atomic.AddUint64(&s.numUnroutedRx, 1)
}

// SessionError increments packets a session rejected
func (s *Statistics) SessionError() {
	atomic.AddUint64(&s.numSessionError, 1)
}

// SetActiveSessions sets the number of active sessions
func (s *Statistics) SetActiveSessions(count uint64) {
	atomic.StoreUint64(&s.numActiveSessions, count)
}

// GetPacketsTx returns transmitted packets
func (s *Statistics) GetPacketsTx() uint64 {
	return atomic.LoadUint64(&s.numPacketsTx)
}

// GetPacketsRx returns received packets
func (s *Statistics) GetPacketsRx() uint64 {
	return atomic.LoadUint64(&s.numPacketsRx)
}

// GetBadPackets returns packets that failed to parse
func (s *Statistics) GetBadPackets() uint64 {
	return atomic.LoadUint64(&s.numBadPackets)
}

// GetCRCErrors returns CRC errors
func (s *Statistics) GetCRCErrors() uint64 {
	return atomic.LoadUint64(&s.numCRCErrors)
}

// GetUnroutedPackets returns packets no session claimed
func (s *Statistics) GetUnroutedPackets() uint64 {
	return atomic.LoadUint64(&s.numUnroutedRx)
}

// GetSessionErrors returns packets a session rejected
func (s *Statistics) GetSessionErrors() uint64 {
	return atomic.LoadUint64(&s.numSessionError)
}

// GetActiveSessions returns the number of active sessions
func (s *Statistics) GetActiveSessions() uint64 {
	return atomic.LoadUint64(&s.numActiveSessions)
}

// Reset resets all statistics except active sessions
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numPacketsTx, 0)
	atomic.StoreUint64(&s.numPacketsRx, 0)
	atomic.StoreUint64(&s.numBadPackets, 0)
	atomic.StoreUint64(&s.numCRCErrors, 0)
	atomic.StoreUint64(&s.numUnroutedRx, 0)
	atomic.StoreUint64(&s.numSessionError, 0)
}

// linkCounters are the byte and error counters kept by physical channels.
type linkCounters struct {
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	writeErrors   atomic.Uint64
	readErrors    atomic.Uint64
	connects      atomic.Uint64
	disconnects   atomic.Uint64
}

func (c *linkCounters) snapshot() TransportStats {
	return TransportStats{
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
		WriteErrors:   c.writeErrors.Load(),
		ReadErrors:    c.readErrors.Load(),
		Connects:      c.connects.Load(),
		Disconnects:   c.disconnects.Load(),
	}
}
